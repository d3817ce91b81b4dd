package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func gather(t *testing.T, rec *Recorder, name string) []*dto.Metric {
	t.Helper()
	families, err := rec.Gatherer().Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() == name {
			return family.GetMetric()
		}
	}
	return nil
}

func labelValue(metric *dto.Metric, name string) string {
	for _, pair := range metric.GetLabel() {
		if pair.GetName() == name {
			return pair.GetValue()
		}
	}
	return ""
}

func TestRecorderObserveRequest(t *testing.T) {
	rec := NewRecorder(prometheus.NewRegistry())

	rec.ObserveRequest("catalog", "movie", 200, 120*time.Millisecond)
	rec.ObserveRequest("catalog", "movie", 200, 80*time.Millisecond)
	rec.ObserveRequest("manifest", "", 400, time.Millisecond)

	metrics := gather(t, rec, "companion_catalog_requests_total")
	require.Len(t, metrics, 2)

	for _, metric := range metrics {
		switch labelValue(metric, "resource") {
		case "catalog":
			require.Equal(t, float64(2), metric.GetCounter().GetValue())
			require.Equal(t, "movie", labelValue(metric, "content_type"))
		case "manifest":
			require.Equal(t, float64(1), metric.GetCounter().GetValue())
			// Empty content type is normalized, never an empty label.
			require.Equal(t, "unknown", labelValue(metric, "content_type"))
		default:
			t.Fatalf("unexpected resource label: %v", metric)
		}
	}
}

func TestRecorderObserveCacheAndGeneration(t *testing.T) {
	rec := NewRecorder(nil)

	rec.ObserveCacheLookup("feed", CacheLookupHit, time.Millisecond)
	rec.ObserveCacheLookup("feed", CacheLookupMiss, time.Millisecond)
	rec.ObserveCacheStore("search", CacheStoreStored, time.Millisecond)
	rec.ObserveGeneration("movie", GenerationOK, 3*time.Second)
	rec.ObserveGeneration("movie", GenerationTimeout, 30*time.Second)
	rec.ObserveTokenDecode(TokenDecodeInvalidToken)

	ops := gather(t, rec, "companion_cache_operations_total")
	require.Len(t, ops, 3)

	gen := gather(t, rec, "companion_generation_duration_seconds")
	require.Len(t, gen, 2)

	decodes := gather(t, rec, "companion_token_decodes_total")
	require.Len(t, decodes, 1)
	require.Equal(t, "invalid_token", labelValue(decodes[0], "outcome"))
}

func TestRecorderNilSafe(t *testing.T) {
	var rec *Recorder
	rec.ObserveRequest("catalog", "movie", 200, time.Second)
	rec.ObserveCacheLookup("feed", CacheLookupHit, time.Second)
	rec.ObserveCacheStore("feed", CacheStoreStored, time.Second)
	rec.ObserveGeneration("movie", GenerationOK, time.Second)
	rec.ObserveTokenDecode(TokenDecodeOK)
	require.NotNil(t, rec.Handler())
	require.NotNil(t, rec.Gatherer())
}
