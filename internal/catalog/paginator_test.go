package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kinoscope/companion/internal/catalog/cache"
	"github.com/kinoscope/companion/internal/stremio"
)

type fakeGenerator struct {
	mu    sync.Mutex
	calls int64
	batch []stremio.Meta
	err   error
	delay time.Duration
}

func (g *fakeGenerator) Generate(ctx context.Context, req GenerateRequest) ([]stremio.Meta, error) {
	atomic.AddInt64(&g.calls, 1)
	if g.delay > 0 {
		select {
		case <-time.After(g.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	out := make([]stremio.Meta, len(g.batch))
	copy(out, g.batch)
	return out, nil
}

func (g *fakeGenerator) callCount() int64 {
	return atomic.LoadInt64(&g.calls)
}

func metaBatch(prefix string, n int) []stremio.Meta {
	batch := make([]stremio.Meta, n)
	for i := range batch {
		batch[i] = stremio.Meta{
			ID:   fmt.Sprintf("tt%s%04d", prefix, i),
			Type: "movie",
			Name: fmt.Sprintf("%s title %d", prefix, i),
		}
	}
	return batch
}

func newTestPaginator(t *testing.T, gen Generator, opts Options) *Paginator {
	t.Helper()
	if opts.Store == nil {
		opts.Store = cache.NewMemory()
	}
	opts.Generator = gen
	p, err := New(opts)
	require.NoError(t, err)
	return p
}

func feedReq(key Key) FeedRequest {
	return FeedRequest{
		Key:         key,
		ContentType: stremio.ContentTypeMovie,
		Prompt:      "Show me what's trending this week",
	}
}

func TestFeedPageGeneratesOnceAndPaginates(t *testing.T) {
	gen := &fakeGenerator{batch: metaBatch("a", 10)}
	p := newTestPaginator(t, gen, Options{BatchSize: 10})
	key := FeedKey("trending", stremio.ContentTypeMovie, false, "en-US")
	ctx := context.Background()

	first, err := p.FeedPage(ctx, feedReq(key), 0, 5)
	require.NoError(t, err)
	require.Len(t, first, 5)
	assert.EqualValues(t, 1, gen.callCount())

	second, err := p.FeedPage(ctx, feedReq(key), 5, 5)
	require.NoError(t, err)
	require.Len(t, second, 5)
	// Page two comes from the same materialized sequence, no regeneration.
	assert.EqualValues(t, 1, gen.callCount())
	assert.Equal(t, gen.batch[5:], second)
}

func TestFeedPageStability(t *testing.T) {
	gen := &fakeGenerator{batch: metaBatch("b", 12)}
	p := newTestPaginator(t, gen, Options{BatchSize: 12})
	key := FeedKey("critics_picks", stremio.ContentTypeMovie, false, "en-US")
	ctx := context.Background()

	full, err := p.FeedPage(ctx, feedReq(key), 0, 12)
	require.NoError(t, err)
	require.Len(t, full, 12)

	for _, k := range []int{1, 3, 4, 6, 12} {
		var pages []stremio.Meta
		for skip := 0; skip < 12; skip += k {
			page, err := p.FeedPage(ctx, feedReq(key), skip, k)
			require.NoError(t, err)
			pages = append(pages, page...)
		}
		assert.Equal(t, full, pages, "page size %d must reassemble the full sequence", k)
	}
	assert.EqualValues(t, 1, gen.callCount())
}

func TestFeedPageBeyondWindowReturnsEmpty(t *testing.T) {
	gen := &fakeGenerator{batch: metaBatch("c", 8)}
	p := newTestPaginator(t, gen, Options{BatchSize: 8})
	key := FeedKey("new_releases", stremio.ContentTypeMovie, false, "en-US")
	ctx := context.Background()

	_, err := p.FeedPage(ctx, feedReq(key), 0, 8)
	require.NoError(t, err)
	require.EqualValues(t, 1, gen.callCount())

	page, err := p.FeedPage(ctx, feedReq(key), 8, 8)
	require.NoError(t, err)
	assert.Empty(t, page)
	page, err = p.FeedPage(ctx, feedReq(key), 50, 8)
	require.NoError(t, err)
	assert.Empty(t, page)
	// Skip past the materialized window never triggers regeneration.
	assert.EqualValues(t, 1, gen.callCount())
}

func TestFeedPagePartialTail(t *testing.T) {
	gen := &fakeGenerator{batch: metaBatch("d", 7)}
	p := newTestPaginator(t, gen, Options{BatchSize: 7})
	key := FeedKey("hidden_gems", stremio.ContentTypeMovie, false, "en-US")
	ctx := context.Background()

	_, err := p.FeedPage(ctx, feedReq(key), 0, 7)
	require.NoError(t, err)

	tail, err := p.FeedPage(ctx, feedReq(key), 5, 5)
	require.NoError(t, err)
	// Only two items remain past skip=5; they are returned as-is.
	assert.Equal(t, gen.batch[5:], tail)
	assert.EqualValues(t, 1, gen.callCount())
}

func TestFeedPageCapEnforcement(t *testing.T) {
	store := cache.NewMemory()
	gen := &fakeGenerator{batch: metaBatch("e", 8)}
	p := newTestPaginator(t, gen, Options{Store: store, BatchSize: 8, MaxEntries: 5})
	key := FeedKey("trending", stremio.ContentTypeMovie, false, "en-US")
	ctx := context.Background()

	page, err := p.FeedPage(ctx, feedReq(key), 0, 8)
	require.NoError(t, err)
	require.Len(t, page, 5)

	items, err := store.List(ctx, string(key))
	require.NoError(t, err)
	require.Len(t, items, 5)
	// The three earliest-appended items fell off the oldest end.
	assert.Equal(t, gen.batch[3:], page)
}

func TestFeedPageDeduplicatesAppends(t *testing.T) {
	store := cache.NewMemory()
	gen := &fakeGenerator{batch: metaBatch("f", 6)}
	p := newTestPaginator(t, gen, Options{Store: store, BatchSize: 12})
	key := FeedKey("trending", stremio.ContentTypeMovie, false, "en-US")
	ctx := context.Background()

	_, err := p.FeedPage(ctx, feedReq(key), 0, 12)
	require.NoError(t, err)
	require.EqualValues(t, 1, gen.callCount())

	// Second generation returns the same six titles; none may duplicate.
	page, err := p.FeedPage(ctx, feedReq(key), 0, 12)
	require.NoError(t, err)
	assert.Len(t, page, 6)
	assert.EqualValues(t, 2, gen.callCount())

	items, err := store.List(ctx, string(key))
	require.NoError(t, err)
	assert.Len(t, items, 6)
}

func TestFeedPageSingleFlight(t *testing.T) {
	gen := &fakeGenerator{batch: metaBatch("g", 10), delay: 100 * time.Millisecond}
	p := newTestPaginator(t, gen, Options{BatchSize: 10, FollowerWait: 2 * time.Second})
	key := FeedKey("trending", stremio.ContentTypeMovie, false, "en-US")

	var wg sync.WaitGroup
	results := make([][]stremio.Meta, 6)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			page, err := p.FeedPage(context.Background(), feedReq(key), 0, 10)
			require.NoError(t, err)
			results[i] = page
		}(i)
	}
	wg.Wait()

	// Concurrent identical requests share one generation call.
	assert.EqualValues(t, 1, gen.callCount())
	for _, page := range results {
		assert.Len(t, page, 10)
	}
}

func TestFeedPageFollowerFallsThrough(t *testing.T) {
	gen := &fakeGenerator{batch: metaBatch("h", 10), delay: 500 * time.Millisecond}
	p := newTestPaginator(t, gen, Options{BatchSize: 10, FollowerWait: 50 * time.Millisecond})
	key := FeedKey("trending", stremio.ContentTypeMovie, false, "en-US")

	var wg sync.WaitGroup
	wg.Add(2)
	start := make(chan struct{})
	launch := func(delay time.Duration) {
		defer wg.Done()
		<-start
		time.Sleep(delay)
		page, err := p.FeedPage(context.Background(), feedReq(key), 0, 10)
		require.NoError(t, err)
		require.Len(t, page, 10)
	}
	go launch(0)
	go launch(100 * time.Millisecond)
	close(start)
	wg.Wait()

	// The follower exceeded its bounded wait and issued a direct call
	// instead of blocking for the leader's full generation.
	assert.EqualValues(t, 2, gen.callCount())
}

func TestFeedPageGenerateTimeout(t *testing.T) {
	gen := &fakeGenerator{batch: metaBatch("i", 5), delay: 300 * time.Millisecond}
	p := newTestPaginator(t, gen, Options{BatchSize: 5, GenerateTimeout: 50 * time.Millisecond})
	key := FeedKey("trending", stremio.ContentTypeMovie, false, "en-US")

	_, err := p.FeedPage(context.Background(), feedReq(key), 0, 5)
	assert.ErrorIs(t, err, ErrGenerateTimeout)
}

func TestFeedPageUpstreamErrorDegrades(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("provider unavailable")}
	p := newTestPaginator(t, gen, Options{BatchSize: 5})
	key := FeedKey("trending", stremio.ContentTypeMovie, false, "en-US")

	page, err := p.FeedPage(context.Background(), feedReq(key), 0, 5)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestFeedPageUpstreamErrorKeepsMaterialized(t *testing.T) {
	gen := &fakeGenerator{batch: metaBatch("j", 3)}
	p := newTestPaginator(t, gen, Options{BatchSize: 5})
	key := FeedKey("trending", stremio.ContentTypeMovie, false, "en-US")
	ctx := context.Background()

	_, err := p.FeedPage(ctx, feedReq(key), 0, 5)
	require.NoError(t, err)

	gen.mu.Lock()
	gen.err = errors.New("provider unavailable")
	gen.mu.Unlock()

	page, err := p.FeedPage(ctx, feedReq(key), 0, 5)
	require.NoError(t, err)
	// The materialized items still serve the page.
	assert.Len(t, page, 3)
}

func TestFeedPageExpiryRegenerates(t *testing.T) {
	gen := &fakeGenerator{batch: metaBatch("o", 5)}
	p := newTestPaginator(t, gen, Options{BatchSize: 5, FeedTTL: 30 * time.Millisecond})
	key := FeedKey("trending", stremio.ContentTypeMovie, false, "en-US")
	ctx := context.Background()

	_, err := p.FeedPage(ctx, feedReq(key), 0, 5)
	require.NoError(t, err)
	require.EqualValues(t, 1, gen.callCount())

	time.Sleep(60 * time.Millisecond)

	// The materialized sequence expired; the next page starts a fresh one.
	page, err := p.FeedPage(ctx, feedReq(key), 0, 5)
	require.NoError(t, err)
	assert.Len(t, page, 5)
	assert.EqualValues(t, 2, gen.callCount())
}

func TestFeedPagePerCatalogTTLOverridesDefault(t *testing.T) {
	gen := &fakeGenerator{batch: metaBatch("p", 5)}
	p := newTestPaginator(t, gen, Options{BatchSize: 5, FeedTTL: time.Hour})
	key := FeedKey("daily_picks", stremio.ContentTypeMovie, false, "en-US")
	ctx := context.Background()

	req := feedReq(key)
	req.TTL = 30 * time.Millisecond

	_, err := p.FeedPage(ctx, req, 0, 5)
	require.NoError(t, err)
	require.EqualValues(t, 1, gen.callCount())

	time.Sleep(60 * time.Millisecond)

	_, err = p.FeedPage(ctx, req, 0, 5)
	require.NoError(t, err)
	assert.EqualValues(t, 2, gen.callCount())
}

func searchReq(key Key, query string) SearchRequest {
	return SearchRequest{
		Key:         key,
		ContentType: stremio.ContentTypeMovie,
		Query:       query,
	}
}

func TestSearchCachesBatch(t *testing.T) {
	gen := &fakeGenerator{batch: metaBatch("k", 6)}
	p := newTestPaginator(t, gen, Options{BatchSize: 6, SearchTTL: time.Minute})
	key, ok := SearchKey(stremio.ContentTypeMovie, false, "en-US", "time travel")
	require.True(t, ok)
	ctx := context.Background()

	first, err := p.Search(ctx, searchReq(key, "time travel"), 6)
	require.NoError(t, err)
	require.Len(t, first, 6)
	assert.EqualValues(t, 1, gen.callCount())

	second, err := p.Search(ctx, searchReq(key, "time travel"), 6)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	// Identical normalized queries inside the TTL window reuse the batch.
	assert.EqualValues(t, 1, gen.callCount())
}

func TestSearchTTLExpiry(t *testing.T) {
	gen := &fakeGenerator{batch: metaBatch("l", 4)}
	p := newTestPaginator(t, gen, Options{BatchSize: 4, SearchTTL: 30 * time.Millisecond})
	key, ok := SearchKey(stremio.ContentTypeMovie, false, "en-US", "heist")
	require.True(t, ok)
	ctx := context.Background()

	_, err := p.Search(ctx, searchReq(key, "heist"), 4)
	require.NoError(t, err)
	require.EqualValues(t, 1, gen.callCount())

	time.Sleep(60 * time.Millisecond)

	_, err = p.Search(ctx, searchReq(key, "heist"), 4)
	require.NoError(t, err)
	assert.EqualValues(t, 2, gen.callCount())
}

func TestSearchTimeout(t *testing.T) {
	gen := &fakeGenerator{batch: metaBatch("m", 4), delay: 300 * time.Millisecond}
	p := newTestPaginator(t, gen, Options{BatchSize: 4, GenerateTimeout: 50 * time.Millisecond})
	key, ok := SearchKey(stremio.ContentTypeMovie, false, "en-US", "noir")
	require.True(t, ok)

	_, err := p.Search(context.Background(), searchReq(key, "noir"), 4)
	assert.ErrorIs(t, err, ErrGenerateTimeout)
}

func TestInvalidateFeeds(t *testing.T) {
	store := cache.NewMemory()
	gen := &fakeGenerator{batch: metaBatch("n", 5)}
	p := newTestPaginator(t, gen, Options{Store: store, BatchSize: 5})
	key := FeedKey("trending", stremio.ContentTypeMovie, false, "en-US")
	ctx := context.Background()

	_, err := p.FeedPage(ctx, feedReq(key), 0, 5)
	require.NoError(t, err)

	require.NoError(t, p.InvalidateFeeds(ctx))

	items, err := store.List(ctx, string(key))
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestNewPaginatorValidation(t *testing.T) {
	_, err := New(Options{Generator: &fakeGenerator{}})
	assert.Error(t, err)
	_, err = New(Options{Store: cache.NewMemory()})
	assert.Error(t, err)
}
