// Package catalog turns expensive generative lookups into a stable, paginated
// collection. Feed catalogs are materialized append-only sequences paginated
// by slicing; explicit searches are cached whole batches with their own TTL.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kinoscope/companion/internal/catalog/cache"
	"github.com/kinoscope/companion/internal/metrics"
	"github.com/kinoscope/companion/internal/stremio"
	"github.com/kinoscope/companion/internal/token"
)

// ErrGenerateTimeout marks a generation call that exceeded the request
// deadline. It is surfaced as a server timeout rather than retried.
var ErrGenerateTimeout = errors.New("catalog: generation timed out")

// GenerateRequest is handed to the generation collaborator for one batch.
type GenerateRequest struct {
	ContentType stremio.ContentType
	// Prompt is the catalog prompt or the raw user search text.
	Prompt string
	// Exclude lists titles already materialized for the target sequence so
	// the collaborator can avoid duplicating them.
	Exclude      []string
	MaxResults   int
	IncludeAdult bool
	// Config supplies the provider credentials the collaborator needs. It
	// never participates in cache keys.
	Config token.UserConfig
}

// Generator produces an ordered batch of content items for a catalog or
// query. Implementations live outside this package.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) ([]stremio.Meta, error)
}

// FeedRequest identifies one feed catalog page lookup.
type FeedRequest struct {
	Key          Key
	ContentType  stremio.ContentType
	Prompt       string
	IncludeAdult bool
	Config       token.UserConfig
	// TTL bounds how long the materialized sequence is retained. Zero
	// falls back to the paginator's feed TTL.
	TTL time.Duration
}

// SearchRequest identifies one explicit search lookup.
type SearchRequest struct {
	Key          Key
	ContentType  stremio.ContentType
	Query        string
	IncludeAdult bool
	Config       token.UserConfig
}

// Options configures a Paginator. Zero values fall back to the defaults
// below.
type Options struct {
	Store     cache.Store
	Generator Generator
	Logger    *slog.Logger
	Metrics   *metrics.Recorder

	// MaxEntries caps how many items one feed key may materialize.
	MaxEntries int
	// BatchSize is how many items one feed generation call requests.
	BatchSize int
	// SearchTTL bounds how long an explicit search batch is retained.
	SearchTTL time.Duration
	// FeedTTL bounds how long a materialized feed sequence is retained
	// when its definition does not set its own TTL.
	FeedTTL time.Duration
	// GenerateTimeout bounds each generation collaborator call.
	GenerateTimeout time.Duration
	// FollowerWait bounds how long a request waits on another request's
	// in-flight generation before falling through to a direct call.
	FollowerWait time.Duration
}

const (
	defaultMaxEntries      = 100
	defaultBatchSize       = 10
	defaultSearchTTL       = 4 * time.Hour
	defaultFeedTTL         = 24 * time.Hour
	defaultGenerateTimeout = 60 * time.Second
	defaultFollowerWait    = 2 * time.Second
)

// Paginator resolves catalog pages against the cache store, generating
// through the collaborator only when the materialized sequence cannot satisfy
// the request.
type Paginator struct {
	store   cache.Store
	gen     Generator
	logger  *slog.Logger
	metrics *metrics.Recorder

	maxEntries      int
	batchSize       int
	searchTTL       time.Duration
	feedTTL         time.Duration
	generateTimeout time.Duration
	followerWait    time.Duration

	group    singleflight.Group
	inflight sync.Map
}

// New constructs a Paginator, applying defaults for unset options.
func New(opts Options) (*Paginator, error) {
	if opts.Store == nil {
		return nil, errors.New("catalog: store required")
	}
	if opts.Generator == nil {
		return nil, errors.New("catalog: generator required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	p := &Paginator{
		store:           opts.Store,
		gen:             opts.Generator,
		logger:          logger.With(slog.String("agent", "paginator")),
		metrics:         opts.Metrics,
		maxEntries:      opts.MaxEntries,
		batchSize:       opts.BatchSize,
		searchTTL:       opts.SearchTTL,
		feedTTL:         opts.FeedTTL,
		generateTimeout: opts.GenerateTimeout,
		followerWait:    opts.FollowerWait,
	}
	if p.maxEntries <= 0 {
		p.maxEntries = defaultMaxEntries
	}
	if p.batchSize <= 0 {
		p.batchSize = defaultBatchSize
	}
	if p.searchTTL <= 0 {
		p.searchTTL = defaultSearchTTL
	}
	if p.feedTTL <= 0 {
		p.feedTTL = defaultFeedTTL
	}
	if p.generateTimeout <= 0 {
		p.generateTimeout = defaultGenerateTimeout
	}
	if p.followerWait <= 0 {
		p.followerWait = defaultFollowerWait
	}
	return p, nil
}

// FeedPage resolves the slice [skip, skip+limit) of the materialized sequence
// for req.Key. Pagination is a stable view over one sequence: pages are never
// independently regenerated, so items cannot duplicate or vanish between
// pages. Requests beyond the materialized window return the available
// remainder without triggering generation.
func (p *Paginator) FeedPage(ctx context.Context, req FeedRequest, skip, limit int) ([]stremio.Meta, error) {
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 {
		limit = p.batchSize
	}

	items := p.loadFeed(ctx, req.Key)

	if len(items) >= skip+limit {
		return items[skip : skip+limit], nil
	}
	if skip > 0 {
		// Bounded-list policy: never regenerate mid-sequence. Return
		// whatever remains past skip, possibly nothing.
		if skip >= len(items) {
			return nil, nil
		}
		return items[skip:], nil
	}
	if len(items) >= p.maxEntries {
		return pageOf(items, 0, limit), nil
	}

	merged, err := p.generateFeed(ctx, req, items)
	if err != nil {
		if errors.Is(err, ErrGenerateTimeout) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		// Upstream failures degrade to the materialized items rather
		// than failing the request.
		p.logger.Error("feed generation failed",
			slog.String("key", string(req.Key)), slog.Any("error", err))
		return pageOf(items, 0, limit), nil
	}
	return pageOf(merged, 0, limit), nil
}

// Search resolves an explicit search query. Hits return the cached batch
// verbatim; misses generate once and retain the batch for the search TTL.
func (p *Paginator) Search(ctx context.Context, req SearchRequest, limit int) ([]stremio.Meta, error) {
	if limit <= 0 {
		limit = p.batchSize
	}

	lookupStart := time.Now()
	payload, ok, err := p.store.Get(ctx, string(req.Key))
	switch {
	case err != nil:
		p.metrics.ObserveCacheLookup("search", metrics.CacheLookupError, time.Since(lookupStart))
		p.logger.Warn("search cache lookup failed, treating as miss",
			slog.String("key", string(req.Key)), slog.Any("error", err))
	case ok:
		var metas []stremio.Meta
		if err := json.Unmarshal(payload, &metas); err == nil && len(metas) > 0 {
			p.metrics.ObserveCacheLookup("search", metrics.CacheLookupHit, time.Since(lookupStart))
			return pageOf(metas, 0, limit), nil
		}
		p.metrics.ObserveCacheLookup("search", metrics.CacheLookupMiss, time.Since(lookupStart))
	default:
		p.metrics.ObserveCacheLookup("search", metrics.CacheLookupMiss, time.Since(lookupStart))
	}

	greq := GenerateRequest{
		ContentType:  req.ContentType,
		Prompt:       req.Query,
		MaxResults:   limit,
		IncludeAdult: req.IncludeAdult,
		Config:       req.Config,
	}
	metas, joined, err := p.sharedGenerate(ctx, "search:"+string(req.Key), func(genCtx context.Context) ([]stremio.Meta, error) {
		metas, err := p.generate(genCtx, greq)
		if err != nil {
			return nil, err
		}
		p.storeSearch(genCtx, req.Key, metas)
		return metas, nil
	})
	if err != nil {
		return nil, err
	}
	if !joined {
		// Follower wait exceeded: direct uncached call bounds the added
		// latency without serializing all traffic behind the leader.
		if metas, err = p.generate(ctx, greq); err != nil {
			return nil, err
		}
	}
	return pageOf(metas, 0, limit), nil
}

// InvalidateFeeds drops every materialized feed sequence. Administrative use
// only.
func (p *Paginator) InvalidateFeeds(ctx context.Context) error {
	return p.store.DeletePrefix(ctx, "catalog:")
}

func (p *Paginator) loadFeed(ctx context.Context, key Key) []stremio.Meta {
	start := time.Now()
	raw, err := p.store.List(ctx, string(key))
	if err != nil {
		p.metrics.ObserveCacheLookup("feed", metrics.CacheLookupError, time.Since(start))
		p.logger.Warn("feed cache read failed, treating as empty",
			slog.String("key", string(key)), slog.Any("error", err))
		return nil
	}
	items := make([]stremio.Meta, 0, len(raw))
	for _, buf := range raw {
		var meta stremio.Meta
		if err := json.Unmarshal(buf, &meta); err != nil {
			p.logger.Warn("skipping undecodable feed item", slog.String("key", string(key)))
			continue
		}
		items = append(items, meta)
	}
	outcome := metrics.CacheLookupHit
	if len(items) == 0 {
		outcome = metrics.CacheLookupMiss
	}
	p.metrics.ObserveCacheLookup("feed", outcome, time.Since(start))
	return items
}

// generateFeed runs one generation for the key, deduplicates the fresh batch
// against the materialized items, and appends the survivors capped FIFO.
// Concurrent callers share a single in-flight generation per key.
func (p *Paginator) generateFeed(ctx context.Context, req FeedRequest, existing []stremio.Meta) ([]stremio.Meta, error) {
	exclude := make([]string, 0, len(existing))
	for _, meta := range existing {
		exclude = append(exclude, meta.Name)
	}
	greq := GenerateRequest{
		ContentType:  req.ContentType,
		Prompt:       req.Prompt,
		Exclude:      exclude,
		MaxResults:   p.batchSize,
		IncludeAdult: req.IncludeAdult,
		Config:       req.Config,
	}

	ttl := req.TTL
	if ttl <= 0 {
		ttl = p.feedTTL
	}
	merged, joined, err := p.sharedGenerate(ctx, "feed:"+string(req.Key), func(genCtx context.Context) ([]stremio.Meta, error) {
		fresh, err := p.generate(genCtx, greq)
		if err != nil {
			return nil, err
		}
		return p.appendFeed(genCtx, req.Key, ttl, existing, fresh), nil
	})
	if err != nil {
		return nil, err
	}
	if joined {
		return merged, nil
	}
	// Fallthrough after bounded wait: serve a direct result without
	// touching the store; the leader's append wins.
	fresh, err := p.generate(ctx, greq)
	if err != nil {
		return nil, err
	}
	return mergeDedup(existing, fresh, p.maxEntries), nil
}

// sharedGenerate runs fn once per key across concurrent callers. The caller
// that starts the flight waits for its completion; later callers wait at most
// followerWait before reporting joined=false so they can fall through to a
// direct call. The flight runs on a context detached from the caller: a
// client disconnect does not abort generation, and the result still lands in
// the cache for others.
func (p *Paginator) sharedGenerate(ctx context.Context, key string, fn func(context.Context) ([]stremio.Meta, error)) ([]stremio.Meta, bool, error) {
	_, follower := p.inflight.LoadOrStore(key, struct{}{})

	ch := p.group.DoChan(key, func() (any, error) {
		defer p.inflight.Delete(key)
		genCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.generateTimeout)
		defer cancel()
		return fn(genCtx)
	})

	if !follower {
		res := <-ch
		if res.Err != nil {
			return nil, true, res.Err
		}
		return res.Val.([]stremio.Meta), true, nil
	}

	timer := time.NewTimer(p.followerWait)
	defer timer.Stop()
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, true, res.Err
		}
		return res.Val.([]stremio.Meta), true, nil
	case <-timer.C:
		return nil, false, nil
	case <-ctx.Done():
		return nil, true, ctx.Err()
	}
}

// generate invokes the collaborator under the configured deadline and maps
// deadline expiry onto ErrGenerateTimeout.
func (p *Paginator) generate(ctx context.Context, req GenerateRequest) ([]stremio.Meta, error) {
	genCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, p.generateTimeout)
		defer cancel()
	}

	start := time.Now()
	metas, err := p.gen.Generate(genCtx, req)
	elapsed := time.Since(start)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(genCtx.Err(), context.DeadlineExceeded) {
			p.metrics.ObserveGeneration(string(req.ContentType), metrics.GenerationTimeout, elapsed)
			return nil, ErrGenerateTimeout
		}
		p.metrics.ObserveGeneration(string(req.ContentType), metrics.GenerationError, elapsed)
		return nil, fmt.Errorf("catalog: generate: %w", err)
	}
	p.metrics.ObserveGeneration(string(req.ContentType), metrics.GenerationOK, elapsed)
	return metas, nil
}

// appendFeed persists the deduplicated fresh items and returns the merged
// sequence as the store now sees it. Each append refreshes the sequence's
// retention window, mirroring how value entries carry their TTL forward on
// rewrite.
func (p *Paginator) appendFeed(ctx context.Context, key Key, ttl time.Duration, existing, fresh []stremio.Meta) []stremio.Meta {
	seenIDs := make(map[string]struct{}, len(existing))
	seenNames := make(map[string]struct{}, len(existing))
	for _, meta := range existing {
		seenIDs[meta.ID] = struct{}{}
		seenNames[strings.ToLower(meta.Name)] = struct{}{}
	}

	merged := append([]stremio.Meta(nil), existing...)
	for _, meta := range fresh {
		name := strings.ToLower(meta.Name)
		if _, dup := seenIDs[meta.ID]; dup {
			continue
		}
		if _, dup := seenNames[name]; dup {
			continue
		}
		payload, err := json.Marshal(meta)
		if err != nil {
			continue
		}
		storeStart := time.Now()
		if _, err := p.store.AppendCapped(ctx, string(key), payload, p.maxEntries, ttl); err != nil {
			p.metrics.ObserveCacheStore("feed", metrics.CacheStoreError, time.Since(storeStart))
			p.logger.Error("feed cache append failed",
				slog.String("key", string(key)), slog.Any("error", err))
			continue
		}
		p.metrics.ObserveCacheStore("feed", metrics.CacheStoreStored, time.Since(storeStart))
		seenIDs[meta.ID] = struct{}{}
		seenNames[name] = struct{}{}
		merged = append(merged, meta)
	}
	if len(merged) > p.maxEntries {
		merged = merged[len(merged)-p.maxEntries:]
	}
	return merged
}

func (p *Paginator) storeSearch(ctx context.Context, key Key, metas []stremio.Meta) {
	payload, err := json.Marshal(metas)
	if err != nil {
		return
	}
	start := time.Now()
	if err := p.store.Set(ctx, string(key), payload, p.searchTTL); err != nil {
		p.metrics.ObserveCacheStore("search", metrics.CacheStoreError, time.Since(start))
		p.logger.Error("search cache store failed",
			slog.String("key", string(key)), slog.Any("error", err))
		return
	}
	p.metrics.ObserveCacheStore("search", metrics.CacheStoreStored, time.Since(start))
}

func mergeDedup(existing, fresh []stremio.Meta, maxItems int) []stremio.Meta {
	seenIDs := make(map[string]struct{}, len(existing))
	seenNames := make(map[string]struct{}, len(existing))
	merged := append([]stremio.Meta(nil), existing...)
	for _, meta := range existing {
		seenIDs[meta.ID] = struct{}{}
		seenNames[strings.ToLower(meta.Name)] = struct{}{}
	}
	for _, meta := range fresh {
		name := strings.ToLower(meta.Name)
		if _, dup := seenIDs[meta.ID]; dup {
			continue
		}
		if _, dup := seenNames[name]; dup {
			continue
		}
		seenIDs[meta.ID] = struct{}{}
		seenNames[name] = struct{}{}
		merged = append(merged, meta)
	}
	if len(merged) > maxItems {
		merged = merged[len(merged)-maxItems:]
	}
	return merged
}

func pageOf(items []stremio.Meta, skip, limit int) []stremio.Meta {
	if skip >= len(items) {
		return nil
	}
	end := skip + limit
	if end > len(items) {
		end = len(items)
	}
	return items[skip:end]
}
