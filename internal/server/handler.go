package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kinoscope/companion/internal/catalog"
	"github.com/kinoscope/companion/internal/catalog/cache"
	"github.com/kinoscope/companion/internal/config"
	"github.com/kinoscope/companion/internal/metrics"
	"github.com/kinoscope/companion/internal/route"
	"github.com/kinoscope/companion/internal/stremio"
	"github.com/kinoscope/companion/internal/token"
)

// HandlerOptions collects the collaborators the addon handler dispatches to.
type HandlerOptions struct {
	Codec     *token.Codec
	Paginator *catalog.Paginator
	Catalogs  *config.CatalogSet
	Store     cache.Store
	Addon     config.AddonConfig
	// EnableFeeds controls whether feed catalogs appear in manifests.
	EnableFeeds bool
	// MaxResults is the page size used when a token does not set its own.
	MaxResults int
	Logger     *slog.Logger
	Metrics    *metrics.Recorder
}

// Handler serves the addon surface: manifests, catalog pages, searches, and
// the health probe.
type Handler struct {
	codec       *token.Codec
	paginator   *catalog.Paginator
	catalogs    *config.CatalogSet
	store       cache.Store
	addon       config.AddonConfig
	enableFeeds bool
	maxResults  int
	logger      *slog.Logger
	metrics     *metrics.Recorder
}

// NewHandler validates the wiring and returns the addon handler.
func NewHandler(opts HandlerOptions) (*Handler, error) {
	if opts.Codec == nil {
		return nil, errors.New("server: codec required")
	}
	if opts.Paginator == nil {
		return nil, errors.New("server: paginator required")
	}
	if opts.Catalogs == nil {
		return nil, errors.New("server: catalog set required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = 10
	}
	return &Handler{
		codec:       opts.Codec,
		paginator:   opts.Paginator,
		catalogs:    opts.Catalogs,
		store:       opts.Store,
		addon:       opts.Addon,
		enableFeeds: opts.EnableFeeds,
		maxResults:  maxResults,
		logger:      logger.With(slog.String("agent", "handler")),
		metrics:     opts.Metrics,
	}, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	// EscapedPath keeps percent-encoded search text intact; the route parser
	// owns the decode so the raw query survives slashes and spaces.
	path := r.URL.EscapedPath()
	switch strings.Trim(path, "/") {
	case "health", "healthz":
		h.serveHealth(w, r)
	default:
		h.serveAddon(w, r, path)
	}
}

func (h *Handler) serveHealth(w http.ResponseWriter, r *http.Request) {
	payload := map[string]string{"status": "ok", "cache": "ok"}
	if h.store != nil {
		if err := h.store.Ping(r.Context()); err != nil {
			payload["cache"] = "degraded"
		}
	}
	h.writeJSON(w, http.StatusOK, payload)
}

func (h *Handler) serveAddon(w http.ResponseWriter, r *http.Request, path string) {
	start := time.Now()
	status := http.StatusOK
	resource := "unknown"
	contentType := ""
	defer func() {
		h.metrics.ObserveRequest(resource, contentType, status, time.Since(start))
	}()

	req, err := route.Parse(path)
	if err != nil {
		status = http.StatusNotFound
		h.logger.Debug("rejecting unroutable path", slog.String("path", path), slog.Any("error", err))
		h.writeError(w, status, "not found")
		return
	}
	resource = string(req.Resource)
	contentType = string(req.ContentType)

	cfg, err := h.codec.Decode(req.Token)
	if err != nil {
		status = http.StatusBadRequest
		var fieldErr *token.FieldError
		switch {
		case errors.As(err, &fieldErr):
			h.metrics.ObserveTokenDecode(metrics.TokenDecodeInvalidConfig)
			h.writeError(w, status, fmt.Sprintf("invalid configuration field %s: %s", fieldErr.Field, fieldErr.Reason))
		default:
			h.metrics.ObserveTokenDecode(metrics.TokenDecodeInvalidToken)
			h.writeError(w, status, "invalid configuration token")
		}
		return
	}
	h.metrics.ObserveTokenDecode(metrics.TokenDecodeOK)

	switch req.Resource {
	case route.ResourceManifest:
		h.serveManifest(w, req, cfg)
	case route.ResourceCatalog:
		status = h.serveCatalog(r.Context(), w, req, cfg)
	default:
		status = http.StatusNotFound
		h.writeError(w, status, "not found")
	}
}

func (h *Handler) serveManifest(w http.ResponseWriter, req route.Request, cfg token.UserConfig) {
	var types []stremio.ContentType
	if !req.Combined {
		types = []stremio.ContentType{req.ContentType}
	}
	manifest := stremio.BuildManifest(stremio.ManifestOptions{
		AddonID:     h.addon.ID,
		Version:     h.addon.Version,
		Types:       types,
		MovieFeeds:  h.feedsFor(cfg.MovieCatalogs),
		SeriesFeeds: h.feedsFor(cfg.SeriesCatalogs),
	})
	h.writeJSON(w, http.StatusOK, manifest)
}

// feedsFor resolves a token's catalog selection against the active feed
// definitions. A nil selection means every feed; an explicit list filters.
func (h *Handler) feedsFor(selection []string) []stremio.FeedCatalog {
	if !h.enableFeeds {
		return nil
	}
	var allowed map[string]struct{}
	if selection != nil {
		allowed = make(map[string]struct{}, len(selection))
		for _, id := range selection {
			allowed[id] = struct{}{}
		}
	}
	defs := h.catalogs.All()
	feeds := make([]stremio.FeedCatalog, 0, len(defs))
	for _, def := range defs {
		if allowed != nil {
			if _, ok := allowed[def.ID]; !ok {
				continue
			}
		}
		feeds = append(feeds, stremio.FeedCatalog{ID: def.ID, Title: def.Title})
	}
	return feeds
}

func (h *Handler) serveCatalog(ctx context.Context, w http.ResponseWriter, req route.Request, cfg token.UserConfig) int {
	limit := cfg.MaxResults
	if limit <= 0 {
		limit = h.maxResults
	}
	adult := req.Adult && cfg.IncludeAdult
	lang := cfg.Language

	var metas []stremio.Meta
	var err error
	if req.Search != "" {
		metas, err = h.searchCatalog(ctx, req, cfg, adult, lang, limit)
	} else {
		metas, err = h.feedCatalog(ctx, req, cfg, adult, lang, limit)
	}

	switch {
	case err == nil:
	case errors.Is(err, catalog.ErrGenerateTimeout):
		h.writeError(w, http.StatusGatewayTimeout, "catalog generation timed out")
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		// Client gone; nothing useful to write.
		return http.StatusOK
	default:
		// Upstream trouble degrades to an empty page rather than an error
		// the client would surface to the user.
		h.logger.Error("catalog request degraded",
			slog.String("catalog", req.CatalogID), slog.Any("error", err))
		metas = nil
	}

	if metas == nil {
		metas = []stremio.Meta{}
	}
	h.writeJSON(w, http.StatusOK, stremio.Response{Metas: metas})
	return http.StatusOK
}

func (h *Handler) searchCatalog(ctx context.Context, req route.Request, cfg token.UserConfig, adult bool, lang string, limit int) ([]stremio.Meta, error) {
	// A search naming the other content family returns nothing rather than
	// cross-family results on both endpoints.
	if intent, ok := catalog.DetectIntent(req.Search); ok && intent != req.ContentType {
		return nil, nil
	}
	key, ok := catalog.SearchKey(req.ContentType, adult, lang, req.Search)
	if !ok {
		return nil, nil
	}
	return h.paginator.Search(ctx, catalog.SearchRequest{
		Key:          key,
		ContentType:  req.ContentType,
		Query:        req.Search,
		IncludeAdult: adult,
		Config:       cfg,
	}, limit)
}

func (h *Handler) feedCatalog(ctx context.Context, req route.Request, cfg token.UserConfig, adult bool, lang string, limit int) ([]stremio.Meta, error) {
	def, ok := h.resolveDefinition(req.CatalogID, req.ContentType)
	if !ok {
		return nil, nil
	}
	return h.paginator.FeedPage(ctx, catalog.FeedRequest{
		Key:          catalog.FeedKey(def.ID, req.ContentType, adult, lang),
		ContentType:  req.ContentType,
		Prompt:       def.Prompt,
		IncludeAdult: adult,
		Config:       cfg,
		TTL:          time.Duration(def.TTLSeconds) * time.Second,
	}, req.Skip, limit)
}

// resolveDefinition maps a manifest catalog id back onto a feed definition.
// Manifest ids carry a content-type suffix, and the discovery catalog id
// resolves to the trending feed when listed without a search.
func (h *Handler) resolveDefinition(catalogID string, ct stremio.ContentType) (config.CatalogDefinition, bool) {
	id := strings.TrimSuffix(catalogID, "_"+string(ct))
	if def, ok := h.catalogs.Lookup(id); ok {
		return def, true
	}
	return h.catalogs.Lookup("trending")
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("response encoding failed", slog.Any("error", err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
