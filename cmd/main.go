package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kinoscope/companion/internal/catalog"
	"github.com/kinoscope/companion/internal/catalog/cache"
	"github.com/kinoscope/companion/internal/config"
	"github.com/kinoscope/companion/internal/generate"
	"github.com/kinoscope/companion/internal/logging"
	"github.com/kinoscope/companion/internal/metrics"
	"github.com/kinoscope/companion/internal/server"
	"github.com/kinoscope/companion/internal/token"
)

func main() {
	var (
		configFile = flag.String("config", "", "path to server configuration file")
		envPrefix  = flag.String("env-prefix", "COMPANION", "environment variable prefix")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader := config.NewLoader(*envPrefix, *configFile)
	cfg, err := loader.Load(ctx)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Server.Logging)
	if err != nil {
		log.Fatalf("failed to configure logger: %v", err)
	}

	app, err := buildApplication(ctx, cfg, logger)
	if err != nil {
		logger.Error("application wiring failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		app.Close(shutdownCtx, logger)
	}()

	srv, err := server.New(cfg, logger, app.mux)
	if err != nil {
		logger.Error("unable to construct server", slog.Any("error", err))
		os.Exit(1)
	}

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server terminated unexpectedly", slog.Any("error", err))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger.Info("server shutdown complete")
}

// application bundles the wired components so shutdown can release them in
// order.
type application struct {
	mux     *http.ServeMux
	store   cache.Store
	watcher *config.CatalogsWatcher
}

// buildApplication assembles every component from configuration: cache
// backend, token codec, paginator, catalog definitions (optionally watched),
// metrics, and the addon handler.
func buildApplication(ctx context.Context, cfg config.Config, logger *slog.Logger) (*application, error) {
	recorder := metrics.NewRecorder(prometheus.NewRegistry())

	store := buildStore(logger.With(slog.String("agent", "cache_factory")), cfg.Server.Cache)

	codec, err := token.NewCodec(cfg.Server.Token.Secret)
	if err != nil {
		return nil, err
	}

	generator, err := buildGenerator(cfg.Server.Generation, logger)
	if err != nil {
		return nil, err
	}

	paginator, err := catalog.New(catalog.Options{
		Store:           store,
		Generator:       generator,
		Logger:          logger,
		Metrics:         recorder,
		MaxEntries:      cfg.Server.Cache.MaxCatalogEntries,
		BatchSize:       cfg.Server.Generation.MaxResults,
		SearchTTL:       cfg.Server.Cache.SearchTTL(),
		FeedTTL:         cfg.Server.Cache.CatalogTTL(),
		GenerateTimeout: cfg.Server.Generation.Timeout(),
		FollowerWait:    cfg.Server.Cache.FollowerWait(),
	})
	if err != nil {
		return nil, err
	}

	catalogSet := config.NewCatalogSet(nil)
	var watcher *config.CatalogsWatcher
	if cfg.Server.Catalogs.Folder != "" {
		watcher, err = config.WatchCatalogs(ctx, cfg.Server.Catalogs, func(bundle config.CatalogBundle) {
			catalogSet.Replace(bundle.Definitions)
			for _, skip := range bundle.Skipped {
				logger.Warn("catalog definition skipped",
					slog.String("id", skip.ID),
					slog.String("reason", skip.Reason),
					slog.String("source", skip.Source))
			}
			logger.Info("catalog definitions loaded",
				slog.Int("count", len(bundle.Definitions)),
				slog.Int("sources", len(bundle.Sources)))
		}, func(err error) {
			logger.Error("catalogs watcher error", slog.Any("error", err))
		})
		if err != nil {
			return nil, err
		}
	} else {
		bundle, err := config.LoadCatalogs(ctx, cfg.Server.Catalogs)
		if err != nil {
			return nil, err
		}
		catalogSet.Replace(bundle.Definitions)
	}

	handler, err := server.NewHandler(server.HandlerOptions{
		Codec:       codec,
		Paginator:   paginator,
		Catalogs:    catalogSet,
		Store:       store,
		Addon:       cfg.Server.Addon,
		EnableFeeds: cfg.Server.Catalogs.EnableFeeds,
		MaxResults:  cfg.Server.Generation.MaxResults,
		Logger:      logger,
		Metrics:     recorder,
	})
	if err != nil {
		if watcher != nil {
			watcher.Stop()
		}
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", recorder.Handler())
	mux.Handle("/", handler)

	return &application{mux: mux, store: store, watcher: watcher}, nil
}

// Close stops the watcher before the store so reloads never race a closed
// backend.
func (a *application) Close(ctx context.Context, logger *slog.Logger) {
	a.watcher.Stop()
	if err := a.store.Close(ctx); err != nil {
		logger.Error("cache shutdown failed", slog.Any("error", err))
	}
}

// buildStore selects the cache backend. A failing shared backend degrades to
// the process-local store rather than refusing to start; the host just loses
// cross-worker cache consistency until the backend returns.
func buildStore(logger *slog.Logger, cfg config.CacheConfig) cache.Store {
	backend := strings.TrimSpace(strings.ToLower(cfg.Backend))
	switch backend {
	case "", "memory":
		logger.Info("using memory catalog cache")
		return cache.NewMemory()
	case "valkey", "redis":
		store, err := cache.NewValkey(cache.ValkeyConfig{
			Address:  cfg.Valkey.Address,
			Username: cfg.Valkey.Username,
			Password: cfg.Valkey.Password,
			DB:       cfg.Valkey.DB,
			TLS: cache.ValkeyTLSConfig{
				Enabled: cfg.Valkey.TLS.Enabled,
				CAFile:  cfg.Valkey.TLS.CAFile,
			},
		})
		if err != nil {
			logger.Error("valkey cache initialization failed", slog.Any("error", err))
			logger.Info("falling back to memory cache")
			return cache.NewMemory()
		}
		logger.Info("using valkey catalog cache", slog.String("address", cfg.Valkey.Address))
		return store
	default:
		logger.Warn("unsupported cache backend, defaulting to memory", slog.String("backend", cfg.Backend))
		return cache.NewMemory()
	}
}

func buildGenerator(cfg config.GenerationConfig, logger *slog.Logger) (catalog.Generator, error) {
	if cfg.Endpoint == "" {
		logger.Warn("no generation endpoint configured; catalogs serve cached results only")
		return generate.Unconfigured(), nil
	}
	return generate.NewClient(cfg.Endpoint, logger)
}
