package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	kjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Loader hydrates the runtime configuration while respecting env > file >
// default precedence.
type Loader struct {
	envPrefix string
	files     []string
}

// NewLoader prepares a config hydrator that honors the env-first contract
// before touching files or defaults.
func NewLoader(envPrefix string, files ...string) *Loader {
	return &Loader{
		envPrefix: envPrefix,
		files:     files,
	}
}

// Load assembles the effective snapshot using the documented precedence rules.
func (l *Loader) Load(ctx context.Context) (Config, error) {
	defaultCfg := DefaultConfig()
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(structToMap(defaultCfg), "."), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}

	for _, path := range l.files {
		if path == "" {
			continue
		}
		select {
		case <-ctx.Done():
			return Config{}, ctx.Err()
		default:
		}
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("config: file %s not found", path)
			}
			return Config{}, fmt.Errorf("config: stat %s: %w", path, err)
		}
		parser, err := parserFor(path)
		if err != nil {
			return Config{}, err
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return Config{}, fmt.Errorf("config: load file %s: %w", path, err)
		}
	}

	if l.envPrefix != "" {
		canonical := map[string]string{
			"server.cache.searchttlseconds":    "server.cache.searchTtlSeconds",
			"server.cache.catalogttlseconds":   "server.cache.catalogTtlSeconds",
			"server.cache.maxcatalogentries":   "server.cache.maxCatalogEntries",
			"server.cache.followerwaitmillis":  "server.cache.followerWaitMillis",
			"server.cache.valkey.tls.cafile":   "server.cache.valkey.tls.caFile",
			"server.catalogs.enablefeeds":      "server.catalogs.enableFeeds",
			"server.generation.maxresults":     "server.generation.maxResults",
			"server.generation.timeoutseconds": "server.generation.timeoutSeconds",
		}
		transform := func(s string) string {
			// Double underscores signal a nested path
			// (SERVER__LISTEN__PORT -> server.listen.port).
			key := strings.TrimPrefix(s, l.envPrefix+"_")
			key = strings.ReplaceAll(key, "__", ".")
			lower := strings.ToLower(key)
			if mapped, ok := canonical[lower]; ok {
				return mapped
			}
			// Single underscores are removed so LISTEN_PORT collapses into
			// listenport when callers choose not to use double underscores
			// for object nesting.
			key = strings.ReplaceAll(key, "_", "")
			return strings.ToLower(key)
		}
		if err := k.Load(env.Provider(l.envPrefix, ".", transform), nil); err != nil {
			return Config{}, fmt.Errorf("config: load env: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// structToMap converts DefaultConfig into a map for the koanf confmap provider.
func structToMap(cfg Config) map[string]any {
	return map[string]any{
		"server": map[string]any{
			"listen": map[string]any{
				"address": cfg.Server.Listen.Address,
				"port":    cfg.Server.Listen.Port,
			},
			"logging": map[string]any{
				"level":  cfg.Server.Logging.Level,
				"format": cfg.Server.Logging.Format,
			},
			"addon": map[string]any{
				"id":          cfg.Server.Addon.ID,
				"name":        cfg.Server.Addon.Name,
				"version":     cfg.Server.Addon.Version,
				"description": cfg.Server.Addon.Description,
			},
			"token": map[string]any{
				"secret": cfg.Server.Token.Secret,
			},
			"cache": map[string]any{
				"backend":            cfg.Server.Cache.Backend,
				"searchTtlSeconds":   cfg.Server.Cache.SearchTTLSeconds,
				"catalogTtlSeconds":  cfg.Server.Cache.CatalogTTLSeconds,
				"maxCatalogEntries":  cfg.Server.Cache.MaxCatalogEntries,
				"followerWaitMillis": cfg.Server.Cache.FollowerWaitMillis,
				"valkey": map[string]any{
					"address":  cfg.Server.Cache.Valkey.Address,
					"username": cfg.Server.Cache.Valkey.Username,
					"password": cfg.Server.Cache.Valkey.Password,
					"db":       cfg.Server.Cache.Valkey.DB,
					"tls": map[string]any{
						"enabled": cfg.Server.Cache.Valkey.TLS.Enabled,
						"caFile":  cfg.Server.Cache.Valkey.TLS.CAFile,
					},
				},
			},
			"catalogs": map[string]any{
				"enableFeeds": cfg.Server.Catalogs.EnableFeeds,
				"folder":      cfg.Server.Catalogs.Folder,
			},
			"generation": map[string]any{
				"endpoint":       cfg.Server.Generation.Endpoint,
				"maxResults":     cfg.Server.Generation.MaxResults,
				"timeoutSeconds": cfg.Server.Generation.TimeoutSeconds,
			},
		},
	}
}

func parserFor(path string) (koanf.Parser, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return kjson.Parser(), nil
	case ".toml", ".tml":
		return toml.Parser(), nil
	default:
		return nil, fmt.Errorf("config: unsupported file extension %s", ext)
	}
}

func isSupportedFile(path string) bool {
	_, err := parserFor(path)
	return err == nil
}
