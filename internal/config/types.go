package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config holds every server-level option for the companion service.
type Config struct {
	Server ServerConfig `koanf:"server"`
}

// ServerConfig collects the bootstrap knobs owned by the lifecycle agent.
type ServerConfig struct {
	Listen     ListenConfig     `koanf:"listen"`
	Logging    LoggingConfig    `koanf:"logging"`
	Addon      AddonConfig      `koanf:"addon"`
	Token      TokenConfig      `koanf:"token"`
	Cache      CacheConfig      `koanf:"cache"`
	Catalogs   CatalogsConfig   `koanf:"catalogs"`
	Generation GenerationConfig `koanf:"generation"`
}

// ListenConfig instructs the HTTP listener about bind address and port.
type ListenConfig struct {
	Address string `koanf:"address"`
	Port    int    `koanf:"port"`
}

// LoggingConfig expresses log level and output format.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// AddonConfig names the addon as Stremio clients see it in the manifest.
type AddonConfig struct {
	ID          string `koanf:"id"`
	Name        string `koanf:"name"`
	Version     string `koanf:"version"`
	Description string `koanf:"description"`
}

// TokenConfig carries the process-wide secret every configuration token is
// derived from. Rotating it invalidates all outstanding tokens.
type TokenConfig struct {
	Secret string `koanf:"secret"`
}

// CacheConfig selects the cache backend and its retention knobs.
type CacheConfig struct {
	Backend            string       `koanf:"backend"`
	SearchTTLSeconds   int          `koanf:"searchTtlSeconds"`
	CatalogTTLSeconds  int          `koanf:"catalogTtlSeconds"`
	MaxCatalogEntries  int          `koanf:"maxCatalogEntries"`
	FollowerWaitMillis int          `koanf:"followerWaitMillis"`
	Valkey             ValkeyConfig `koanf:"valkey"`
}

// ValkeyConfig carries shared-backend connection settings. An empty address
// with backend "valkey" is a configuration error; the memory backend ignores
// this block entirely.
type ValkeyConfig struct {
	Address  string          `koanf:"address"`
	Username string          `koanf:"username"`
	Password string          `koanf:"password"`
	DB       int             `koanf:"db"`
	TLS      ValkeyTLSConfig `koanf:"tls"`
}

type ValkeyTLSConfig struct {
	Enabled bool   `koanf:"enabled"`
	CAFile  string `koanf:"caFile"`
}

// CatalogsConfig announces how feed catalog definitions are sourced. The
// built-in definitions always exist; Folder layers user-provided ones on top.
type CatalogsConfig struct {
	EnableFeeds bool   `koanf:"enableFeeds"`
	Folder      string `koanf:"folder"`
}

// GenerationConfig points at and bounds the generation collaborator. An
// empty endpoint leaves the service serving cached catalogs only.
type GenerationConfig struct {
	Endpoint       string `koanf:"endpoint"`
	MaxResults     int    `koanf:"maxResults"`
	TimeoutSeconds int    `koanf:"timeoutSeconds"`
}

// SearchTTL converts the configured seconds into a duration.
func (c CacheConfig) SearchTTL() time.Duration {
	return time.Duration(c.SearchTTLSeconds) * time.Second
}

// CatalogTTL is the default retention for materialized feed sequences.
// Individual catalog definitions may set a tighter one.
func (c CacheConfig) CatalogTTL() time.Duration {
	return time.Duration(c.CatalogTTLSeconds) * time.Second
}

// FollowerWait converts the configured milliseconds into a duration.
func (c CacheConfig) FollowerWait() time.Duration {
	return time.Duration(c.FollowerWaitMillis) * time.Millisecond
}

// Timeout converts the configured seconds into a duration.
func (g GenerationConfig) Timeout() time.Duration {
	return time.Duration(g.TimeoutSeconds) * time.Second
}

// Validate enforces invariants that keep the runtime predictable before
// serving traffic.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil")
	}
	if c.Server.Listen.Port <= 0 || c.Server.Listen.Port > 65535 {
		return fmt.Errorf("config: listen.port invalid: %d", c.Server.Listen.Port)
	}
	switch strings.ToLower(c.Server.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: logging.level unsupported: %s", c.Server.Logging.Level)
	}
	switch strings.ToLower(c.Server.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("config: logging.format unsupported: %s", c.Server.Logging.Format)
	}
	if strings.TrimSpace(c.Server.Addon.ID) == "" {
		return errors.New("config: addon.id required")
	}
	if strings.TrimSpace(c.Server.Token.Secret) == "" {
		return errors.New("config: token.secret required")
	}
	if c.Server.Cache.SearchTTLSeconds <= 0 {
		return fmt.Errorf("config: cache.searchTtlSeconds invalid: %d", c.Server.Cache.SearchTTLSeconds)
	}
	if c.Server.Cache.CatalogTTLSeconds <= 0 {
		return fmt.Errorf("config: cache.catalogTtlSeconds invalid: %d", c.Server.Cache.CatalogTTLSeconds)
	}
	if c.Server.Cache.MaxCatalogEntries <= 0 {
		return fmt.Errorf("config: cache.maxCatalogEntries invalid: %d", c.Server.Cache.MaxCatalogEntries)
	}
	if c.Server.Cache.FollowerWaitMillis <= 0 {
		return fmt.Errorf("config: cache.followerWaitMillis invalid: %d", c.Server.Cache.FollowerWaitMillis)
	}
	backend := strings.TrimSpace(strings.ToLower(c.Server.Cache.Backend))
	switch backend {
	case "", "memory":
	case "valkey", "redis":
		if strings.TrimSpace(c.Server.Cache.Valkey.Address) == "" {
			return errors.New("config: cache.valkey.address required for the shared backend")
		}
	default:
		return fmt.Errorf("config: cache.backend unsupported: %s", c.Server.Cache.Backend)
	}
	if ep := c.Server.Generation.Endpoint; ep != "" && !strings.HasPrefix(ep, "http://") && !strings.HasPrefix(ep, "https://") {
		return fmt.Errorf("config: generation.endpoint must be an HTTP/HTTPS URL: %s", ep)
	}
	if c.Server.Generation.MaxResults <= 0 || c.Server.Generation.MaxResults > 50 {
		return fmt.Errorf("config: generation.maxResults invalid: %d", c.Server.Generation.MaxResults)
	}
	if c.Server.Generation.TimeoutSeconds <= 0 {
		return fmt.Errorf("config: generation.timeoutSeconds invalid: %d", c.Server.Generation.TimeoutSeconds)
	}
	return nil
}

// DefaultConfig returns the baseline values. The token secret has no default
// on purpose; it must arrive via file or environment.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Listen: ListenConfig{
				Address: "0.0.0.0",
				Port:    8080,
			},
			Logging: LoggingConfig{
				Level:  "info",
				Format: "json",
			},
			Addon: AddonConfig{
				ID:          "ai.companion.stremio",
				Name:        "AI Companion",
				Version:     "1.0.0",
				Description: "AI-powered movie and series discovery",
			},
			Cache: CacheConfig{
				Backend:            "memory",
				SearchTTLSeconds:   14400,
				CatalogTTLSeconds:  86400,
				MaxCatalogEntries:  100,
				FollowerWaitMillis: 2000,
			},
			Catalogs: CatalogsConfig{
				EnableFeeds: true,
			},
			Generation: GenerationConfig{
				MaxResults:     10,
				TimeoutSeconds: 60,
			},
		},
	}
}
