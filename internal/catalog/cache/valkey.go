package cache

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"time"

	valkey "github.com/valkey-io/valkey-go"
)

// ValkeyTLSConfig controls TLS for the shared backend connection.
type ValkeyTLSConfig struct {
	Enabled bool
	CAFile  string
}

// ValkeyConfig carries the connection settings for the shared backend.
type ValkeyConfig struct {
	Address  string
	Username string
	Password string
	DB       int
	TLS      ValkeyTLSConfig
}

type valkeyStore struct {
	client valkey.Client
}

// NewValkey connects to the shared backend and verifies it with a ping so a
// misconfigured address fails at startup, where the caller can fall back to
// the process-local store.
func NewValkey(cfg ValkeyConfig) (Store, error) {
	if cfg.Address == "" {
		return nil, errors.New("cache: valkey address required")
	}

	option := valkey.ClientOption{
		InitAddress:       []string{cfg.Address},
		Username:          cfg.Username,
		Password:          cfg.Password,
		SelectDB:          cfg.DB,
		AlwaysRESP2:       true,
		ForceSingleClient: true,
		DisableCache:      true,
	}

	if cfg.TLS.Enabled {
		tlsConfig := &tls.Config{}
		if cfg.TLS.CAFile != "" {
			caData, err := os.ReadFile(cfg.TLS.CAFile)
			if err != nil {
				return nil, fmt.Errorf("cache: read valkey ca file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caData) {
				return nil, errors.New("cache: valkey ca file contains no certificates")
			}
			tlsConfig.RootCAs = pool
		}
		option.TLSConfig = tlsConfig
	}

	client, err := valkey.NewClient(option)
	if err != nil {
		return nil, fmt.Errorf("cache: valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("cache: valkey ping: %w", err)
	}

	return &valkeyStore{client: client}, nil
}

func (s *valkeyStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	resp := s.client.Do(ctx, s.client.B().Get().Key(key).Build())
	if err := resp.Error(); err != nil {
		if errors.Is(err, valkey.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("cache: valkey get: %w", err)
	}
	payload, err := resp.AsBytes()
	if err != nil {
		return nil, false, fmt.Errorf("cache: valkey get bytes: %w", err)
	}
	return payload, true, nil
}

func (s *valkeyStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var cmd valkey.Completed
	if ttl > 0 {
		cmd = s.client.B().Set().Key(key).Value(string(value)).Px(ttl).Build()
	} else {
		cmd = s.client.B().Set().Key(key).Value(string(value)).Build()
	}
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("cache: valkey set: %w", err)
	}
	return nil
}

func (s *valkeyStore) AppendCapped(ctx context.Context, key string, item []byte, maxItems int, ttl time.Duration) (int64, error) {
	resp := s.client.Do(ctx, s.client.B().Rpush().Key(key).Element(string(item)).Build())
	length, err := resp.ToInt64()
	if err != nil {
		return 0, fmt.Errorf("cache: valkey rpush: %w", err)
	}
	if maxItems > 0 && length > int64(maxItems) {
		// Keep the newest maxItems elements; the oldest fall off the front.
		trim := s.client.B().Ltrim().Key(key).Start(int64(-maxItems)).Stop(-1).Build()
		if err := s.client.Do(ctx, trim).Error(); err != nil {
			return 0, fmt.Errorf("cache: valkey ltrim: %w", err)
		}
		length = int64(maxItems)
	}
	if ttl > 0 {
		expire := s.client.B().Pexpire().Key(key).Milliseconds(ttl.Milliseconds()).Build()
		if err := s.client.Do(ctx, expire).Error(); err != nil {
			return 0, fmt.Errorf("cache: valkey pexpire: %w", err)
		}
	}
	return length, nil
}

func (s *valkeyStore) List(ctx context.Context, key string) ([][]byte, error) {
	resp := s.client.Do(ctx, s.client.B().Lrange().Key(key).Start(0).Stop(-1).Build())
	if err := resp.Error(); err != nil {
		if errors.Is(err, valkey.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("cache: valkey lrange: %w", err)
	}
	elements, err := resp.AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("cache: valkey lrange elements: %w", err)
	}
	items := make([][]byte, len(elements))
	for i, el := range elements {
		items[i] = []byte(el)
	}
	return items, nil
}

func (s *valkeyStore) DeletePrefix(ctx context.Context, prefix string) error {
	if prefix == "" {
		return nil
	}
	var cursor uint64
	for {
		resp := s.client.Do(ctx, s.client.B().Scan().Cursor(cursor).Match(prefix+"*").Count(256).Build())
		entry, err := resp.AsScanEntry()
		if err != nil {
			return fmt.Errorf("cache: valkey scan: %w", err)
		}
		if len(entry.Elements) > 0 {
			del := s.client.B().Del().Key(entry.Elements...).Build()
			if err := s.client.Do(ctx, del).Error(); err != nil {
				return fmt.Errorf("cache: valkey del: %w", err)
			}
		}
		cursor = entry.Cursor
		if cursor == 0 {
			return nil
		}
	}
}

func (s *valkeyStore) Ping(ctx context.Context) error {
	if err := s.client.Do(ctx, s.client.B().Ping().Build()).Error(); err != nil {
		return fmt.Errorf("cache: valkey ping: %w", err)
	}
	return nil
}

func (s *valkeyStore) Close(context.Context) error {
	s.client.Close()
	return nil
}
