// Package generate bridges the paginator to the external generation
// collaborator over HTTP. Prompt construction and model selection live on the
// collaborator side; this package only carries the request and decodes the
// batch.
package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/kinoscope/companion/internal/catalog"
	"github.com/kinoscope/companion/internal/stremio"
)

// ErrUnconfigured marks a deployment without a generation endpoint. Catalog
// requests still succeed; they serve whatever the cache holds.
var ErrUnconfigured = errors.New("generate: no endpoint configured")

type wireRequest struct {
	ContentType   string   `json:"content_type"`
	Prompt        string   `json:"prompt"`
	Exclude       []string `json:"exclude,omitempty"`
	MaxResults    int      `json:"max_results"`
	IncludeAdult  bool     `json:"include_adult"`
	OpenAIAPIKey  string   `json:"openai_api_key"`
	OpenAIBaseURL string   `json:"openai_base_url,omitempty"`
	ModelName     string   `json:"model_name"`
	TMDBToken     string   `json:"tmdb_read_access_token"`
	Language      string   `json:"language"`
}

// Client calls the collaborator's generation endpoint and returns the decoded
// batch in manifest order.
type Client struct {
	endpoint string
	http     *http.Client
	logger   *slog.Logger
}

// NewClient constructs a collaborator client for the given endpoint URL.
func NewClient(endpoint string, logger *slog.Logger) (*Client, error) {
	if endpoint == "" {
		return nil, ErrUnconfigured
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		endpoint: endpoint,
		// The paginator bounds each call with a context deadline; the
		// client timeout is only a backstop against a hung transport.
		http:   &http.Client{Timeout: 5 * time.Minute},
		logger: logger.With(slog.String("agent", "generate")),
	}, nil
}

// Generate implements catalog.Generator.
func (c *Client) Generate(ctx context.Context, req catalog.GenerateRequest) ([]stremio.Meta, error) {
	payload, err := json.Marshal(wireRequest{
		ContentType:   string(req.ContentType),
		Prompt:        req.Prompt,
		Exclude:       req.Exclude,
		MaxResults:    req.MaxResults,
		IncludeAdult:  req.IncludeAdult,
		OpenAIAPIKey:  req.Config.OpenAIAPIKey,
		OpenAIBaseURL: req.Config.OpenAIBaseURL,
		ModelName:     req.Config.ModelName,
		TMDBToken:     req.Config.TMDBToken,
		Language:      req.Config.Language,
	})
	if err != nil {
		return nil, fmt.Errorf("generate: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("generate: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("generate: call collaborator: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("generate: collaborator returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var decoded stremio.Response
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("generate: decode response: %w", err)
	}
	return decoded.Metas, nil
}

// Unconfigured returns a Generator that always fails with ErrUnconfigured.
// The paginator degrades those failures to the materialized page, so a
// deployment without a collaborator serves cached and empty catalogs instead
// of crashing.
func Unconfigured() catalog.Generator {
	return unconfigured{}
}

type unconfigured struct{}

func (unconfigured) Generate(context.Context, catalog.GenerateRequest) ([]stremio.Meta, error) {
	return nil, ErrUnconfigured
}
