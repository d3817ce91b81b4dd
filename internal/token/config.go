package token

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidConfig marks tokens that decrypted cleanly but carry a
// configuration violating a field invariant. Callers can distinguish it from
// ErrInvalidToken to produce a field-specific message.
var ErrInvalidConfig = errors.New("token: invalid configuration")

// FieldError names the configuration field that failed validation.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("token: field %s: %s", e.Field, e.Reason)
}

func (e *FieldError) Unwrap() error { return ErrInvalidConfig }

// UserConfig is the per-user configuration carried inside a token. It is only
// ever instantiated from a successfully authenticated token and is never
// persisted server-side.
type UserConfig struct {
	OpenAIAPIKey   string   `json:"openai_api_key"`
	OpenAIBaseURL  string   `json:"openai_base_url,omitempty"`
	ModelName      string   `json:"model_name"`
	TMDBToken      string   `json:"tmdb_read_access_token"`
	MaxResults     int      `json:"max_results"`
	UsePosterDB    bool     `json:"use_posterdb"`
	PosterDBKey    string   `json:"posterdb_api_key,omitempty"`
	MovieCatalogs  []string `json:"include_catalogs_movies,omitempty"`
	SeriesCatalogs []string `json:"include_catalogs_series,omitempty"`
	IncludeAdult   bool     `json:"include_adult"`
	Language       string   `json:"language"`
}

const (
	// MinResults and MaxResults bound the per-request result count a token
	// may configure.
	MinResults       = 1
	MaxResultsLimit  = 50
	minCredentialLen = 10
	minPosterKeyLen  = 5
)

var languagePattern = regexp.MustCompile(`^[a-z]{2}(-[A-Z]{2})?$`)

// Validate enforces the field invariants a token must satisfy before the
// configuration is trusted. Violations are reported as *FieldError.
func (c *UserConfig) Validate() error {
	if len(strings.TrimSpace(c.OpenAIAPIKey)) < minCredentialLen {
		return &FieldError{Field: "openai_api_key", Reason: "must be provided and valid"}
	}
	if len(strings.TrimSpace(c.TMDBToken)) < minCredentialLen {
		return &FieldError{Field: "tmdb_read_access_token", Reason: "must be provided and valid"}
	}
	if c.MaxResults < MinResults || c.MaxResults > MaxResultsLimit {
		return &FieldError{
			Field:  "max_results",
			Reason: fmt.Sprintf("must be between %d and %d", MinResults, MaxResultsLimit),
		}
	}
	if c.OpenAIBaseURL != "" && !strings.HasPrefix(c.OpenAIBaseURL, "http://") && !strings.HasPrefix(c.OpenAIBaseURL, "https://") {
		return &FieldError{Field: "openai_base_url", Reason: "must be a valid HTTP/HTTPS URL"}
	}
	if c.UsePosterDB && len(strings.TrimSpace(c.PosterDBKey)) < minPosterKeyLen {
		return &FieldError{Field: "posterdb_api_key", Reason: "required when poster service is enabled"}
	}
	if !languagePattern.MatchString(strings.TrimSpace(c.Language)) {
		return &FieldError{Field: "language", Reason: "must be an ISO code like 'en-US'"}
	}
	return nil
}
