package stremio

import "strings"

// ContentType enumerates the content families the addon serves.
type ContentType string

const (
	ContentTypeMovie  ContentType = "movie"
	ContentTypeSeries ContentType = "series"
)

// ParseContentType maps a path segment onto a known content type.
func ParseContentType(s string) (ContentType, bool) {
	switch ContentType(strings.ToLower(strings.TrimSpace(s))) {
	case ContentTypeMovie:
		return ContentTypeMovie, true
	case ContentTypeSeries:
		return ContentTypeSeries, true
	}
	return "", false
}

// Meta is one catalog entry in the shape Stremio clients consume.
type Meta struct {
	ID          string   `json:"id"`
	Type        string   `json:"type"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Poster      string   `json:"poster,omitempty"`
	Background  string   `json:"background,omitempty"`
	ReleaseInfo string   `json:"releaseInfo,omitempty"`
	IMDBRating  string   `json:"imdbRating,omitempty"`
	IMDBID      string   `json:"imdb_id,omitempty"`
	Genres      []string `json:"genres,omitempty"`
}

// Response is the catalog payload: an ordered list of metas.
type Response struct {
	Metas []Meta `json:"metas"`
}

// CatalogExtra declares an extra parameter a catalog supports, such as search.
type CatalogExtra struct {
	Name       string `json:"name"`
	IsRequired bool   `json:"isRequired,omitempty"`
}

// Catalog describes one catalog entry inside a manifest.
type Catalog struct {
	Type  string         `json:"type"`
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Extra []CatalogExtra `json:"extra,omitempty"`
}

// Manifest is the addon descriptor Stremio fetches on install.
type Manifest struct {
	ID          string    `json:"id"`
	Version     string    `json:"version"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Logo        string    `json:"logo,omitempty"`
	Background  string    `json:"background,omitempty"`
	Resources   []string  `json:"resources"`
	Types       []string  `json:"types"`
	Catalogs    []Catalog `json:"catalogs"`
}
