package stremio

import "strings"

// FeedCatalog pairs a feed catalog identifier with its display title.
type FeedCatalog struct {
	ID    string
	Title string
}

// ManifestOptions collects everything needed to assemble a manifest for a
// combined or single-type installation.
type ManifestOptions struct {
	AddonID     string
	Version     string
	Types       []ContentType
	MovieFeeds  []FeedCatalog
	SeriesFeeds []FeedCatalog
}

// DiscoveryCatalogID returns the id of the search-driven discovery catalog for
// a content type. Dots are flattened because Stremio treats catalog ids as
// opaque single segments.
func DiscoveryCatalogID(addonID string, ct ContentType) string {
	return strings.ReplaceAll(addonID, ".", "_") + "_" + string(ct)
}

// BuildManifest assembles the addon manifest. Single-type installations get a
// suffixed addon id and a narrower name so Stremio treats them as distinct
// addons.
func BuildManifest(opts ManifestOptions) Manifest {
	types := opts.Types
	if len(types) == 0 {
		types = []ContentType{ContentTypeMovie, ContentTypeSeries}
	}

	id := opts.AddonID
	name := "AI Companion"
	description := "Your AI-powered movie discovery companion"
	if len(types) == 1 {
		switch types[0] {
		case ContentTypeMovie:
			id += "-movie"
			name = "AI Movie Companion"
			description = "Your AI-powered movie discovery companion"
		case ContentTypeSeries:
			id += "-series"
			name = "AI Series Companion"
			description = "Your AI-powered series discovery companion"
		}
	}

	var catalogs []Catalog
	typeNames := make([]string, 0, len(types))
	for _, ct := range types {
		typeNames = append(typeNames, string(ct))

		discoveryName := "AI Movie Discovery"
		feeds := opts.MovieFeeds
		if ct == ContentTypeSeries {
			discoveryName = "AI Series Discovery"
			feeds = opts.SeriesFeeds
		}
		catalogs = append(catalogs, Catalog{
			Type:  string(ct),
			ID:    DiscoveryCatalogID(opts.AddonID, ct),
			Name:  discoveryName,
			Extra: []CatalogExtra{{Name: "search", IsRequired: true}},
		})
		for _, feed := range feeds {
			catalogs = append(catalogs, Catalog{
				Type: string(ct),
				ID:   feed.ID + "_" + string(ct),
				Name: feed.Title,
			})
		}
	}

	return Manifest{
		ID:          id,
		Version:     opts.Version,
		Name:        name,
		Description: description,
		Resources:   []string{"catalog"},
		Types:       typeNames,
		Catalogs:    catalogs,
	}
}
