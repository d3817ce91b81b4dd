package catalog

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/kinoscope/companion/internal/stremio"
)

// Key identifies one materialized result sequence in the cache. Keys are
// composed exclusively from catalog parameters — never from provider
// credentials or any other per-user field — so identical catalog requests
// from different users share one entry.
type Key string

// FeedKey builds the cache key for a default feed catalog.
func FeedKey(catalogID string, ct stremio.ContentType, adult bool, language string) Key {
	return Key(fmt.Sprintf("catalog:%s:%s:%s:adult=%d", ct, catalogID, language, boolBit(adult)))
}

// SearchKey builds the cache key for an explicit search query. The query is
// normalized first so trivially different spellings share one entry; it
// reports false when nothing searchable remains after normalization.
func SearchKey(ct stremio.ContentType, adult bool, language string, query string) (Key, bool) {
	normalized := NormalizeQuery(query)
	if normalized == "" {
		return "", false
	}
	return Key(fmt.Sprintf("search:%s:%s:adult=%d:%s", ct, language, boolBit(adult), normalized)), true
}

// NormalizeQuery lowercases the query and strips everything but letters and
// digits, collapsing case and whitespace variants of the same search into one
// cache key.
func NormalizeQuery(query string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(query) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func boolBit(v bool) int {
	if v {
		return 1
	}
	return 0
}
