package catalog

import (
	"strings"

	"github.com/kinoscope/companion/internal/stremio"
)

var movieIntentWords = []string{
	"movie", "movies", "film", "films", "cinema", "flick", "flicks", "blockbuster", "blockbusters",
}

var movieIntentPhrases = []string{
	"feature film", "motion picture",
}

var seriesIntentWords = []string{
	"series", "television", "sitcom", "sitcoms", "episode", "episodes",
	"season", "seasons", "miniseries",
}

var seriesIntentPhrases = []string{
	"tv show", "tv series",
}

// DetectIntent inspects a free-text search for an explicit content-type
// preference. Queries mentioning both families, or neither, report no intent.
func DetectIntent(query string) (stremio.ContentType, bool) {
	trimmed := strings.TrimSpace(strings.ToLower(query))
	if trimmed == "" {
		return "", false
	}

	words := strings.FieldsFunc(trimmed, func(r rune) bool {
		return (r < 'a' || r > 'z') && (r < '0' || r > '9')
	})
	wordSet := make(map[string]struct{}, len(words))
	for _, w := range words {
		wordSet[w] = struct{}{}
	}

	movie := containsAny(wordSet, movieIntentWords) || containsPhrase(trimmed, movieIntentPhrases)
	series := containsAny(wordSet, seriesIntentWords) || containsPhrase(trimmed, seriesIntentPhrases)

	switch {
	case movie && !series:
		return stremio.ContentTypeMovie, true
	case series && !movie:
		return stremio.ContentTypeSeries, true
	}
	return "", false
}

func containsAny(words map[string]struct{}, candidates []string) bool {
	for _, c := range candidates {
		if _, ok := words[c]; ok {
			return true
		}
	}
	return false
}

func containsPhrase(query string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(query, p) {
			return true
		}
	}
	return false
}
