package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuiltinCatalogs(t *testing.T) {
	defs := BuiltinCatalogs()
	require.Len(t, defs, 4)
	ids := make([]string, 0, len(defs))
	for _, def := range defs {
		require.NotEmpty(t, def.Title)
		require.NotEmpty(t, def.Prompt)
		ids = append(ids, def.ID)
	}
	require.Equal(t, []string{"trending", "new_releases", "critics_picks", "hidden_gems"}, ids)
}

func TestLoadCatalogsWithoutFolder(t *testing.T) {
	bundle, err := LoadCatalogs(context.Background(), CatalogsConfig{})
	require.NoError(t, err)
	require.Equal(t, BuiltinCatalogs(), bundle.Definitions)
	require.Empty(t, bundle.Sources)
	require.Empty(t, bundle.Skipped)
}

func TestLoadCatalogsFolderMerge(t *testing.T) {
	dir := t.TempDir()
	yamlDoc := "catalogs:\n  - id: eighties\n    title: Back to the 80s\n    prompt: Show me iconic titles from the 1980s\n    ttlSeconds: 3600\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(yamlDoc), 0o600))
	jsonDoc := `{"catalogs": [{"id": "trending", "title": "Trending now", "prompt": "Custom trending prompt"}]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.json"), []byte(jsonDoc), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.txt"), []byte("not a catalog"), 0o600))

	bundle, err := LoadCatalogs(context.Background(), CatalogsConfig{Folder: dir})
	require.NoError(t, err)
	require.Len(t, bundle.Sources, 2)
	require.Empty(t, bundle.Skipped)

	ids := make([]string, 0, len(bundle.Definitions))
	for _, def := range bundle.Definitions {
		ids = append(ids, def.ID)
	}
	// Built-in order is preserved; the folder-only definition lands after.
	require.Equal(t, []string{"trending", "new_releases", "critics_picks", "hidden_gems", "eighties"}, ids)

	require.Equal(t, "Trending now", bundle.Definitions[0].Title)
	require.Equal(t, "Custom trending prompt", bundle.Definitions[0].Prompt)

	eighties, ok := findDefinition(bundle.Definitions, "eighties")
	require.True(t, ok)
	require.Equal(t, 3600, eighties.TTLSeconds)
	// Built-ins carry no TTL of their own; the global retention applies.
	require.Zero(t, bundle.Definitions[1].TTLSeconds)
}

func TestLoadCatalogsSkipsInvalidAndDuplicates(t *testing.T) {
	dir := t.TempDir()
	first := "catalogs:\n  - id: retro\n    prompt: Show me retro classics\n  - id: \"\"\n    prompt: missing id\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(first), 0o600))
	second := "catalogs:\n  - id: retro\n    prompt: Conflicting retro definition\n  - id: stale\n    prompt: Negative retention\n    ttlSeconds: -60\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yaml"), []byte(second), 0o600))

	bundle, err := LoadCatalogs(context.Background(), CatalogsConfig{Folder: dir})
	require.NoError(t, err)
	require.Len(t, bundle.Skipped, 3)
	_, ok := findDefinition(bundle.Definitions, "stale")
	require.False(t, ok)

	retro, ok := findDefinition(bundle.Definitions, "retro")
	require.True(t, ok)
	require.Equal(t, "Show me retro classics", retro.Prompt)
	// Title falls back to the id when the file omits it.
	require.Equal(t, "retro", retro.Title)
}

func TestLoadCatalogsMissingFolder(t *testing.T) {
	_, err := LoadCatalogs(context.Background(), CatalogsConfig{Folder: filepath.Join(t.TempDir(), "absent")})
	require.Error(t, err)
}

func TestCatalogSetSnapshot(t *testing.T) {
	set := NewCatalogSet(BuiltinCatalogs())

	def, ok := set.Lookup("trending")
	require.True(t, ok)
	require.Equal(t, "Trending this week", def.Title)

	_, ok = set.Lookup("absent")
	require.False(t, ok)

	set.Replace([]CatalogDefinition{{ID: "only", Title: "Only", Prompt: "p"}})
	require.Len(t, set.All(), 1)
	_, ok = set.Lookup("trending")
	require.False(t, ok)
}

func findDefinition(defs []CatalogDefinition, id string) (CatalogDefinition, bool) {
	for _, def := range defs {
		if def.ID == id {
			return def, true
		}
	}
	return CatalogDefinition{}, false
}
