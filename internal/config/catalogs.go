package config

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// CatalogDefinition names one feed catalog: the identifier clients request,
// the title shown in the manifest, and the prompt handed to the generation
// collaborator. TTLSeconds is optional; zero means the feed follows the
// global retention policy.
type CatalogDefinition struct {
	ID         string `koanf:"id"`
	Title      string `koanf:"title"`
	Prompt     string `koanf:"prompt"`
	TTLSeconds int    `koanf:"ttlSeconds"`
}

// CatalogSkip describes a definition the loader intentionally ignored, so
// operators can see which files were quarantined without re-parsing them.
type CatalogSkip struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
	Source string `json:"source"`
}

// CatalogBundle is the merged result of the built-in definitions and every
// file in the configured folder.
type CatalogBundle struct {
	Definitions []CatalogDefinition
	Sources     []string
	Skipped     []CatalogSkip
}

type catalogDocument struct {
	Catalogs []CatalogDefinition `koanf:"catalogs"`
}

// BuiltinCatalogs returns the stock feed definitions every deployment
// carries. User folders layer on top; a folder definition reusing a built-in
// id replaces it.
func BuiltinCatalogs() []CatalogDefinition {
	return []CatalogDefinition{
		{
			ID:     "trending",
			Title:  "Trending this week",
			Prompt: "Show me what's trending this week on streaming services (priority), but include notable on-demand rentals or Blu-ray releases if relevant",
		},
		{
			ID:     "new_releases",
			Title:  "New releases",
			Prompt: "Show me the latest new releases available to stream right now; also include notable on-demand rentals or Blu-ray releases when applicable",
		},
		{
			ID:     "critics_picks",
			Title:  "Critics' picks",
			Prompt: "Show me highly-rated titles from critics and award winners that are available on streaming services; optionally include notable on-demand or Blu-ray if streaming is unavailable",
		},
		{
			ID:     "hidden_gems",
			Title:  "Hidden gems",
			Prompt: "Show me underrated or lesser-known titles worth watching on streaming services; if not streaming, include notable on-demand or Blu-ray",
		},
	}
}

// LoadCatalogs merges the built-in definitions with every supported file
// under the configured folder. Folder definitions override built-ins by id;
// duplicates across folder files are quarantined rather than silently picked.
func LoadCatalogs(ctx context.Context, catalogsCfg CatalogsConfig) (CatalogBundle, error) {
	order := make([]string, 0, 8)
	byID := make(map[string]CatalogDefinition)
	fileSource := make(map[string]string)
	var skipped []CatalogSkip

	for _, def := range BuiltinCatalogs() {
		order = append(order, def.ID)
		byID[def.ID] = def
	}

	files, err := collectCatalogFiles(ctx, catalogsCfg.Folder)
	if err != nil {
		return CatalogBundle{}, err
	}

	for _, path := range files {
		select {
		case <-ctx.Done():
			return CatalogBundle{}, ctx.Err()
		default:
		}
		doc, err := loadCatalogDocument(path)
		if err != nil {
			return CatalogBundle{}, err
		}
		for _, def := range doc.Catalogs {
			def.ID = strings.TrimSpace(def.ID)
			if def.ID == "" || strings.TrimSpace(def.Prompt) == "" {
				skipped = append(skipped, CatalogSkip{
					ID:     def.ID,
					Reason: "id and prompt are required",
					Source: path,
				})
				continue
			}
			if def.TTLSeconds < 0 {
				skipped = append(skipped, CatalogSkip{
					ID:     def.ID,
					Reason: "ttlSeconds must not be negative",
					Source: path,
				})
				continue
			}
			if def.Title == "" {
				def.Title = def.ID
			}
			if prev, ok := fileSource[def.ID]; ok {
				// First file wins; later claims are quarantined so the
				// conflict is visible instead of silently resolved.
				skipped = append(skipped, CatalogSkip{
					ID:     def.ID,
					Reason: fmt.Sprintf("duplicate definition, first seen in %s", prev),
					Source: path,
				})
				continue
			}
			fileSource[def.ID] = path
			if _, builtin := byID[def.ID]; !builtin {
				order = append(order, def.ID)
			}
			byID[def.ID] = def
		}
	}

	defs := make([]CatalogDefinition, 0, len(order))
	for _, id := range order {
		defs = append(defs, byID[id])
	}
	return CatalogBundle{Definitions: defs, Sources: files, Skipped: skipped}, nil
}

func collectCatalogFiles(ctx context.Context, folder string) ([]string, error) {
	if folder == "" {
		return nil, nil
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	stat, err := os.Stat(folder)
	if err != nil {
		return nil, fmt.Errorf("config: catalogs folder %s: %w", folder, err)
	}
	if !stat.IsDir() {
		return nil, fmt.Errorf("config: catalogs folder %s is not a directory", folder)
	}
	var files []string
	err = filepath.WalkDir(folder, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		if !isSupportedFile(path) {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("config: walk catalogs folder %s: %w", folder, err)
	}
	sort.Strings(files)
	return files, nil
}

func loadCatalogDocument(path string) (catalogDocument, error) {
	parser, err := parserFor(path)
	if err != nil {
		return catalogDocument{}, err
	}
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), parser); err != nil {
		return catalogDocument{}, fmt.Errorf("config: load catalogs from %s: %w", path, err)
	}
	var doc catalogDocument
	if err := k.Unmarshal("", &doc); err != nil {
		return catalogDocument{}, fmt.Errorf("config: decode catalogs from %s: %w", path, err)
	}
	return doc, nil
}

// CatalogSet is an atomically replaceable snapshot of the active feed
// definitions. The watcher swaps it on reload; request handlers read it
// without locking.
type CatalogSet struct {
	snapshot atomic.Pointer[catalogSnapshot]
}

type catalogSnapshot struct {
	defs []CatalogDefinition
	byID map[string]CatalogDefinition
}

// NewCatalogSet builds a set holding the given definitions.
func NewCatalogSet(defs []CatalogDefinition) *CatalogSet {
	s := &CatalogSet{}
	s.Replace(defs)
	return s
}

// Replace swaps in a new snapshot.
func (s *CatalogSet) Replace(defs []CatalogDefinition) {
	snap := &catalogSnapshot{
		defs: append([]CatalogDefinition(nil), defs...),
		byID: make(map[string]CatalogDefinition, len(defs)),
	}
	for _, def := range defs {
		snap.byID[def.ID] = def
	}
	s.snapshot.Store(snap)
}

// All returns the active definitions in declaration order.
func (s *CatalogSet) All() []CatalogDefinition {
	snap := s.snapshot.Load()
	if snap == nil {
		return nil
	}
	return append([]CatalogDefinition(nil), snap.defs...)
}

// Lookup resolves a definition by id.
func (s *CatalogSet) Lookup(id string) (CatalogDefinition, bool) {
	snap := s.snapshot.Load()
	if snap == nil {
		return CatalogDefinition{}, false
	}
	def, ok := snap.byID[id]
	return def, ok
}
