// Package catalog loads and validates the static game document.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"escape-room-service/internal/domain"
)

// Loader fetches the catalog from a backing source (file, database).
type Loader interface {
	Load(ctx context.Context) (domain.Catalog, error)
}

// document mirrors the wire shape: level numbers arrive as string keys.
type document struct {
	Levels      map[string][]domain.Question `json:"levels"`
	Points      map[string]int               `json:"points"`
	UnlockRules map[string]domain.UnlockRule `json:"unlockRules"`
}

// Parse decodes and validates a catalog document.
func Parse(data []byte) (domain.Catalog, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return domain.Catalog{}, fmt.Errorf("%w: %v", domain.ErrInvalidCatalog, err)
	}

	cat := domain.Catalog{
		Levels:      make(map[int][]domain.Question, len(doc.Levels)),
		Points:      make(map[int]int, len(doc.Points)),
		UnlockRules: make(map[int]domain.UnlockRule, len(doc.UnlockRules)),
	}
	for key, questions := range doc.Levels {
		level, err := levelNumber(key)
		if err != nil {
			return domain.Catalog{}, err
		}
		cat.Levels[level] = questions
	}
	for key, points := range doc.Points {
		level, err := levelNumber(key)
		if err != nil {
			return domain.Catalog{}, err
		}
		cat.Points[level] = points
	}
	for key, rule := range doc.UnlockRules {
		level, err := levelNumber(key)
		if err != nil {
			return domain.Catalog{}, err
		}
		cat.UnlockRules[level] = rule
	}

	if err := validate(cat); err != nil {
		return domain.Catalog{}, err
	}
	return cat, nil
}

func levelNumber(key string) (int, error) {
	level, err := strconv.Atoi(key)
	if err != nil || level < 1 {
		return 0, fmt.Errorf("%w: bad level number %q", domain.ErrInvalidCatalog, key)
	}
	return level, nil
}

// validate enforces the invariants the engine depends on: question ids
// unique across the whole catalog, and unlock rules referencing levels
// that exist.
func validate(cat domain.Catalog) error {
	if len(cat.Levels) == 0 {
		return fmt.Errorf("%w: no levels", domain.ErrInvalidCatalog)
	}
	seen := make(map[string]int)
	for level, questions := range cat.Levels {
		for _, q := range questions {
			if q.ID == "" {
				return fmt.Errorf("%w: question without id in level %d", domain.ErrInvalidCatalog, level)
			}
			if prior, ok := seen[q.ID]; ok {
				return fmt.Errorf("%w: duplicate question id %q in levels %d and %d", domain.ErrInvalidCatalog, q.ID, prior, level)
			}
			seen[q.ID] = level
		}
	}
	for level, rule := range cat.UnlockRules {
		if _, ok := cat.Levels[level]; !ok {
			return fmt.Errorf("%w: rule for unknown level %d", domain.ErrInvalidCatalog, level)
		}
		if _, ok := cat.Levels[rule.RequireLevel]; !ok {
			return fmt.Errorf("%w: level %d requires unknown level %d", domain.ErrInvalidCatalog, level, rule.RequireLevel)
		}
		if rule.RequireCount < 1 {
			return fmt.Errorf("%w: level %d requires count %d", domain.ErrInvalidCatalog, level, rule.RequireCount)
		}
	}
	return nil
}

// FileLoader reads the catalog from a JSON file on disk.
type FileLoader struct {
	Path string
}

func (l FileLoader) Load(_ context.Context) (domain.Catalog, error) {
	data, err := os.ReadFile(l.Path)
	if err != nil {
		return domain.Catalog{}, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

// StaticLoader serves a fixed catalog (useful for tests/demos).
type StaticLoader struct {
	Catalog domain.Catalog
}

func (l StaticLoader) Load(_ context.Context) (domain.Catalog, error) {
	return l.Catalog, nil
}
