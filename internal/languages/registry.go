// Package languages resolves language identifiers into execution strategies.
package languages

import (
	"sort"
	"strings"

	"github.com/cutekitek/rankode-judge/internal/repository/models"
	"github.com/pkg/errors"
)

var ErrUnsupportedLanguage = errors.New("unsupported language")

type Registry struct {
	strategies map[string]Strategy
	inactive   map[string]bool
}

func NewRegistry(langs []models.Language) (*Registry, error) {
	r := &Registry{
		strategies: make(map[string]Strategy, len(langs)),
		inactive:   make(map[string]bool),
	}
	for _, lang := range langs {
		key := normalizeId(lang.Id)
		if key == "" {
			return nil, errors.New("language id is empty")
		}
		if _, ok := r.strategies[key]; ok {
			return nil, errors.Errorf("duplicate language %s", lang.Id)
		}
		if !lang.IsActive {
			r.inactive[key] = true
			continue
		}
		strategy, err := NewStrategy(lang)
		if err != nil {
			return nil, err
		}
		r.strategies[key] = strategy
	}
	return r, nil
}

func (r *Registry) Resolve(languageId string) (Strategy, error) {
	key := normalizeId(languageId)
	if strategy, ok := r.strategies[key]; ok {
		return strategy, nil
	}
	if r.inactive[key] {
		return nil, errors.Wrapf(ErrUnsupportedLanguage, "%s is disabled", languageId)
	}
	return nil, errors.Wrap(ErrUnsupportedLanguage, languageId)
}

// Languages lists the active languages ordered by id.
func (r *Registry) Languages() []models.Language {
	out := make([]models.Language, 0, len(r.strategies))
	for _, s := range r.strategies {
		out = append(out, s.Language())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Id < out[j].Id })
	return out
}

func normalizeId(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
