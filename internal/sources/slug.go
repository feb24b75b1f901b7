package sources

import (
	"context"
	"fmt"
	"strings"
)

// SlugResolver maps a region name to the URL slug a templated scraper
// source needs, following the three-tier resolution order in §4.1 item 5:
// a curated override table (longest-suffix-stripped match preferred), a
// city-index map built once from an index page, and at most one
// conservative URL variant. When cityLevelOnly is set, districts/counties
// (names carrying a recognized suffix) skip heuristic guessing entirely.
type SlugResolver struct {
	overrides     map[string]string // normalized name -> slug
	cityIndex     map[string]string // normalized city name -> slug
	cityLevelOnly bool

	indexBuilt bool
	indexFunc  func(ctx context.Context) (map[string]string, error)
}

// districtSuffixes are tried in list order, and the first that matches is
// stripped, when probing the override table for a district/county name that
// has no exact entry.
var districtSuffixes = []string{" district", " county", " prefecture", " municipality"}

func NewSlugResolver(overrides map[string]string, cityLevelOnly bool, indexFunc func(ctx context.Context) (map[string]string, error)) *SlugResolver {
	normalized := make(map[string]string, len(overrides))
	for k, v := range overrides {
		normalized[normalizeName(k)] = v
	}
	return &SlugResolver{overrides: normalized, cityLevelOnly: cityLevelOnly, indexFunc: indexFunc}
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Resolve returns the slug for regionName, or slugNotFound=true if every
// tier was exhausted without a match.
func (r *SlugResolver) Resolve(ctx context.Context, regionName string) (slug string, slugNotFound bool) {
	normalized := normalizeName(regionName)

	if slug, ok := r.overrides[normalized]; ok {
		return slug, false
	}

	isDistrict := false
	stripped := normalized
	for _, suffix := range districtSuffixes {
		if strings.HasSuffix(normalized, suffix) {
			isDistrict = true
			candidate := strings.TrimSuffix(normalized, suffix)
			if slug, ok := r.overrides[candidate]; ok {
				return slug, false
			}
			stripped = candidate
			break
		}
	}

	if isDistrict && r.cityLevelOnly {
		return "", true
	}

	if err := r.ensureCityIndex(ctx); err == nil {
		if slug, ok := r.cityIndex[stripped]; ok {
			return slug, false
		}
	}

	if isDistrict {
		return "", true
	}

	// At most one conservative URL-variant guess: the normalized name with
	// spaces collapsed to hyphens.
	variant := strings.ReplaceAll(normalized, " ", "-")
	if variant != "" {
		return variant, false
	}
	return "", true
}

func (r *SlugResolver) ensureCityIndex(ctx context.Context) error {
	if r.indexBuilt || r.indexFunc == nil {
		return nil
	}
	index, err := r.indexFunc(ctx)
	if err != nil {
		return fmt.Errorf("build city index: %w", err)
	}
	r.cityIndex = index
	r.indexBuilt = true
	return nil
}
