package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/terrarisk/hazardengine/internal/models"
)

// InMemoryStore implements Store without a database, used when DATABASE_URL
// is unset (dev/test) and directly in unit tests of dependent packages.
type InMemoryStore struct {
	mu       sync.RWMutex
	regions  map[string]models.Region
	warnings map[string][]models.WarningRecord // region code -> warnings, newest last
	nextID   int64
}

// NewInMemoryStore creates a new in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		regions:  make(map[string]models.Region),
		warnings: make(map[string][]models.WarningRecord),
	}
}

// SeedRegion registers a region the engine does not yet know about. Regions
// are externally owned (§3); this exists for tests and for bootstrapping the
// in-memory store from a static region list.
func (s *InMemoryStore) SeedRegion(r models.Region) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regions[r.Code] = r
}

func (s *InMemoryStore) ListRegions(ctx context.Context) ([]models.Region, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	regions := make([]models.Region, 0, len(s.regions))
	for _, r := range s.regions {
		regions = append(regions, r)
	}
	sort.Slice(regions, func(i, j int) bool { return regions[i].Code < regions[j].Code })
	return regions, nil
}

func (s *InMemoryStore) GetRegion(ctx context.Context, code string) (*models.Region, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if r, ok := s.regions[code]; ok {
		return &r, nil
	}
	return nil, nil
}

func (s *InMemoryStore) PreviousWarning(ctx context.Context, regionCode string) (*models.WarningRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.warnings[regionCode]
	if len(history) == 0 {
		return nil, nil
	}
	w := history[len(history)-1]
	return &w, nil
}

func (s *InMemoryStore) HistoricalPressureCount(ctx context.Context, regionCode string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, w := range s.warnings[regionCode] {
		if w.QualifiesAsPressure(since) {
			count++
		}
	}
	return count, nil
}

func (s *InMemoryStore) CommitBatch(ctx context.Context, decisions []models.Decision, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	for _, d := range decisions {
		met, err := json.Marshal(d.Meteorology)
		if err != nil {
			return fmt.Errorf("marshal meteorology for %s: %w", d.RegionCode, err)
		}

		region, ok := s.regions[d.RegionCode]
		if !ok {
			region = models.Region{Code: d.RegionCode}
		}
		region.RiskLevel = d.Level
		region.LastUpdatedAt = now
		s.regions[d.RegionCode] = region

		s.nextID++
		s.warnings[d.RegionCode] = append(s.warnings[d.RegionCode], models.WarningRecord{
			ID:          s.nextID,
			RegionCode:  d.RegionCode,
			Level:       d.Level,
			Reason:      d.Reason,
			Meteorology: string(met),
			Confidence:  d.Confidence,
			CreatedAt:   now,
			Source:      source,
		})
	}
	return nil
}

// Health always returns nil for the in-memory store.
func (s *InMemoryStore) Health(ctx context.Context) error {
	return nil
}
