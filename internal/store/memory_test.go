package store

import (
	"context"
	"testing"
	"time"

	"github.com/terrarisk/hazardengine/internal/models"
)

func TestInMemoryStore_CommitBatchUpdatesRegionAndHistory(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	s.SeedRegion(models.Region{Code: "R001", Name: "Region One", RiskLevel: models.LevelGreen})

	decisions := []models.Decision{
		{RegionCode: "R001", Level: models.LevelOrange, Reason: "heavy rain", Confidence: 0.8},
	}
	if err := s.CommitBatch(ctx, decisions, "test-run"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	region, err := s.GetRegion(ctx, "R001")
	if err != nil || region == nil {
		t.Fatalf("expected region, got %v, err %v", region, err)
	}
	if region.RiskLevel != models.LevelOrange {
		t.Errorf("expected region risk_level updated to orange, got %s", region.RiskLevel)
	}

	prev, err := s.PreviousWarning(ctx, "R001")
	if err != nil || prev == nil {
		t.Fatalf("expected previous warning, got %v, err %v", prev, err)
	}
	if prev.Level != models.LevelOrange || prev.Source != "test-run" {
		t.Errorf("unexpected warning record: %+v", prev)
	}
}

func TestInMemoryStore_HistoricalPressureCountFiltersByLevelAndWindow(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	old := time.Now().Add(-48 * time.Hour)
	recent := time.Now().Add(-time.Hour)
	s.warnings["R001"] = []models.WarningRecord{
		{RegionCode: "R001", Level: models.LevelGreen, CreatedAt: recent},
		{RegionCode: "R001", Level: models.LevelYellow, CreatedAt: old},
		{RegionCode: "R001", Level: models.LevelOrange, CreatedAt: recent},
	}

	count, err := s.HistoricalPressureCount(ctx, "R001", time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 qualifying warning within window, got %d", count)
	}
}

func TestInMemoryStore_PreviousWarningNilWhenNoHistory(t *testing.T) {
	s := NewInMemoryStore()
	prev, err := s.PreviousWarning(context.Background(), "unknown")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if prev != nil {
		t.Errorf("expected nil, got %+v", prev)
	}
}

func TestInMemoryStore_ListRegionsStableOrder(t *testing.T) {
	s := NewInMemoryStore()
	s.SeedRegion(models.Region{Code: "R002", Name: "Two"})
	s.SeedRegion(models.Region{Code: "R001", Name: "One"})

	regions, err := s.ListRegions(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(regions) != 2 || regions[0].Code != "R001" || regions[1].Code != "R002" {
		t.Errorf("expected stable code order, got %+v", regions)
	}
}

func TestInMemoryStore_Health(t *testing.T) {
	if err := NewInMemoryStore().Health(context.Background()); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}
