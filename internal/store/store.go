package store

import (
	"context"
	"time"

	"github.com/terrarisk/hazardengine/internal/models"
)

// Store persists regions and their warning history (§3, §6 regions/warnings
// tables) and serves the read paths the Collection Orchestrator (C2) and
// Region Selector (C7) need. CommitBatch is the only write path and is
// expected to be one database transaction per batch (§4.5).
type Store interface {
	ListRegions(ctx context.Context) ([]models.Region, error)
	GetRegion(ctx context.Context, code string) (*models.Region, error)
	PreviousWarning(ctx context.Context, regionCode string) (*models.WarningRecord, error)
	HistoricalPressureCount(ctx context.Context, regionCode string, since time.Time) (int, error)
	CommitBatch(ctx context.Context, decisions []models.Decision, source string) error
	Health(ctx context.Context) error
}

// Database is the dependency-injected database handle. Its method set
// matches internal/database.DB so either a live Postgres pool or a test
// mock can satisfy it.
type Database interface {
	Exec(ctx context.Context, sql string, args ...any) error
	Query(ctx context.Context, sql string, args ...any) (interface{}, error)
	QueryRow(ctx context.Context, sql string, args ...any) interface{}
	Begin(ctx context.Context) (interface{}, error)
	Health(ctx context.Context) error
	IsConfigured() bool
}

// New creates a new store instance, preferring Postgres when configured and
// falling back to the in-memory store otherwise (single-process dev/test use).
func New(db Database) Store {
	if db.IsConfigured() {
		return NewPostgresStore(db)
	}
	return NewInMemoryStore()
}
