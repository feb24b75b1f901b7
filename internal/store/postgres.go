package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/terrarisk/hazardengine/internal/models"
)

// PostgresStore implements Store using PostgreSQL via the shared Database
// abstraction (internal/database.DB), following the same raw-SQL upsert
// idiom and pgx.Rows/pgx.Row type assertions as the engine's other
// Postgres-backed component.
type PostgresStore struct {
	db Database
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(db Database) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the regions/warnings tables if they do not already
// exist (§6). Safe to call on every startup.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS regions (
			code TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			lat DOUBLE PRECISION,
			lon DOUBLE PRECISION,
			risk_level TEXT NOT NULL DEFAULT 'green',
			last_updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS warnings (
			id BIGSERIAL PRIMARY KEY,
			region_id TEXT NOT NULL REFERENCES regions(code),
			level TEXT NOT NULL,
			reason TEXT NOT NULL,
			meteorology TEXT NOT NULL,
			confidence DOUBLE PRECISION NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			source TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_warnings_region_created
			ON warnings (region_id, created_at DESC)`,
	}
	for _, stmt := range statements {
		if err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// ListRegions returns every known region in stable code order, the ordering
// full-mode region selection relies on (§4.7).
func (s *PostgresStore) ListRegions(ctx context.Context) ([]models.Region, error) {
	query := `SELECT code, name, lat, lon, risk_level, last_updated_at FROM regions ORDER BY code`

	rowsInterface, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list regions: %w", err)
	}
	rows, ok := rowsInterface.(pgx.Rows)
	if !ok {
		return nil, fmt.Errorf("invalid rows type")
	}
	defer rows.Close()

	var regions []models.Region
	for rows.Next() {
		var r models.Region
		if err := rows.Scan(&r.Code, &r.Name, &r.Lat, &r.Lon, &r.RiskLevel, &r.LastUpdatedAt); err != nil {
			return nil, fmt.Errorf("scan region: %w", err)
		}
		regions = append(regions, r)
	}
	return regions, nil
}

// GetRegion retrieves a single region by code.
func (s *PostgresStore) GetRegion(ctx context.Context, code string) (*models.Region, error) {
	query := `SELECT code, name, lat, lon, risk_level, last_updated_at FROM regions WHERE code = $1`

	rowInterface := s.db.QueryRow(ctx, query, code)
	row, ok := rowInterface.(pgx.Row)
	if !ok {
		return nil, fmt.Errorf("invalid row type")
	}

	var r models.Region
	if err := row.Scan(&r.Code, &r.Name, &r.Lat, &r.Lon, &r.RiskLevel, &r.LastUpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan region: %w", err)
	}
	return &r, nil
}

// PreviousWarning returns the most recent WarningRecord for a region, or nil
// if the region has never had one.
func (s *PostgresStore) PreviousWarning(ctx context.Context, regionCode string) (*models.WarningRecord, error) {
	query := `
		SELECT id, region_id, level, reason, meteorology, confidence, created_at, source
		FROM warnings
		WHERE region_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`
	rowInterface := s.db.QueryRow(ctx, query, regionCode)
	row, ok := rowInterface.(pgx.Row)
	if !ok {
		return nil, fmt.Errorf("invalid row type")
	}

	var w models.WarningRecord
	if err := row.Scan(&w.ID, &w.RegionCode, &w.Level, &w.Reason, &w.Meteorology, &w.Confidence, &w.CreatedAt, &w.Source); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan previous warning: %w", err)
	}
	return &w, nil
}

// pressureLevels are the levels that count toward the historical-pressure
// window (§4.2: "level ≥ yellow").
var pressureLevels = []string{models.LevelYellow, models.LevelOrange, models.LevelRed}

// HistoricalPressureCount counts qualifying warnings for a region since a
// given time (§4.2).
func (s *PostgresStore) HistoricalPressureCount(ctx context.Context, regionCode string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM warnings
		WHERE region_id = $1 AND created_at >= $2 AND level = ANY($3)
	`
	rowInterface := s.db.QueryRow(ctx, query, regionCode, since, pressureLevels)
	row, ok := rowInterface.(pgx.Row)
	if !ok {
		return 0, fmt.Errorf("invalid row type")
	}

	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("scan pressure count: %w", err)
	}
	return count, nil
}

// CommitBatch writes one batch's decisions as a single transaction (§4.5):
// every region's risk_level/last_updated_at is updated and a warnings row is
// inserted, or none of it is, so a crash mid-batch never leaves a region's
// latest WarningRecord disagreeing with its risk_level (§3 invariant i).
func (s *PostgresStore) CommitBatch(ctx context.Context, decisions []models.Decision, source string) error {
	if len(decisions) == 0 {
		return nil
	}

	txInterface, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin batch transaction: %w", err)
	}
	tx, ok := txInterface.(pgx.Tx)
	if !ok {
		return fmt.Errorf("invalid transaction type")
	}

	now := time.Now().UTC()
	for _, d := range decisions {
		met, err := json.Marshal(d.Meteorology)
		if err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("marshal meteorology for %s: %w", d.RegionCode, err)
		}

		if _, err := tx.Exec(ctx, `UPDATE regions SET risk_level = $1, last_updated_at = $2 WHERE code = $3`,
			d.Level, now, d.RegionCode); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("update region %s: %w", d.RegionCode, err)
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO warnings (region_id, level, reason, meteorology, confidence, created_at, source)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, d.RegionCode, d.Level, d.Reason, string(met), d.Confidence, now, source); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("insert warning %s: %w", d.RegionCode, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// Health checks the database connection.
func (s *PostgresStore) Health(ctx context.Context) error {
	return s.db.Health(ctx)
}
