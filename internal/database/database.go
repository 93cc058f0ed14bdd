package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"peacasso-client/internal/models"
)

// DB is the result ledger: one row per result a worker produced
type DB struct {
	*sql.DB
}

// New opens the ledger database
func New(dataSourceName string) (*DB, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, err
	}
	// Workers write concurrently; a single connection serialises them
	// instead of surfacing SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	return &DB{db}, nil
}

// InitSchema initializes the database schema
func (db *DB) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id TEXT NOT NULL,
		origin TEXT NOT NULL DEFAULT '',
		produced_by TEXT NOT NULL,
		cache_hit INTEGER NOT NULL,
		bytes INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_results_job ON results(job_id);
	CREATE INDEX IF NOT EXISTS idx_results_created ON results(created_at);
	`

	_, err := db.Exec(schema)
	return err
}

// RecordResult appends a result to the ledger
func (db *DB) RecordResult(ctx context.Context, r *models.Result) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO results (job_id, origin, produced_by, cache_hit, bytes, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, r.JobID, r.Origin, r.ProducedBy, r.CacheHit, len(r.Artifact),
		r.Duration.Milliseconds(), r.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert result %s: %w", r.JobID, err)
	}
	return nil
}

// ListResults returns the most recent results, newest first
func (db *DB) ListResults(ctx context.Context, limit int) ([]models.ResultRecord, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT job_id, origin, produced_by, cache_hit, bytes, duration_ms, created_at
		FROM results ORDER BY created_at DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []models.ResultRecord{}
	for rows.Next() {
		var rec models.ResultRecord
		var createdAt time.Time
		if err := rows.Scan(&rec.JobID, &rec.Origin, &rec.ProducedBy, &rec.CacheHit,
			&rec.Bytes, &rec.DurationMs, &createdAt); err != nil {
			return nil, err
		}
		rec.CreatedAt = createdAt
		records = append(records, rec)
	}
	return records, rows.Err()
}

// GetStats aggregates the ledger
func (db *DB) GetStats(ctx context.Context) (*models.Stats, error) {
	stats := models.Stats{ByDevice: map[string]int64{}}

	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(cache_hit), 0),
		       COALESCE(SUM(bytes), 0),
		       COALESCE(AVG(CASE WHEN cache_hit = 0 THEN duration_ms END), 0)
		FROM results
	`).Scan(&stats.TotalResults, &stats.CacheHits, &stats.TotalBytes, &stats.AvgDurationMs)
	if err != nil {
		return nil, err
	}
	stats.Generated = stats.TotalResults - stats.CacheHits

	rows, err := db.QueryContext(ctx, "SELECT produced_by, COUNT(*) FROM results GROUP BY produced_by")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var device string
		var count int64
		if err := rows.Scan(&device, &count); err != nil {
			return nil, err
		}
		stats.ByDevice[device] = count
	}
	return &stats, rows.Err()
}
