// Package store persists measurement results in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kwv/roofmesh/internal/logging"
	"github.com/kwv/roofmesh/roof"
)

// Review statuses recorded per measurement.
const (
	StatusAccepted = "accepted"
	StatusReview   = "review"
	StatusFailed   = "failed"
)

// DefaultListLimit caps List when no limit is given.
const DefaultListLimit = 100

// ErrNotFound is returned by Get for an unknown measurement ID.
var ErrNotFound = errors.New("measurement not found")

// Record is the index row of a stored measurement.
type Record struct {
	ID           string    `json:"id"`
	RequestedAt  time.Time `json:"requestedAt"`
	Lat          float64   `json:"lat"`
	Lng          float64   `json:"lng"`
	Status       string    `json:"status"`
	OverallScore float64   `json:"overallScore"`
	Source       string    `json:"footprintSource"`
}

// StatusFor maps a result to its review status: accepted when QA passed
// without manual review, failed when the pipeline or the gate failed, review
// otherwise.
func StatusFor(r *roof.MeasurementResult) string {
	switch {
	case r == nil || !r.Success || r.QA == nil || !r.QA.Passed:
		return StatusFailed
	case r.QA.RequiresManualReview:
		return StatusReview
	}
	return StatusAccepted
}

// migrations are applied in order; the index of each is its version.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS measurements (
		id TEXT PRIMARY KEY,
		requested_at INTEGER NOT NULL,
		lat REAL NOT NULL,
		lng REAL NOT NULL,
		status TEXT NOT NULL,
		overall_score REAL NOT NULL DEFAULT 0,
		footprint_source TEXT NOT NULL DEFAULT '',
		result TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_measurements_status ON measurements(status, requested_at DESC)`,
}

// Store is a SQLite-backed measurement repository.
type Store struct {
	db     *sql.DB
	logger logging.Logger
}

// Open opens (creating if needed) the database at path and applies the
// schema.
func Open(path string, logger logging.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	s := &Store{db: db, logger: logging.OrNoop(logger)}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.logger.Info(context.Background(), "store opened", logging.String("path", path))
	return s, nil
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS migrations (
		version INTEGER PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}
	var current int
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM migrations`).Scan(&current); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}
	for i := current; i < len(migrations); i++ {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(migrations[i]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(`INSERT INTO migrations (version, applied_at) VALUES (?, ?)`, i+1, time.Now().Unix()); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", i+1, err)
		}
	}
	return nil
}

// Save stores result, replacing any earlier row with the same ID, and
// returns the status it was filed under.
func (s *Store) Save(ctx context.Context, result *roof.MeasurementResult) (string, error) {
	if result == nil || result.ID == "" {
		return "", errors.New("measurement has no id")
	}
	data, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("marshaling measurement: %w", err)
	}
	status := StatusFor(result)
	var score float64
	if result.QA != nil {
		score = result.QA.OverallScore
	}
	_, err = s.db.ExecContext(ctx, `INSERT OR REPLACE INTO measurements
		(id, requested_at, lat, lng, status, overall_score, footprint_source, result)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		result.ID, result.RequestedAt.UnixMilli(), result.Lat, result.Lng,
		status, score, result.APISources.Footprint, string(data))
	if err != nil {
		return "", fmt.Errorf("saving measurement %s: %w", result.ID, err)
	}
	return status, nil
}

// Get loads the full result for id.
func (s *Store) Get(ctx context.Context, id string) (*roof.MeasurementResult, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT result FROM measurements WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading measurement %s: %w", id, err)
	}
	var result roof.MeasurementResult
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		return nil, fmt.Errorf("decoding measurement %s: %w", id, err)
	}
	return &result, nil
}

// List returns the newest records first, optionally filtered by status.
func (s *Store) List(ctx context.Context, status string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	query := `SELECT id, requested_at, lat, lng, status, overall_score, footprint_source FROM measurements`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY requested_at DESC, id LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing measurements: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var r Record
		var requested int64
		if err := rows.Scan(&r.ID, &requested, &r.Lat, &r.Lng, &r.Status, &r.OverallScore, &r.Source); err != nil {
			return nil, fmt.Errorf("scanning measurement row: %w", err)
		}
		r.RequestedAt = time.UnixMilli(requested).UTC()
		records = append(records, r)
	}
	return records, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
