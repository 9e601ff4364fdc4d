package repo

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

	"github.com/miradorstack/mirador-cognition/internal/models"
)

const stateSchema = `
CREATE TABLE IF NOT EXISTS active_anomalies (
	metric_key TEXT PRIMARY KEY,
	anomaly_id TEXT NOT NULL,
	body       TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS analyses (
	anomaly_id TEXT PRIMARY KEY,
	body       TEXT NOT NULL,
	created_at TEXT NOT NULL
);`

// SQLiteStateStore persists the active anomaly set and the latest RCA result
// per anomaly so that a restart keeps ids, start times and acknowledgements.
type SQLiteStateStore struct {
	db *sql.DB
}

// OpenStateStore opens or creates the SQLite database at path.
func OpenStateStore(ctx context.Context, path string) (*SQLiteStateStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("state store: failed to create directory %s: %w", dir, err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("state store: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, stateSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("state store: migrate: %w", err)
	}
	return &SQLiteStateStore{db: db}, nil
}

// SaveSnapshot replaces the persisted active set with anomalies.
func (s *SQLiteStateStore) SaveSnapshot(ctx context.Context, anomalies []models.Anomaly) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("state store: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM active_anomalies`); err != nil {
		return fmt.Errorf("state store: clear snapshot: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for i := range anomalies {
		a := &anomalies[i]
		body, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("state store: encode anomaly %s: %w", a.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO active_anomalies (metric_key, anomaly_id, body, updated_at) VALUES (?, ?, ?, ?)`,
			a.MetricKey(), a.ID, string(body), now,
		); err != nil {
			return fmt.Errorf("state store: insert anomaly %s: %w", a.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("state store: commit: %w", err)
	}
	return nil
}

// LoadSnapshot returns the persisted active set ordered by metric key.
func (s *SQLiteStateStore) LoadSnapshot(ctx context.Context) ([]models.Anomaly, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT body FROM active_anomalies ORDER BY metric_key`)
	if err != nil {
		return nil, fmt.Errorf("state store: query snapshot: %w", err)
	}
	defer rows.Close()

	out := make([]models.Anomaly, 0)
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("state store: scan anomaly: %w", err)
		}
		var a models.Anomaly
		if err := json.Unmarshal([]byte(body), &a); err != nil {
			return nil, fmt.Errorf("state store: decode anomaly: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SaveAnalysis stores result as the latest analysis for its anomaly.
func (s *SQLiteStateStore) SaveAnalysis(ctx context.Context, result models.RCAResult) error {
	if result.AnomalyID == "" {
		return errors.New("state store: analysis without anomaly id")
	}
	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("state store: encode analysis: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO analyses (anomaly_id, body, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(anomaly_id) DO UPDATE SET body = excluded.body, created_at = excluded.created_at`,
		result.AnomalyID, string(body), result.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("state store: save analysis %s: %w", result.AnomalyID, err)
	}
	return nil
}

// LatestAnalysis returns the stored analysis for anomalyID, or nil when none exists.
func (s *SQLiteStateStore) LatestAnalysis(ctx context.Context, anomalyID string) (*models.RCAResult, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM analyses WHERE anomaly_id = ?`, anomalyID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("state store: load analysis %s: %w", anomalyID, err)
	}
	var result models.RCAResult
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		return nil, fmt.Errorf("state store: decode analysis: %w", err)
	}
	return &result, nil
}

// DeleteAnalysis forgets the analysis for anomalyID.
func (s *SQLiteStateStore) DeleteAnalysis(ctx context.Context, anomalyID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM analyses WHERE anomaly_id = ?`, anomalyID); err != nil {
		return fmt.Errorf("state store: delete analysis %s: %w", anomalyID, err)
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStateStore) Close() error {
	return s.db.Close()
}
