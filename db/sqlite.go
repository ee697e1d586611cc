package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Prediction is one stored outcome of the prediction flow.
type Prediction struct {
	ID         string             `json:"id"`
	RequestID  string             `json:"request_id,omitempty"`
	Variant    string             `json:"variant"`
	Features   map[string]float64 `json:"features"`
	Label      int                `json:"label"`
	HighRisk   bool               `json:"high_risk"`
	Confidence float64            `json:"confidence"`
	CreatedAt  time.Time          `json:"created_at"`
}

// Store keeps prediction history in SQLite.
type Store struct {
	db *sql.DB
}

// Open initializes the SQLite database at path, creating parent directories.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}
	database, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database failed: %w", err)
	}
	// A single connection keeps ":memory:" databases shared across queries.
	database.SetMaxOpenConns(1)

	query := `
    CREATE TABLE IF NOT EXISTS predictions (
        id TEXT PRIMARY KEY,
        request_id TEXT,
        variant VARCHAR(20) NOT NULL,
        features TEXT NOT NULL,
        predicted_label INTEGER NOT NULL,
        high_risk INTEGER NOT NULL,
        confidence REAL NOT NULL,
        created_at DATETIME NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_predictions_created_at ON predictions(created_at);
    `
	if _, err := database.Exec(query); err != nil {
		database.Close()
		return nil, fmt.Errorf("create tables failed: %w", err)
	}
	return &Store{db: database}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SavePrediction inserts p.
func (s *Store) SavePrediction(ctx context.Context, p Prediction) error {
	features, err := json.Marshal(p.Features)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO predictions (id, request_id, variant, features, predicted_label, high_risk, confidence, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.RequestID, p.Variant, string(features), p.Label, p.HighRisk, p.Confidence, p.CreatedAt.UTC())
	return err
}

// RecentPredictions returns up to limit predictions, newest first. An empty variant
// matches all variants.
func (s *Store) RecentPredictions(ctx context.Context, variant string, limit int) ([]Prediction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, request_id, variant, features, predicted_label, high_risk, confidence, created_at
        FROM predictions
        WHERE (? = '' OR variant = ?)
        ORDER BY created_at DESC
        LIMIT ?`, variant, variant, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Prediction
	for rows.Next() {
		var p Prediction
		var requestID sql.NullString
		var features string
		if err := rows.Scan(&p.ID, &requestID, &p.Variant, &features, &p.Label, &p.HighRisk, &p.Confidence, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.RequestID = requestID.String
		if err := json.Unmarshal([]byte(features), &p.Features); err != nil {
			return nil, fmt.Errorf("prediction %s: %w", p.ID, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CountByVariant returns how many predictions each variant produced.
func (s *Store) CountByVariant(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT variant, COUNT(*) FROM predictions GROUP BY variant`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var variant string
		var n int
		if err := rows.Scan(&variant, &n); err != nil {
			return nil, err
		}
		counts[variant] = n
	}
	return counts, rows.Err()
}
