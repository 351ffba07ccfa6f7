package alert

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteArchive durably records accepted alerts for post-incident
// review. It is an optional collaborator: the in-memory ledger remains
// the source of truth for the live UI, the archive only appends.
type SQLiteArchive struct {
	db *sql.DB
}

// OpenArchive opens (creating if needed) the sqlite archive at path.
func OpenArchive(path string) (*SQLiteArchive, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open archive database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping archive database: %w", err)
	}

	a := &SQLiteArchive{db: db}
	if err := a.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate archive: %w", err)
	}

	return a, nil
}

func (a *SQLiteArchive) migrate() error {
	_, err := a.db.Exec(`CREATE TABLE IF NOT EXISTS alerts (
		id TEXT PRIMARY KEY,
		accepted_at TEXT NOT NULL,
		labels TEXT NOT NULL,
		scores TEXT NOT NULL,
		screenshot_path TEXT NOT NULL DEFAULT ''
	)`)
	if err != nil {
		return err
	}
	_, err = a.db.Exec(`CREATE INDEX IF NOT EXISTS idx_alerts_accepted_at ON alerts(accepted_at)`)
	return err
}

// Store appends one accepted alert. Implements Archiver.
func (a *SQLiteArchive) Store(r Record) error {
	labels, err := json.Marshal(r.Labels)
	if err != nil {
		return fmt.Errorf("marshal labels: %w", err)
	}
	scores, err := json.Marshal(r.Scores)
	if err != nil {
		return fmt.Errorf("marshal scores: %w", err)
	}

	_, err = a.db.Exec(
		`INSERT INTO alerts (id, accepted_at, labels, scores, screenshot_path) VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.Timestamp.UTC().Format(time.RFC3339Nano), string(labels), string(scores), r.ScreenshotPath,
	)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

// Since returns alerts accepted at or after the given instant, oldest
// first. Used for post-incident review tooling.
func (a *SQLiteArchive) Since(t time.Time) ([]Record, error) {
	rows, err := a.db.Query(
		`SELECT id, accepted_at, labels, scores, screenshot_path FROM alerts WHERE accepted_at >= ? ORDER BY accepted_at`,
		t.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var acceptedAt, labels, scores string
		if err := rows.Scan(&rec.ID, &acceptedAt, &labels, &scores, &rec.ScreenshotPath); err != nil {
			return nil, fmt.Errorf("scan alert row: %w", err)
		}
		rec.Timestamp, err = time.Parse(time.RFC3339Nano, acceptedAt)
		if err != nil {
			return nil, fmt.Errorf("parse alert timestamp: %w", err)
		}
		if err := json.Unmarshal([]byte(labels), &rec.Labels); err != nil {
			return nil, fmt.Errorf("unmarshal labels: %w", err)
		}
		if err := json.Unmarshal([]byte(scores), &rec.Scores); err != nil {
			return nil, fmt.Errorf("unmarshal scores: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Count returns the total archived alert count.
func (a *SQLiteArchive) Count() (int64, error) {
	var n int64
	err := a.db.QueryRow(`SELECT COUNT(*) FROM alerts`).Scan(&n)
	return n, err
}

// Close releases the database handle.
func (a *SQLiteArchive) Close() error {
	return a.db.Close()
}
