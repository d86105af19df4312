package metrics

import (
	"context"
	"database/sql"
)

// SQLiteStore persists metrics in SQLite.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"); the caller imports the driver.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore initializes the required schema and returns a new
// SQLiteStore.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS metric_counters (
			name TEXT PRIMARY KEY,
			value INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS workflow_durations (
			name TEXT PRIMARY KEY,
			seconds REAL NOT NULL
		);
	`)
	return err
}

func (s *SQLiteStore) Load(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{
		Counters:          make(map[string]int64),
		WorkflowDurations: make(map[string]float64),
	}

	rows, err := s.db.QueryContext(ctx, `SELECT name, value FROM metric_counters`)
	if err != nil {
		return snap, err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		var value int64
		if err := rows.Scan(&name, &value); err != nil {
			return snap, err
		}
		snap.Counters[name] = value
	}
	if err := rows.Err(); err != nil {
		return snap, err
	}

	durRows, err := s.db.QueryContext(ctx, `SELECT name, seconds FROM workflow_durations`)
	if err != nil {
		return snap, err
	}
	defer durRows.Close()
	for durRows.Next() {
		var name string
		var seconds float64
		if err := durRows.Scan(&name, &seconds); err != nil {
			return snap, err
		}
		snap.WorkflowDurations[name] = seconds
	}
	return snap, durRows.Err()
}

func (s *SQLiteStore) Save(ctx context.Context, snap Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for name, value := range snap.Counters {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO metric_counters (name, value) VALUES (?, ?)
			ON CONFLICT(name) DO UPDATE SET value = excluded.value`,
			name, value,
		); err != nil {
			return err
		}
	}
	for name, seconds := range snap.WorkflowDurations {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO workflow_durations (name, seconds) VALUES (?, ?)
			ON CONFLICT(name) DO UPDATE SET seconds = excluded.seconds`,
			name, seconds,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}
