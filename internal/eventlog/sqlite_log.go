package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/petrijr/steward/pkg/api"
)

// SQLiteLog is a Log backed by SQLite.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing the
// driver, e.g.:
//
//	import _ "modernc.org/sqlite"
type SQLiteLog struct {
	db *sql.DB
}

var _ Log = (*SQLiteLog)(nil)

// NewSQLiteLog initializes the required schema in the given database and
// returns a new SQLiteLog.
func NewSQLiteLog(db *sql.DB) (*SQLiteLog, error) {
	l := &SQLiteLog{db: db}
	if err := l.initSchema(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *SQLiteLog) initSchema() error {
	_, err := l.db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			at INTEGER NOT NULL,
			type TEXT NOT NULL,
			payload BLOB,
			correlation_id TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_events_type ON events(type, id);
	`)
	return err
}

func (l *SQLiteLog) Append(ctx context.Context, ev api.Event) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return err
	}
	_, err = l.db.ExecContext(ctx, `
		INSERT INTO events (at, type, payload, correlation_id)
		VALUES (?, ?, ?, ?)`,
		ev.Timestamp.UnixNano(),
		ev.Type,
		payload,
		ev.CorrelationID,
	)
	return err
}

func (l *SQLiteLog) List(ctx context.Context) ([]api.Event, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT at, type, payload, correlation_id
		FROM events
		ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []api.Event
	for rows.Next() {
		var (
			atN     int64
			typ     string
			payload []byte
			corrID  string
		)
		if err := rows.Scan(&atN, &typ, &payload, &corrID); err != nil {
			return nil, err
		}

		var data map[string]any
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &data); err != nil {
				return nil, err
			}
		}

		out = append(out, api.Event{
			Type:          typ,
			Payload:       data,
			Timestamp:     time.Unix(0, atN),
			CorrelationID: corrID,
		})
	}
	return out, rows.Err()
}

func (l *SQLiteLog) Clear(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, `DELETE FROM events`)
	return err
}
