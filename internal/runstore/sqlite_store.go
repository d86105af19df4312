package runstore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/petrijr/steward/pkg/api"
)

// SQLiteStore is a Store backed by SQLite.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing the
// driver.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore initializes the required schema in the given database and
// returns a new SQLiteStore.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			template_name TEXT NOT NULL,
			status TEXT NOT NULL,
			current_step INTEGER NOT NULL,
			priority TEXT NOT NULL DEFAULT '',
			steps BLOB,
			started_at INTEGER NOT NULL DEFAULT 0,
			ended_at INTEGER NOT NULL DEFAULT 0,
			error TEXT
		);`,
	)
	return err
}

func (s *SQLiteStore) SaveRun(run *api.WorkflowRun) error {
	steps, err := json.Marshal(run.Steps)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO runs (id, template_name, status, current_step, priority, steps, started_at, ended_at, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.TemplateName,
		string(run.Status),
		run.CurrentStepIndex,
		run.Priority,
		steps,
		timeToNanos(run.StartedAt),
		timeToNanos(run.EndedAt),
		errString(run.Err),
	)
	return err
}

func (s *SQLiteStore) UpdateRun(run *api.WorkflowRun) error {
	steps, err := json.Marshal(run.Steps)
	if err != nil {
		return err
	}

	res, err := s.db.Exec(`
		UPDATE runs
		SET template_name = ?, status = ?, current_step = ?, priority = ?, steps = ?, started_at = ?, ended_at = ?, error = ?
		WHERE id = ?`,
		run.TemplateName,
		string(run.Status),
		run.CurrentStepIndex,
		run.Priority,
		steps,
		timeToNanos(run.StartedAt),
		timeToNanos(run.EndedAt),
		errString(run.Err),
		run.ID,
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return api.ErrRunNotFound
	}
	return nil
}

func (s *SQLiteStore) GetRun(id string) (*api.WorkflowRun, error) {
	row := s.db.QueryRow(`
		SELECT id, template_name, status, current_step, priority, steps, started_at, ended_at, error
		FROM runs
		WHERE id = ?`,
		id,
	)

	run, err := scanRun(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, api.ErrRunNotFound
		}
		return nil, err
	}
	return run, nil
}

func (s *SQLiteStore) ListRuns(opts api.RunListOptions) ([]*api.WorkflowRun, error) {
	query := `
		SELECT id, template_name, status, current_step, priority, steps, started_at, ended_at, error
		FROM runs`
	var args []any
	var clauses []string

	if opts.TemplateName != "" {
		clauses = append(clauses, "template_name = ?")
		args = append(args, opts.TemplateName)
	}
	if opts.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(opts.Status))
	}
	if len(clauses) > 0 {
		query = query + " WHERE " + strings.Join(clauses, " AND ")
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*api.WorkflowRun
	for rows.Next() {
		run, err := scanRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return runs, nil
}

func scanRun(scan func(dest ...any) error) (*api.WorkflowRun, error) {
	var (
		run       api.WorkflowRun
		statusStr string
		steps     []byte
		startedAt int64
		endedAt   int64
		errStr    sql.NullString
	)
	if err := scan(&run.ID, &run.TemplateName, &statusStr, &run.CurrentStepIndex, &run.Priority, &steps, &startedAt, &endedAt, &errStr); err != nil {
		return nil, err
	}

	run.Status = api.RunStatus(statusStr)
	run.StartedAt = nanosToTime(startedAt)
	run.EndedAt = nanosToTime(endedAt)

	if len(steps) > 0 {
		if err := json.Unmarshal(steps, &run.Steps); err != nil {
			return nil, err
		}
	}
	if errStr.Valid && errStr.String != "" {
		run.Err = errors.New(errStr.String)
	}
	return &run, nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func timeToNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func nanosToTime(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
