package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/petrijr/steward/pkg/api"
)

// FileLog stores the log as a single JSON document with a top-level
// "events" array:
//
//	{"events": [{"timestamp": "...", "event": "...", "data": {...}}, ...]}
//
// The whole document is rewritten on each append, so it is only suitable
// for modest volumes; larger deployments should use the SQLite, Postgres
// or Redis log instead.
type FileLog struct {
	path string
}

var _ Log = (*FileLog)(nil)

type fileLogDocument struct {
	Events []fileLogRecord `json:"events"`
}

type fileLogRecord struct {
	Timestamp     string         `json:"timestamp"`
	Event         string         `json:"event"`
	Data          map[string]any `json:"data"`
	CorrelationID string         `json:"correlationId,omitempty"`
}

// NewFileLog creates a FileLog at path. The file is created lazily on the
// first append.
func NewFileLog(path string) *FileLog {
	return &FileLog{path: path}
}

func (l *FileLog) Append(ctx context.Context, ev api.Event) error {
	doc, err := l.read()
	if err != nil {
		return err
	}

	doc.Events = append(doc.Events, fileLogRecord{
		Timestamp:     ev.Timestamp.UTC().Format(time.RFC3339Nano),
		Event:         ev.Type,
		Data:          ev.Payload,
		CorrelationID: ev.CorrelationID,
	})

	return l.write(doc)
}

func (l *FileLog) List(ctx context.Context) ([]api.Event, error) {
	doc, err := l.read()
	if err != nil {
		return nil, err
	}

	out := make([]api.Event, 0, len(doc.Events))
	for _, rec := range doc.Events {
		ts, err := time.Parse(time.RFC3339Nano, rec.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("event log %s: bad timestamp %q: %w", l.path, rec.Timestamp, err)
		}
		out = append(out, api.Event{
			Type:          rec.Event,
			Payload:       rec.Data,
			Timestamp:     ts,
			CorrelationID: rec.CorrelationID,
		})
	}
	return out, nil
}

func (l *FileLog) Clear(ctx context.Context) error {
	return l.write(fileLogDocument{Events: []fileLogRecord{}})
}

func (l *FileLog) read() (fileLogDocument, error) {
	var doc fileLogDocument

	data, err := os.ReadFile(l.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return doc, nil
		}
		return doc, err
	}
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("event log %s: %w", l.path, err)
	}
	return doc, nil
}

// write replaces the document atomically: write to a temp file in the same
// directory, then rename over the target.
func (l *FileLog) write(doc fileLogDocument) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".events-*.json")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, l.path)
}
