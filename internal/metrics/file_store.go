package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// FileStore persists metrics as a flat JSON object of named counters plus
// a nested "workflowDurations" map:
//
//	{"workflowsStarted": 3, ..., "workflowDurations": {"feature": 1.25}}
type FileStore struct {
	path string
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates a FileStore at path. The file is created lazily on
// the first save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Load(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{
		Counters:          make(map[string]int64),
		WorkflowDurations: make(map[string]float64),
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return snap, nil
		}
		return snap, err
	}
	if len(data) == 0 {
		return snap, nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return snap, err
	}

	for name, val := range raw {
		if name == "workflowDurations" {
			if err := json.Unmarshal(val, &snap.WorkflowDurations); err != nil {
				return snap, err
			}
			continue
		}
		var n int64
		if err := json.Unmarshal(val, &n); err != nil {
			return snap, err
		}
		snap.Counters[name] = n
	}
	return snap, nil
}

func (s *FileStore) Save(ctx context.Context, snap Snapshot) error {
	flat := make(map[string]any, len(snap.Counters)+1)
	for name, v := range snap.Counters {
		flat[name] = v
	}
	flat["workflowDurations"] = snap.WorkflowDurations

	data, err := json.MarshalIndent(flat, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".metrics-*.json")
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
	return os.Rename(tmpName, s.path)
}
