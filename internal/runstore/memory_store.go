package runstore

import (
	"sync"

	"github.com/petrijr/steward/pkg/api"
)

// MemoryStore is a goroutine-safe Store backed by a map.
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string]*api.WorkflowRun
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]*api.WorkflowRun)}
}

func (s *MemoryStore) SaveRun(run *api.WorkflowRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs[run.ID] = cloneRun(run)
	return nil
}

func (s *MemoryStore) UpdateRun(run *api.WorkflowRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[run.ID]; !ok {
		return api.ErrRunNotFound
	}
	s.runs[run.ID] = cloneRun(run)
	return nil
}

func (s *MemoryStore) GetRun(id string) (*api.WorkflowRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, api.ErrRunNotFound
	}
	return cloneRun(run), nil
}

func (s *MemoryStore) ListRuns(opts api.RunListOptions) ([]*api.WorkflowRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*api.WorkflowRun
	for _, run := range s.runs {
		if opts.TemplateName != "" && run.TemplateName != opts.TemplateName {
			continue
		}
		if opts.Status != "" && run.Status != opts.Status {
			continue
		}
		result = append(result, cloneRun(run))
	}
	return result, nil
}

// cloneRun copies the run so callers cannot mutate stored state behind the
// engine's back.
func cloneRun(run *api.WorkflowRun) *api.WorkflowRun {
	out := *run
	out.Steps = make([]api.WorkflowStep, len(run.Steps))
	copy(out.Steps, run.Steps)
	return &out
}
