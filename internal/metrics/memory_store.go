package metrics

import (
	"context"
	"sync"
)

// MemoryStore is a non-durable Store for tests.
type MemoryStore struct {
	mu   sync.Mutex
	snap Snapshot
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snap: Snapshot{
			Counters:          make(map[string]int64),
			WorkflowDurations: make(map[string]float64),
		},
	}
}

func (s *MemoryStore) Load(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copySnapshot(s.snap), nil
}

func (s *MemoryStore) Save(ctx context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = copySnapshot(snap)
	return nil
}

func copySnapshot(in Snapshot) Snapshot {
	out := Snapshot{
		Counters:          make(map[string]int64, len(in.Counters)),
		WorkflowDurations: make(map[string]float64, len(in.WorkflowDurations)),
	}
	for k, v := range in.Counters {
		out.Counters[k] = v
	}
	for k, v := range in.WorkflowDurations {
		out.WorkflowDurations[k] = v
	}
	return out
}
