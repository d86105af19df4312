package eventlog

import (
	"context"
	"sync"

	"github.com/petrijr/steward/pkg/api"
)

// MemoryLog is a goroutine-safe Log backed by a slice. It is non-durable
// and intended for tests.
type MemoryLog struct {
	mu     sync.RWMutex
	events []api.Event
}

var _ Log = (*MemoryLog)(nil)

// NewMemoryLog creates an empty MemoryLog.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

func (l *MemoryLog) Append(ctx context.Context, ev api.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.events = append(l.events, ev)
	return nil
}

func (l *MemoryLog) List(ctx context.Context) ([]api.Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]api.Event, len(l.events))
	copy(out, l.events)
	return out, nil
}

func (l *MemoryLog) Clear(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.events = nil
	return nil
}
