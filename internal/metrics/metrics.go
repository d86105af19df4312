// Package metrics implements the persistent counters and run-duration
// records kept by the orchestration engine.
package metrics

import (
	"context"
	"log/slog"
	"sync"
)

// Counter names used by the engine and CLI.
const (
	CounterCommandsReceived   = "commandsReceived"
	CounterHITLDecisions      = "hitlDecisions"
	CounterWorkflowsStarted   = "workflowsStarted"
	CounterWorkflowsCompleted = "workflowsCompleted"
	CounterWorkflowsPaused    = "workflowsPaused"
	CounterEscalations        = "escalations"
)

// Snapshot is an immutable view of the recorded metrics: flat named
// counters plus named workflow durations in seconds.
type Snapshot struct {
	Counters          map[string]int64
	WorkflowDurations map[string]float64
}

// Store persists metric snapshots.
type Store interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, snap Snapshot) error
}

// Recorder increments named counters and records named run durations,
// persisting through an injectable Store after each mutation so values
// survive restarts.
type Recorder struct {
	mu        sync.Mutex
	counters  map[string]int64
	durations map[string]float64

	store  Store
	logger *slog.Logger
}

// NewRecorder creates a Recorder over the given store and merges any
// previously persisted values into it. If logger is nil, slog.Default()
// is used.
func NewRecorder(ctx context.Context, store Store, logger *slog.Logger) (*Recorder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{
		counters:  make(map[string]int64),
		durations: make(map[string]float64),
		store:     store,
		logger:    logger,
	}
	if err := r.Reload(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload merges persisted values into the in-memory state additively.
// Counters add; durations keep the larger recorded value per name so a
// reload never shrinks what was already observed.
func (r *Recorder) Reload(ctx context.Context) error {
	snap, err := r.store.Load(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for name, v := range snap.Counters {
		r.counters[name] += v
	}
	for name, secs := range snap.WorkflowDurations {
		if secs > r.durations[name] {
			r.durations[name] = secs
		}
	}
	return nil
}

// Inc increments a named counter by one and persists.
func (r *Recorder) Inc(ctx context.Context, name string) {
	r.mu.Lock()
	r.counters[name]++
	snap := r.snapshotLocked()
	r.mu.Unlock()

	r.persist(ctx, snap)
}

// RecordDuration records a named workflow duration in seconds and
// persists.
func (r *Recorder) RecordDuration(ctx context.Context, name string, seconds float64) {
	r.mu.Lock()
	r.durations[name] = seconds
	snap := r.snapshotLocked()
	r.mu.Unlock()

	r.persist(ctx, snap)
}

// Snapshot returns a copy of the current metrics.
func (r *Recorder) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Flush persists the current state. Inc/RecordDuration already persist;
// Flush exists for shutdown paths.
func (r *Recorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	snap := r.snapshotLocked()
	r.mu.Unlock()
	return r.store.Save(ctx, snap)
}

func (r *Recorder) snapshotLocked() Snapshot {
	counters := make(map[string]int64, len(r.counters))
	for k, v := range r.counters {
		counters[k] = v
	}
	durations := make(map[string]float64, len(r.durations))
	for k, v := range r.durations {
		durations[k] = v
	}
	return Snapshot{Counters: counters, WorkflowDurations: durations}
}

// persist saves best-effort. Metrics loss is tolerable; a broken metrics
// store must not affect workflow state.
func (r *Recorder) persist(ctx context.Context, snap Snapshot) {
	if err := r.store.Save(ctx, snap); err != nil {
		r.logger.Warn("persist metrics failed", slog.Any("error", err))
	}
}
