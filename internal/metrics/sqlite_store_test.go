package metrics

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func newSQLiteTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := NewSQLiteStore(db)
	require.NoError(t, err)
	return store
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteTestStore(t)

	require.NoError(t, store.Save(ctx, Snapshot{
		Counters:          map[string]int64{CounterWorkflowsStarted: 4, CounterEscalations: 1},
		WorkflowDurations: map[string]float64{"automated_deployment": 12.5},
	}))

	snap, err := store.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(4), snap.Counters[CounterWorkflowsStarted])
	require.Equal(t, int64(1), snap.Counters[CounterEscalations])
	require.Equal(t, 12.5, snap.WorkflowDurations["automated_deployment"])
}

func TestSQLiteStoreSaveOverwrites(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteTestStore(t)

	require.NoError(t, store.Save(ctx, Snapshot{
		Counters:          map[string]int64{CounterWorkflowsStarted: 1},
		WorkflowDurations: map[string]float64{},
	}))
	require.NoError(t, store.Save(ctx, Snapshot{
		Counters:          map[string]int64{CounterWorkflowsStarted: 5},
		WorkflowDurations: map[string]float64{"feature": 0.25},
	}))

	snap, err := store.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(5), snap.Counters[CounterWorkflowsStarted])
	require.Equal(t, 0.25, snap.WorkflowDurations["feature"])
}

func TestSQLiteStoreEmptyLoad(t *testing.T) {
	store := newSQLiteTestStore(t)
	snap, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Empty(t, snap.Counters)
	require.Empty(t, snap.WorkflowDurations)
}
