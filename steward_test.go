package steward

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

// approveEverything answers every approval request with the given
// decision, standing in for a human on the other end of the bus.
func approveEverything(t *testing.T, sys *System, approved bool) {
	t.Helper()
	sys.Bus.Subscribe(EventApprovalRequested, func(ctx context.Context, ev Event) {
		alertID, _ := ev.Payload["alertId"].(string)
		d := DecisionPayload{AlertID: alertID, Approved: approved, User: "tester"}
		if _, err := sys.Bus.Publish(ctx, EventDecision, d.ToPayload()); err != nil {
			t.Errorf("publish decision: %v", err)
		}
	})
}

func TestInMemorySystemRunsFeatureWorkflow(t *testing.T) {
	sys := NewInMemorySystem(Options{})
	ctx := context.Background()

	run, err := sys.Engine.Create("feature", []string{"a", "b", "c"}, []string{"x", "y", "z"}, "high")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := sys.Engine.Start(ctx, run.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if got.Status != StatusCompleted {
		t.Fatalf("expected %s, got %s", StatusCompleted, got.Status)
	}

	events, err := sys.Bus.GetEvents(ctx, "", time.Time{})
	if err != nil {
		t.Fatalf("get events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 step events, got %d", len(events))
	}
}

func TestInMemorySystemApprovalRoundTrip(t *testing.T) {
	sys := NewInMemorySystem(Options{
		PollInterval: 5 * time.Millisecond,
		GateTimeout:  100 * time.Millisecond,
	})
	ctx := context.Background()
	approveEverything(t, sys, true)

	run, err := sys.Engine.Create("automated_deployment",
		[]string{"deployer", "manager", "deployer"},
		[]string{"prepare", "sign-off", "roll-out"},
		"high",
	)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := sys.Engine.Start(ctx, run.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if got.Status != StatusCompleted {
		t.Fatalf("expected %s, got %s", StatusCompleted, got.Status)
	}

	decisions, err := sys.Bus.GetEvents(ctx, EventDecision, time.Time{})
	if err != nil {
		t.Fatalf("get events: %v", err)
	}
	if len(decisions) != 1 {
		t.Fatalf("expected 1 decision event, got %d", len(decisions))
	}
}

func TestFileSystemSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	sys, err := NewFileSystem(ctx, dir, Options{})
	if err != nil {
		t.Fatalf("new file system: %v", err)
	}

	run, err := sys.Engine.Create("feature", []string{"a", "b", "c"}, []string{"x", "y", "z"}, "low")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := sys.Engine.Start(ctx, run.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	// A second system over the same directory sees the log and the
	// metrics the first one wrote.
	reopened, err := NewFileSystem(ctx, dir, Options{})
	if err != nil {
		t.Fatalf("reopen file system: %v", err)
	}

	events, err := reopened.Bus.GetEvents(ctx, "", time.Time{})
	if err != nil {
		t.Fatalf("get events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 replayed events, got %d", len(events))
	}

	snap := reopened.Metrics.Snapshot()
	if snap.Counters["workflowsCompleted"] != 1 {
		t.Fatalf("workflowsCompleted = %d, want 1", snap.Counters["workflowsCompleted"])
	}
}

func TestSQLiteSystemPersistsRuns(t *testing.T) {
	ctx := context.Background()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	sys, err := NewSQLiteSystem(ctx, db, Options{})
	if err != nil {
		t.Fatalf("new sqlite system: %v", err)
	}

	run, err := sys.Engine.Create("bug_triage", []string{"a", "b", "c"}, []string{"x", "y", "z"}, "medium")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := sys.Engine.Start(ctx, run.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	stored, err := sys.Engine.GetRun(run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if stored.Status != StatusCompleted {
		t.Fatalf("expected %s, got %s", StatusCompleted, stored.Status)
	}

	runs, err := sys.Engine.ListRuns(RunListOptions{Status: StatusCompleted})
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 completed run, got %d", len(runs))
	}
}

func TestSystemCreateValidation(t *testing.T) {
	sys := NewInMemorySystem(Options{})

	if _, err := sys.Engine.Create("no_such_template", nil, nil, ""); !IsValidationError(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
