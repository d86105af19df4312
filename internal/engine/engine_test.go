package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/petrijr/steward/internal/approval"
	"github.com/petrijr/steward/internal/bus"
	"github.com/petrijr/steward/internal/catalog"
	"github.com/petrijr/steward/internal/eventlog"
	"github.com/petrijr/steward/internal/metrics"
	"github.com/petrijr/steward/internal/runstore"
	"github.com/petrijr/steward/pkg/api"
)

type testNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *testNotifier) Notify(ctx context.Context, message, channel string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
	return nil
}

func (n *testNotifier) NotifyApprovalNeeded(ctx context.Context, reason, channel, alertID string) error {
	return nil
}

type fixture struct {
	engine   *Engine
	bus      *bus.EventBus
	log      *switchableLog
	metrics  *metrics.Recorder
	notifier *testNotifier
}

// switchableLog wraps a real log and fails appends of one event type on
// demand, to force a run into FAILED.
type switchableLog struct {
	inner    eventlog.Log
	mu       sync.Mutex
	failType string
}

func (l *switchableLog) failOn(eventType string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failType = eventType
}

func (l *switchableLog) Append(ctx context.Context, ev api.Event) error {
	l.mu.Lock()
	failType := l.failType
	l.mu.Unlock()
	if failType != "" && ev.Type == failType {
		return errors.New("log unavailable")
	}
	return l.inner.Append(ctx, ev)
}

func (l *switchableLog) List(ctx context.Context) ([]api.Event, error) { return l.inner.List(ctx) }

func (l *switchableLog) Clear(ctx context.Context) error { return l.inner.Clear(ctx) }

func newFixture(t *testing.T) *fixture {
	t.Helper()

	log := &switchableLog{inner: eventlog.NewMemoryLog()}
	b := bus.New(bus.Config{Log: log})
	notifier := &testNotifier{}
	gw := approval.New(approval.Config{
		Bus:          b,
		Notifier:     notifier,
		PollInterval: 5 * time.Millisecond,
	})
	rec, err := metrics.NewRecorder(context.Background(), metrics.NewMemoryStore(), nil)
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}

	eng := New(Config{
		Catalog:     catalog.NewWithBuiltins(),
		Bus:         b,
		Gateway:     gw,
		Metrics:     rec,
		Runs:        runstore.NewMemoryStore(),
		GateTimeout: 100 * time.Millisecond,
	})
	return &fixture{engine: eng, bus: b, log: log, metrics: rec, notifier: notifier}
}

// respondToApprovals answers every approval request on the bus with the
// given decision, as a human approver would out of band.
func respondToApprovals(t *testing.T, b *bus.EventBus, approved bool) {
	t.Helper()
	b.Subscribe(api.EventApprovalRequested, func(ctx context.Context, ev api.Event) {
		alertID, _ := ev.Payload["alertId"].(string)
		d := api.DecisionPayload{AlertID: alertID, Approved: approved, User: "tester"}
		if _, err := b.Publish(ctx, api.EventDecision, d.ToPayload()); err != nil {
			t.Errorf("publish decision: %v", err)
		}
	})
}

func mustCreate(t *testing.T, e *Engine, template string, n int) *api.WorkflowRun {
	t.Helper()
	agents := make([]string, n)
	commands := make([]string, n)
	for i := range agents {
		agents[i] = "agent"
		commands[i] = "run"
	}
	run, err := e.Create(template, agents, commands, "medium")
	if err != nil {
		t.Fatalf("create %s: %v", template, err)
	}
	return run
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		name     string
		template string
		agents   []string
		commands []string
	}{
		{"empty template name", "", nil, nil},
		{"unknown template", "no_such_template", nil, nil},
		{"agent count mismatch", "feature", []string{"a"}, []string{"x", "y", "z"}},
		{"command count mismatch", "feature", []string{"a", "b", "c"}, []string{"x"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.engine.Create(tc.template, tc.agents, tc.commands, "low")
			if !api.IsValidationError(err) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestCreateDerivesSteps(t *testing.T) {
	f := newFixture(t)

	run := mustCreate(t, f.engine, "automated_deployment", 3)
	if run.Status != api.StatusPending {
		t.Fatalf("new run must be %s, got %s", api.StatusPending, run.Status)
	}
	if len(run.Steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(run.Steps))
	}
	for i, step := range run.Steps {
		if step.ID == "" {
			t.Fatalf("step %d has no id", i)
		}
		if step.Status != api.StepPending {
			t.Fatalf("step %d status %s, want %s", i, step.Status, api.StepPending)
		}
	}
	// The gate depends on the step it guards, and the step after the
	// gate depends on the gate.
	if len(run.Steps[1].Dependencies) != 1 || run.Steps[1].Dependencies[0] != run.Steps[0].ID {
		t.Fatalf("gate dependencies wrong: %v", run.Steps[1].Dependencies)
	}
	if len(run.Steps[2].Dependencies) != 1 || run.Steps[2].Dependencies[0] != run.Steps[1].ID {
		t.Fatalf("post-gate dependencies wrong: %v", run.Steps[2].Dependencies)
	}
}

func TestStartRunsStepsInOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	run := mustCreate(t, f.engine, "feature", 3)
	got, err := f.engine.Start(ctx, run.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if got.Status != api.StatusCompleted {
		t.Fatalf("expected %s, got %s", api.StatusCompleted, got.Status)
	}
	if got.CurrentStepIndex != 3 {
		t.Fatalf("cursor must rest past the last step, got %d", got.CurrentStepIndex)
	}
	for i, step := range got.Steps {
		if step.Status != api.StepPublished {
			t.Fatalf("step %d status %s, want %s", i, step.Status, api.StepPublished)
		}
	}

	events, err := f.bus.GetEvents(ctx, "", time.Time{})
	if err != nil {
		t.Fatalf("get events: %v", err)
	}
	want := []string{"new_task", "user_story_requested", "test_generation_requested"}
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(events))
	}
	for i, ev := range events {
		if ev.Type != want[i] {
			t.Fatalf("event %d is %s, want %s", i, ev.Type, want[i])
		}
		if ev.CorrelationID != run.ID {
			t.Fatalf("event %d correlation %q, want run id %q", i, ev.CorrelationID, run.ID)
		}
	}

	snap := f.metrics.Snapshot()
	if snap.Counters[metrics.CounterWorkflowsStarted] != 1 {
		t.Fatalf("workflowsStarted = %d, want 1", snap.Counters[metrics.CounterWorkflowsStarted])
	}
	if snap.Counters[metrics.CounterWorkflowsCompleted] != 1 {
		t.Fatalf("workflowsCompleted = %d, want 1", snap.Counters[metrics.CounterWorkflowsCompleted])
	}
	if _, ok := snap.WorkflowDurations["feature"]; !ok {
		t.Fatalf("expected a recorded duration for feature, got %v", snap.WorkflowDurations)
	}
}

func TestStartRequiresPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	run := mustCreate(t, f.engine, "feature", 3)
	if _, err := f.engine.Start(ctx, run.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.engine.Start(ctx, run.ID); err == nil {
		t.Fatal("starting a completed run must fail")
	}
	if _, err := f.engine.Start(ctx, "run-missing"); !errors.Is(err, api.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func TestGateApprovedContinues(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	respondToApprovals(t, f.bus, true)

	run := mustCreate(t, f.engine, "automated_deployment", 3)
	got, err := f.engine.Start(ctx, run.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if got.Status != api.StatusCompleted {
		t.Fatalf("expected %s, got %s", api.StatusCompleted, got.Status)
	}
	if got.Steps[1].Status != api.StepApproved {
		t.Fatalf("gate step status %s, want %s", got.Steps[1].Status, api.StepApproved)
	}

	executed, err := f.bus.GetEvents(ctx, "deployment_executed", time.Time{})
	if err != nil {
		t.Fatalf("get events: %v", err)
	}
	if len(executed) != 1 {
		t.Fatal("post-gate step never ran")
	}

	snap := f.metrics.Snapshot()
	if snap.Counters[metrics.CounterHITLDecisions] != 1 {
		t.Fatalf("hitlDecisions = %d, want 1", snap.Counters[metrics.CounterHITLDecisions])
	}
}

func TestGateRejectedPausesAndEscalates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	respondToApprovals(t, f.bus, false)

	run := mustCreate(t, f.engine, "automated_deployment", 3)
	got, err := f.engine.Start(ctx, run.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if got.Status != api.StatusPaused {
		t.Fatalf("expected %s, got %s", api.StatusPaused, got.Status)
	}
	if got.CurrentStepIndex != 1 {
		t.Fatalf("cursor must stay on the gate, got %d", got.CurrentStepIndex)
	}

	executed, err := f.bus.GetEvents(ctx, "deployment_executed", time.Time{})
	if err != nil {
		t.Fatalf("get events: %v", err)
	}
	if len(executed) != 0 {
		t.Fatal("post-gate step must not run after rejection")
	}

	escalations, err := f.bus.GetEvents(ctx, api.EventEscalation, time.Time{})
	if err != nil {
		t.Fatalf("get events: %v", err)
	}
	if len(escalations) != 1 {
		t.Fatalf("expected 1 escalation event, got %d", len(escalations))
	}
	if escalations[0].Payload["runId"] != run.ID {
		t.Fatalf("escalation names wrong run: %v", escalations[0].Payload)
	}

	f.notifier.mu.Lock()
	notified := len(f.notifier.messages)
	f.notifier.mu.Unlock()
	if notified != 1 {
		t.Fatalf("expected 1 escalation notification, got %d", notified)
	}

	snap := f.metrics.Snapshot()
	if snap.Counters[metrics.CounterEscalations] != 1 {
		t.Fatalf("escalations = %d, want 1", snap.Counters[metrics.CounterEscalations])
	}
	if snap.Counters[metrics.CounterWorkflowsPaused] != 1 {
		t.Fatalf("workflowsPaused = %d, want 1", snap.Counters[metrics.CounterWorkflowsPaused])
	}
}

func TestGateTimeoutPausesThenResumeCompletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	run := mustCreate(t, f.engine, "automated_deployment", 3)

	// No approver: the gate times out and the run parks.
	got, err := f.engine.Start(ctx, run.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if got.Status != api.StatusPaused {
		t.Fatalf("expected %s after timeout, got %s", api.StatusPaused, got.Status)
	}

	// An approver shows up; resume retries the gate with a fresh alert.
	respondToApprovals(t, f.bus, true)
	got, err = f.engine.Resume(ctx, run.ID)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if got.Status != api.StatusCompleted {
		t.Fatalf("expected %s after resume, got %s", api.StatusCompleted, got.Status)
	}

	requests, err := f.bus.GetEvents(ctx, api.EventApprovalRequested, time.Time{})
	if err != nil {
		t.Fatalf("get events: %v", err)
	}
	if len(requests) != 2 {
		t.Fatalf("expected 2 approval requests (original + retry), got %d", len(requests))
	}
	if requests[0].Payload["alertId"] == requests[1].Payload["alertId"] {
		t.Fatal("retry must use a fresh alert id")
	}
}

func TestPauseRequiresRunning(t *testing.T) {
	f := newFixture(t)

	run := mustCreate(t, f.engine, "feature", 3)
	if _, err := f.engine.Pause(run.ID); err == nil {
		t.Fatal("pausing a pending run must fail")
	}

	if _, err := f.engine.Start(context.Background(), run.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.engine.Pause(run.ID); err == nil {
		t.Fatal("pausing a completed run must fail")
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	f := newFixture(t)

	run := mustCreate(t, f.engine, "feature", 3)
	got, err := f.engine.Cancel(run.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got.Status != api.StatusCancelled {
		t.Fatalf("expected %s, got %s", api.StatusCancelled, got.Status)
	}

	got, err = f.engine.Cancel(run.ID)
	if err != nil {
		t.Fatalf("second cancel must be a no-op, got %v", err)
	}
	if got.Status != api.StatusCancelled {
		t.Fatalf("expected %s, got %s", api.StatusCancelled, got.Status)
	}
}

func TestCancelRejectsOtherTerminalStates(t *testing.T) {
	f := newFixture(t)

	run := mustCreate(t, f.engine, "feature", 3)
	if _, err := f.engine.Start(context.Background(), run.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.engine.Cancel(run.ID); err == nil {
		t.Fatal("cancelling a completed run must fail")
	}
}

func TestCancelUnblocksApprovalWait(t *testing.T) {
	f := newFixture(t)
	f.engine.gateTimeout = 10 * time.Second

	run := mustCreate(t, f.engine, "automated_deployment", 3)

	done := make(chan struct{})
	var got *api.WorkflowRun
	var startErr error
	go func() {
		defer close(done)
		got, startErr = f.engine.Start(context.Background(), run.ID)
	}()

	// Give the run time to reach the gate, then cancel out from under
	// the wait.
	deadline := time.After(2 * time.Second)
	for {
		requests, err := f.bus.GetEvents(context.Background(), api.EventApprovalRequested, time.Time{})
		if err != nil {
			t.Fatalf("get events: %v", err)
		}
		if len(requests) > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("run never reached the gate")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if _, err := f.engine.Cancel(run.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("start did not return after cancel")
	}
	if startErr != nil {
		t.Fatalf("cancellation must not surface as an error: %v", startErr)
	}
	if got.Status != api.StatusCancelled {
		t.Fatalf("expected %s, got %s", api.StatusCancelled, got.Status)
	}
}

func TestStepPublishFailureFailsRun(t *testing.T) {
	f := newFixture(t)
	f.log.failOn("user_story_requested")

	run := mustCreate(t, f.engine, "feature", 3)
	got, err := f.engine.Start(context.Background(), run.ID)
	if !api.IsExecutionError(err) {
		t.Fatalf("expected execution error, got %v", err)
	}
	if got.Status != api.StatusFailed {
		t.Fatalf("expected %s, got %s", api.StatusFailed, got.Status)
	}

	var execErr *api.ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected *ExecutionError, got %T", err)
	}
	if execErr.Step != 1 {
		t.Fatalf("failure attributed to step %d, want 1", execErr.Step)
	}
}

func TestAutoRecoverResetsFailedRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.log.failOn("new_task")
	run := mustCreate(t, f.engine, "feature", 3)
	if _, err := f.engine.Start(ctx, run.ID); err == nil {
		t.Fatal("expected the run to fail")
	}

	result, err := f.engine.AutoRecover(run.ID)
	if err != nil {
		t.Fatalf("auto recover: %v", err)
	}
	if !result.Recovered {
		t.Fatalf("expected recovery, got %+v", result)
	}

	recovered, err := f.engine.GetRun(run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if recovered.Status != api.StatusPending {
		t.Fatalf("expected %s, got %s", api.StatusPending, recovered.Status)
	}
	if recovered.CurrentStepIndex != 0 {
		t.Fatalf("cursor must reset to 0, got %d", recovered.CurrentStepIndex)
	}
	for i, step := range recovered.Steps {
		if step.Status != api.StepPending {
			t.Fatalf("step %d not reset: %s", i, step.Status)
		}
	}

	// The flake is gone; the recovered run finishes.
	f.log.failOn("")
	got, err := f.engine.Start(ctx, run.ID)
	if err != nil {
		t.Fatalf("restart after recovery: %v", err)
	}
	if got.Status != api.StatusCompleted {
		t.Fatalf("expected %s, got %s", api.StatusCompleted, got.Status)
	}
}

func TestAutoRecoverIsNoOpForHealthyRuns(t *testing.T) {
	f := newFixture(t)

	run := mustCreate(t, f.engine, "feature", 3)
	if _, err := f.engine.Start(context.Background(), run.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	result, err := f.engine.AutoRecover(run.ID)
	if err != nil {
		t.Fatalf("auto recover: %v", err)
	}
	if result.Recovered {
		t.Fatal("completed run must not be recovered")
	}
	if !strings.Contains(result.Message, string(api.StatusCompleted)) {
		t.Fatalf("message should name the current status: %q", result.Message)
	}
}

func TestParallelExecute(t *testing.T) {
	f := newFixture(t)

	a := mustCreate(t, f.engine, "feature", 3)
	b := mustCreate(t, f.engine, "bug_triage", 3)

	results := f.engine.ParallelExecute(context.Background(), []string{a.ID, b.ID, "run-missing"})
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].RunID != a.ID || results[0].Err != nil || results[0].Status != api.StatusCompleted {
		t.Fatalf("run a: %+v", results[0])
	}
	if results[1].RunID != b.ID || results[1].Err != nil || results[1].Status != api.StatusCompleted {
		t.Fatalf("run b: %+v", results[1])
	}
	if results[2].Err == nil {
		t.Fatal("missing run must carry its own error without affecting the others")
	}

	// Both runs' events are fully present in the log, interleaved at
	// event granularity only.
	events, err := f.bus.GetEvents(context.Background(), "", time.Time{})
	if err != nil {
		t.Fatalf("get events: %v", err)
	}
	perRun := make(map[string]int)
	for _, ev := range events {
		perRun[ev.CorrelationID]++
	}
	if perRun[a.ID] != 3 || perRun[b.ID] != 3 {
		t.Fatalf("expected 3 events per run, got %v", perRun)
	}
}

func TestConditionalExecute(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	run := mustCreate(t, f.engine, "feature", 3)

	result, err := f.engine.ConditionalExecute(ctx, run.ID, "never")
	if err != nil {
		t.Fatalf("conditional execute: %v", err)
	}
	if !result.Skipped {
		t.Fatal("false predicate must skip")
	}
	stored, err := f.engine.GetRun(run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if stored.Status != api.StatusPending {
		t.Fatalf("skipped run must stay %s, got %s", api.StatusPending, stored.Status)
	}

	result, err = f.engine.ConditionalExecute(ctx, run.ID, "always")
	if err != nil {
		t.Fatalf("conditional execute: %v", err)
	}
	if result.Skipped || result.Run == nil || result.Run.Status != api.StatusCompleted {
		t.Fatalf("true predicate must run to completion: %+v", result)
	}

	if _, err := f.engine.ConditionalExecute(ctx, run.ID, "when-pigs-fly"); !api.IsValidationError(err) {
		t.Fatalf("unknown predicate must be a validation error, got %v", err)
	}
}

func TestIsBusinessHours(t *testing.T) {
	cases := []struct {
		at   time.Time
		want bool
	}{
		{time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC), true},  // Monday morning
		{time.Date(2024, 6, 3, 8, 59, 0, 0, time.UTC), false}, // before opening
		{time.Date(2024, 6, 3, 18, 0, 0, 0, time.UTC), false}, // after closing
		{time.Date(2024, 6, 8, 12, 0, 0, 0, time.UTC), false}, // Saturday
	}
	for _, tc := range cases {
		if got := isBusinessHours(tc.at); got != tc.want {
			t.Fatalf("isBusinessHours(%v) = %v, want %v", tc.at, got, tc.want)
		}
	}
}

func TestAnalyze(t *testing.T) {
	f := newFixture(t)

	feature := mustCreate(t, f.engine, "feature", 3)
	analysis, err := f.engine.Analyze(feature.ID)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if analysis.TotalSteps != 3 || analysis.ParallelizableSteps != 3 {
		t.Fatalf("feature analysis: %+v", analysis)
	}
	if analysis.EstimatedImprovementPct != 66 {
		t.Fatalf("estimated improvement %d, want 66", analysis.EstimatedImprovementPct)
	}

	deploy := mustCreate(t, f.engine, "automated_deployment", 3)
	analysis, err = f.engine.Analyze(deploy.ID)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if analysis.ParallelizableSteps != 1 {
		t.Fatalf("gated template should pin steps: %+v", analysis)
	}
	if analysis.EstimatedImprovementPct != 0 {
		t.Fatalf("single free step must not promise improvement: %+v", analysis)
	}
}

func TestOptimize(t *testing.T) {
	f := newFixture(t)

	feature := mustCreate(t, f.engine, "feature", 3)
	result, err := f.engine.Optimize(feature.ID)
	if err != nil {
		t.Fatalf("optimize: %v", err)
	}
	if len(result.Suggestions) == 0 || !strings.Contains(result.Suggestions[0], "parallel") {
		t.Fatalf("expected a parallelization suggestion: %v", result.Suggestions)
	}

	deploy := mustCreate(t, f.engine, "automated_deployment", 3)
	result, err = f.engine.Optimize(deploy.ID)
	if err != nil {
		t.Fatalf("optimize: %v", err)
	}
	if len(result.Suggestions) != 1 || result.Suggestions[0] != "no optimization opportunities found" {
		t.Fatalf("expected the no-op suggestion, got %v", result.Suggestions)
	}
}
