// Package engine implements the workflow run state machine.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/petrijr/steward/internal/approval"
	"github.com/petrijr/steward/internal/bus"
	"github.com/petrijr/steward/internal/catalog"
	"github.com/petrijr/steward/internal/metrics"
	"github.com/petrijr/steward/internal/runstore"
	"github.com/petrijr/steward/pkg/api"
)

// DefaultGateTimeout bounds an approval wait when the gate step carries no
// TimeoutSec of its own.
const DefaultGateTimeout = 5 * time.Minute

// Engine drives workflow runs through their state machine. All run
// mutations happen through its methods; transitions are serialized under
// one mutex so concurrent Pause/Cancel calls never race the step loop.
type Engine struct {
	catalog  *catalog.Catalog
	bus      *bus.EventBus
	gateway  *approval.Gateway
	metrics  *metrics.Recorder
	runs     runstore.Store
	observer api.Observer
	logger   *slog.Logger
	clock    func() time.Time

	approvalChannel   string
	escalationChannel string
	gateTimeout       time.Duration

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// Config describes how to construct an Engine.
type Config struct {
	Catalog  *catalog.Catalog
	Bus      *bus.EventBus
	Gateway  *approval.Gateway
	Metrics  *metrics.Recorder
	Runs     runstore.Store
	Observer api.Observer
	Logger   *slog.Logger

	// ApprovalChannel is where gate requests are sent. Default
	// "approvals".
	ApprovalChannel string

	// EscalationChannel receives the secondary notification when a gate
	// is rejected or times out. Default "escalations".
	EscalationChannel string

	// GateTimeout bounds approval waits for gate steps without their own
	// TimeoutSec. Zero means DefaultGateTimeout.
	GateTimeout time.Duration

	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

var _ api.Engine = (*Engine)(nil)

// New creates an Engine from the given configuration.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	obs := cfg.Observer
	if obs == nil {
		obs = api.NoopObserver{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	approvalChannel := cfg.ApprovalChannel
	if approvalChannel == "" {
		approvalChannel = "approvals"
	}
	escalationChannel := cfg.EscalationChannel
	if escalationChannel == "" {
		escalationChannel = "escalations"
	}
	gateTimeout := cfg.GateTimeout
	if gateTimeout <= 0 {
		gateTimeout = DefaultGateTimeout
	}
	return &Engine{
		catalog:           cfg.Catalog,
		bus:               cfg.Bus,
		gateway:           cfg.Gateway,
		metrics:           cfg.Metrics,
		runs:              cfg.Runs,
		observer:          obs,
		logger:            logger,
		clock:             clock,
		approvalChannel:   approvalChannel,
		escalationChannel: escalationChannel,
		gateTimeout:       gateTimeout,
		cancels:           make(map[string]context.CancelFunc),
	}
}

func (e *Engine) Create(templateName string, agents, commands []string, priority string) (*api.WorkflowRun, error) {
	if templateName == "" {
		return nil, api.NewValidationError("templateName", "must not be empty")
	}

	tpl, err := e.catalog.Get(templateName)
	if err != nil {
		if errors.Is(err, api.ErrTemplateNotFound) {
			return nil, api.NewValidationError("templateName", "unknown template "+templateName)
		}
		return nil, err
	}

	if len(agents) != len(tpl.Steps) {
		return nil, api.NewValidationError("agents",
			fmt.Sprintf("template %s has %d steps, got %d agents", templateName, len(tpl.Steps), len(agents)))
	}
	if len(commands) != len(tpl.Steps) {
		return nil, api.NewValidationError("commands",
			fmt.Sprintf("template %s has %d steps, got %d commands", templateName, len(tpl.Steps), len(commands)))
	}

	run := &api.WorkflowRun{
		ID:           api.NewRunID(),
		TemplateName: tpl.Name,
		Status:       api.StatusPending,
		Priority:     priority,
		Steps:        deriveSteps(tpl, agents, commands, priority),
	}
	for i := range run.Steps {
		run.Steps[i].ID = fmt.Sprintf("%s-step-%d", run.ID, i)
	}
	for i := 1; i < len(tpl.Steps); i++ {
		// Dependencies stay descriptive: a gate depends on the step it
		// guards, and the step after a gate depends on the gate.
		if tpl.Steps[i].IsApprovalGate || tpl.Steps[i-1].IsApprovalGate {
			run.Steps[i].Dependencies = []string{run.Steps[i-1].ID}
		}
	}

	if err := e.runs.SaveRun(run); err != nil {
		return nil, err
	}
	return run, nil
}

// deriveSteps builds the execution-time step list from the template.
func deriveSteps(tpl api.WorkflowTemplate, agents, commands []string, priority string) []api.WorkflowStep {
	steps := make([]api.WorkflowStep, len(tpl.Steps))
	for i, spec := range tpl.Steps {
		steps[i] = api.WorkflowStep{
			Agent:   agents[i],
			Command: commands[i],
			Parameters: map[string]any{
				"description": spec.Description,
				"priority":    priority,
			},
			Status: api.StepPending,
		}
	}
	return steps
}

func (e *Engine) Start(ctx context.Context, runID string) (*api.WorkflowRun, error) {
	run, runCtx, err := e.begin(ctx, runID, api.StatusPending)
	if err != nil {
		return nil, err
	}

	e.inc(ctx, metrics.CounterWorkflowsStarted)
	e.observer.OnRunStart(ctx, run)

	return e.executeSteps(runCtx, run)
}

func (e *Engine) Resume(ctx context.Context, runID string) (*api.WorkflowRun, error) {
	run, runCtx, err := e.begin(ctx, runID, api.StatusPaused)
	if err != nil {
		return nil, err
	}
	return e.executeSteps(runCtx, run)
}

// begin transitions a run into RUNNING from the expected status and
// registers a cancel func so Cancel can unblock an approval wait.
func (e *Engine) begin(ctx context.Context, runID string, from api.RunStatus) (*api.WorkflowRun, context.Context, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	run, err := e.runs.GetRun(runID)
	if err != nil {
		return nil, nil, err
	}
	if run.Status != from {
		return nil, nil, fmt.Errorf("cannot start run %s in status %s", runID, run.Status)
	}

	run.Status = api.StatusRunning
	if run.StartedAt.IsZero() {
		run.StartedAt = e.clock()
	}
	if err := e.runs.UpdateRun(run); err != nil {
		return nil, nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cancels[runID] = cancel
	return run, runCtx, nil
}

// executeSteps iterates the template steps strictly in declared order,
// starting at the run's current step cursor.
func (e *Engine) executeSteps(ctx context.Context, run *api.WorkflowRun) (*api.WorkflowRun, error) {
	defer e.clearCancel(run.ID)

	tpl, err := e.catalog.Get(run.TemplateName)
	if err != nil {
		return e.fail(ctx, run, fmt.Errorf("template %s vanished: %w", run.TemplateName, err))
	}

	for i := run.CurrentStepIndex; i < len(tpl.Steps); i++ {
		// Another goroutine may have paused or cancelled the run; its
		// word wins over ours.
		if stop, err := e.syncStatus(run); err != nil {
			return run, err
		} else if stop {
			return run, nil
		}

		run.CurrentStepIndex = i
		spec := tpl.Steps[i]

		if spec.IsApprovalGate {
			done, err := e.runGate(ctx, run, spec, i)
			if done || err != nil {
				return run, err
			}
			continue
		}

		if err := e.runStep(ctx, run, spec, i); err != nil {
			return run, err
		}
	}

	return e.complete(ctx, run, len(tpl.Steps))
}

// runStep publishes a normal step event. Publish failure is terminal for
// the run.
func (e *Engine) runStep(ctx context.Context, run *api.WorkflowRun, spec api.StepSpec, i int) error {
	step := run.Steps[i]
	payload := api.StepPayload{
		RunID:      run.ID,
		Template:   run.TemplateName,
		StepIndex:  i,
		Agent:      step.Agent,
		Command:    step.Command,
		Parameters: step.Parameters,
	}

	if _, err := e.bus.PublishCorrelated(ctx, spec.EventType, payload.ToPayload(), run.ID); err != nil {
		run.Steps[i].Status = api.StepFailed
		_, failErr := e.fail(ctx, run, &api.ExecutionError{RunID: run.ID, Step: i, Cause: err})
		if failErr != nil {
			return failErr
		}
		return run.Err
	}

	run.Steps[i].Status = api.StepPublished
	run.CurrentStepIndex = i + 1
	if err := e.update(run, api.StatusRunning); err != nil {
		return err
	}

	e.observer.OnStepPublished(ctx, run, spec.EventType, i)
	return nil
}

// runGate requests approval and waits for the decision. done=true means
// the run reached a resting state (PAUSED or CANCELLED) and the loop must
// stop.
func (e *Engine) runGate(ctx context.Context, run *api.WorkflowRun, spec api.StepSpec, i int) (done bool, err error) {
	alertID := api.NewAlertID()
	reason := fmt.Sprintf("workflow %s (run %s) requires approval: %s", run.TemplateName, run.ID, spec.Description)

	run.Steps[i].Status = api.StepWaiting
	if err := e.update(run, api.StatusRunning); err != nil {
		return true, err
	}

	req, err := e.gateway.RequestApproval(ctx, reason, alertID, e.approvalChannel)
	if err != nil {
		_, failErr := e.fail(ctx, run, &api.ExecutionError{RunID: run.ID, Step: i, Cause: err})
		if failErr != nil {
			return true, failErr
		}
		return true, run.Err
	}
	e.observer.OnApprovalRequested(ctx, run, req)

	timeout := e.gateTimeout
	if run.Steps[i].TimeoutSec > 0 {
		timeout = time.Duration(run.Steps[i].TimeoutSec) * time.Second
	}

	approved, err := e.gateway.AwaitDecision(ctx, alertID, timeout)
	if err != nil {
		// The wait was cancelled. If Cancel did it, the stored status
		// already says so and is not an error.
		if stop, syncErr := e.syncStatus(run); syncErr == nil && stop {
			return true, nil
		}
		_, failErr := e.fail(ctx, run, &api.ExecutionError{RunID: run.ID, Step: i, Cause: err})
		if failErr != nil {
			return true, failErr
		}
		return true, run.Err
	}

	e.inc(ctx, metrics.CounterHITLDecisions)
	e.observer.OnApprovalResolved(ctx, run, alertID, approved)

	if !approved {
		return true, e.pauseForGate(ctx, run, alertID, reason, i)
	}

	run.Steps[i].Status = api.StepApproved
	run.CurrentStepIndex = i + 1
	return false, e.update(run, api.StatusRunning)
}

// pauseForGate parks the run after a rejection or timeout and escalates.
// The step cursor stays on the gate so Resume retries it with a fresh
// alert.
func (e *Engine) pauseForGate(ctx context.Context, run *api.WorkflowRun, alertID, reason string, i int) error {
	run.Status = api.StatusPaused
	run.CurrentStepIndex = i
	if err := e.update(run, api.StatusPaused); err != nil {
		return err
	}

	esc := api.EscalationPayload{
		RunID:   run.ID,
		AlertID: alertID,
		Reason:  reason,
		Channel: e.escalationChannel,
	}
	if _, err := e.bus.PublishCorrelated(ctx, api.EventEscalation, esc.ToPayload(), run.ID); err != nil {
		e.logger.Error("publish escalation failed",
			slog.String("run_id", run.ID),
			slog.Any("error", err),
		)
	}
	msg := fmt.Sprintf("run %s paused: approval %s was rejected or timed out (%s)", run.ID, alertID, reason)
	if err := e.notifyEscalation(ctx, msg); err != nil {
		e.logger.Warn("escalation notification failed",
			slog.String("run_id", run.ID),
			slog.Any("error", err),
		)
	}

	e.inc(ctx, metrics.CounterEscalations)
	e.inc(ctx, metrics.CounterWorkflowsPaused)
	e.observer.OnRunPaused(ctx, run, alertID)
	return nil
}

func (e *Engine) complete(ctx context.Context, run *api.WorkflowRun, stepCount int) (*api.WorkflowRun, error) {
	run.Status = api.StatusCompleted
	run.CurrentStepIndex = stepCount
	run.EndedAt = e.clock()
	if err := e.update(run, api.StatusCompleted); err != nil {
		return run, err
	}

	duration := run.EndedAt.Sub(run.StartedAt)
	e.inc(ctx, metrics.CounterWorkflowsCompleted)
	if e.metrics != nil {
		e.metrics.RecordDuration(ctx, run.TemplateName, duration.Seconds())
	}
	e.observer.OnRunCompleted(ctx, run, duration)
	return run, nil
}

func (e *Engine) fail(ctx context.Context, run *api.WorkflowRun, cause error) (*api.WorkflowRun, error) {
	run.Status = api.StatusFailed
	run.Err = cause
	run.EndedAt = e.clock()
	if err := e.update(run, api.StatusFailed); err != nil {
		return run, err
	}
	e.observer.OnRunFailed(ctx, run, cause)
	return run, cause
}

// update persists the run under the transition lock, but only while the
// stored status still permits it: a concurrent Pause or Cancel between
// steps must not be overwritten by the step loop.
func (e *Engine) update(run *api.WorkflowRun, want api.RunStatus) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if want == api.StatusRunning {
		stored, err := e.runs.GetRun(run.ID)
		if err != nil {
			return err
		}
		if stored.Status != api.StatusRunning {
			run.Status = stored.Status
			return nil
		}
	}
	return e.runs.UpdateRun(run)
}

// syncStatus refreshes the run from the store and reports whether the
// step loop should stop because someone paused or cancelled the run.
func (e *Engine) syncStatus(run *api.WorkflowRun) (stop bool, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	stored, err := e.runs.GetRun(run.ID)
	if err != nil {
		return true, err
	}
	if stored.Status != api.StatusRunning {
		*run = *stored
		return true, nil
	}
	return false, nil
}

func (e *Engine) Pause(runID string) (*api.WorkflowRun, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	run, err := e.runs.GetRun(runID)
	if err != nil {
		return nil, err
	}
	if run.Status != api.StatusRunning {
		return nil, fmt.Errorf("cannot pause run %s in status %s", runID, run.Status)
	}

	run.Status = api.StatusPaused
	if err := e.runs.UpdateRun(run); err != nil {
		return nil, err
	}
	e.inc(context.Background(), metrics.CounterWorkflowsPaused)
	return run, nil
}

func (e *Engine) Cancel(runID string) (*api.WorkflowRun, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	run, err := e.runs.GetRun(runID)
	if err != nil {
		return nil, err
	}
	if run.Status == api.StatusCancelled {
		// Idempotent: cancelling twice is a no-op, never an error.
		return run, nil
	}
	if run.Status.Terminal() {
		return nil, fmt.Errorf("cannot cancel run %s in status %s", runID, run.Status)
	}

	run.Status = api.StatusCancelled
	run.EndedAt = e.clock()
	if err := e.runs.UpdateRun(run); err != nil {
		return nil, err
	}

	// Unblock an in-flight approval wait.
	if cancel, ok := e.cancels[runID]; ok {
		cancel()
		delete(e.cancels, runID)
	}
	return run, nil
}

func (e *Engine) AutoRecover(runID string) (api.RecoveryResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	run, err := e.runs.GetRun(runID)
	if err != nil {
		return api.RecoveryResult{}, err
	}
	if run.Status != api.StatusFailed {
		return api.RecoveryResult{
			RunID:     runID,
			Recovered: false,
			Message:   fmt.Sprintf("run %s does not need recovery (status %s)", runID, run.Status),
		}, nil
	}

	run.Status = api.StatusPending
	run.CurrentStepIndex = 0
	run.Err = nil
	run.EndedAt = time.Time{}
	for i := range run.Steps {
		run.Steps[i].Status = api.StepPending
	}
	if err := e.runs.UpdateRun(run); err != nil {
		return api.RecoveryResult{}, err
	}

	return api.RecoveryResult{
		RunID:     runID,
		Recovered: true,
		Message:   fmt.Sprintf("run %s reset to %s", runID, api.StatusPending),
	}, nil
}

func (e *Engine) GetRun(runID string) (*api.WorkflowRun, error) {
	return e.runs.GetRun(runID)
}

func (e *Engine) ListRuns(opts api.RunListOptions) ([]*api.WorkflowRun, error) {
	return e.runs.ListRuns(opts)
}

func (e *Engine) clearCancel(runID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cancel, ok := e.cancels[runID]; ok {
		cancel()
		delete(e.cancels, runID)
	}
}

func (e *Engine) inc(ctx context.Context, name string) {
	if e.metrics != nil {
		e.metrics.Inc(ctx, name)
	}
}

func (e *Engine) notifyEscalation(ctx context.Context, message string) error {
	if e.gateway == nil {
		return nil
	}
	return e.gateway.NotifyEscalation(ctx, message, e.escalationChannel)
}
