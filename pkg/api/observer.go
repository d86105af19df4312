package api

import (
	"context"
	"log/slog"
	"time"
)

// Observer receives callbacks from the workflow engine for logging and
// metrics.
//
// Implementations should be fast and non-blocking; heavy work should be
// done asynchronously so as not to delay workflow execution.
type Observer interface {
	// OnRunStart is called when a run transitions to RUNNING, before the
	// first step is executed.
	OnRunStart(ctx context.Context, run *WorkflowRun)

	// OnRunCompleted is called when a run reaches StatusCompleted.
	OnRunCompleted(ctx context.Context, run *WorkflowRun, duration time.Duration)

	// OnRunFailed is called when a run transitions to StatusFailed.
	OnRunFailed(ctx context.Context, run *WorkflowRun, err error)

	// OnRunPaused is called when a gate rejection or timeout pauses a run.
	OnRunPaused(ctx context.Context, run *WorkflowRun, alertID string)

	// OnStepPublished is called after a normal step's event has been
	// appended to the log and delivered to subscribers.
	OnStepPublished(ctx context.Context, run *WorkflowRun, eventType string, stepIndex int)

	// OnApprovalRequested is called when a gate step issues an approval
	// request, before the engine starts waiting for the decision.
	OnApprovalRequested(ctx context.Context, run *WorkflowRun, req ApprovalRequest)

	// OnApprovalResolved is called after AwaitDecision returns, for both
	// approvals and rejections/timeouts.
	OnApprovalResolved(ctx context.Context, run *WorkflowRun, alertID string, approved bool)
}

// NoopObserver is an Observer that does nothing. It is the default when no
// observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnRunStart(ctx context.Context, run *WorkflowRun)                        {}
func (NoopObserver) OnRunCompleted(ctx context.Context, run *WorkflowRun, d time.Duration)   {}
func (NoopObserver) OnRunFailed(ctx context.Context, run *WorkflowRun, err error)            {}
func (NoopObserver) OnRunPaused(ctx context.Context, run *WorkflowRun, alertID string)       {}
func (NoopObserver) OnStepPublished(ctx context.Context, run *WorkflowRun, et string, i int) {}
func (NoopObserver) OnApprovalRequested(ctx context.Context, run *WorkflowRun, req ApprovalRequest) {
}
func (NoopObserver) OnApprovalResolved(ctx context.Context, run *WorkflowRun, alertID string, approved bool) {
}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnRunStart(ctx context.Context, run *WorkflowRun) {
	for _, o := range c.observers {
		o.OnRunStart(ctx, run)
	}
}

func (c *CompositeObserver) OnRunCompleted(ctx context.Context, run *WorkflowRun, d time.Duration) {
	for _, o := range c.observers {
		o.OnRunCompleted(ctx, run, d)
	}
}

func (c *CompositeObserver) OnRunFailed(ctx context.Context, run *WorkflowRun, err error) {
	for _, o := range c.observers {
		o.OnRunFailed(ctx, run, err)
	}
}

func (c *CompositeObserver) OnRunPaused(ctx context.Context, run *WorkflowRun, alertID string) {
	for _, o := range c.observers {
		o.OnRunPaused(ctx, run, alertID)
	}
}

func (c *CompositeObserver) OnStepPublished(ctx context.Context, run *WorkflowRun, eventType string, i int) {
	for _, o := range c.observers {
		o.OnStepPublished(ctx, run, eventType, i)
	}
}

func (c *CompositeObserver) OnApprovalRequested(ctx context.Context, run *WorkflowRun, req ApprovalRequest) {
	for _, o := range c.observers {
		o.OnApprovalRequested(ctx, run, req)
	}
}

func (c *CompositeObserver) OnApprovalResolved(ctx context.Context, run *WorkflowRun, alertID string, approved bool) {
	for _, o := range c.observers {
		o.OnApprovalResolved(ctx, run, alertID, approved)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs run / step / gate
// lifecycle events using the provided slog.Logger. If logger is nil,
// slog.Default() is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnRunStart(ctx context.Context, run *WorkflowRun) {
	o.Logger.InfoContext(ctx, "run_start",
		slog.String("template", run.TemplateName),
		slog.String("run_id", run.ID),
	)
}

func (o *LoggingObserver) OnRunCompleted(ctx context.Context, run *WorkflowRun, d time.Duration) {
	o.Logger.InfoContext(ctx, "run_completed",
		slog.String("template", run.TemplateName),
		slog.String("run_id", run.ID),
		slog.Duration("duration", d),
	)
}

func (o *LoggingObserver) OnRunFailed(ctx context.Context, run *WorkflowRun, err error) {
	o.Logger.ErrorContext(ctx, "run_failed",
		slog.String("template", run.TemplateName),
		slog.String("run_id", run.ID),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnRunPaused(ctx context.Context, run *WorkflowRun, alertID string) {
	o.Logger.WarnContext(ctx, "run_paused",
		slog.String("template", run.TemplateName),
		slog.String("run_id", run.ID),
		slog.String("alert_id", alertID),
	)
}

func (o *LoggingObserver) OnStepPublished(ctx context.Context, run *WorkflowRun, eventType string, i int) {
	o.Logger.DebugContext(ctx, "step_published",
		slog.String("run_id", run.ID),
		slog.String("event_type", eventType),
		slog.Int("step_index", i),
	)
}

func (o *LoggingObserver) OnApprovalRequested(ctx context.Context, run *WorkflowRun, req ApprovalRequest) {
	o.Logger.InfoContext(ctx, "approval_requested",
		slog.String("run_id", run.ID),
		slog.String("alert_id", req.AlertID),
		slog.String("channel", req.Channel),
	)
}

func (o *LoggingObserver) OnApprovalResolved(ctx context.Context, run *WorkflowRun, alertID string, approved bool) {
	o.Logger.InfoContext(ctx, "approval_resolved",
		slog.String("run_id", run.ID),
		slog.String("alert_id", alertID),
		slog.Bool("approved", approved),
	)
}
