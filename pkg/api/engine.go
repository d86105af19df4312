package api

import "context"

// Engine is the high-level workflow orchestration API.
type Engine interface {
	// Create instantiates a run from a registered template in status
	// PENDING. agents and commands must each match the template's step
	// count; a mismatch, an empty template name, or an unknown template
	// yields a ValidationError.
	Create(templateName string, agents, commands []string, priority string) (*WorkflowRun, error)

	// Start drives a PENDING run through its steps in declared order.
	// Normal steps publish their event; gate steps request approval and
	// wait for the decision. A rejected or timed-out gate pauses the run
	// and fires an escalation. Start returns the run in its final state
	// for this invocation (COMPLETED, PAUSED, FAILED or CANCELLED).
	Start(ctx context.Context, runID string) (*WorkflowRun, error)

	// Pause moves a RUNNING run to PAUSED. Any other status is an error.
	Pause(runID string) (*WorkflowRun, error)

	// Resume moves a PAUSED run back to RUNNING and continues execution
	// from CurrentStepIndex.
	Resume(ctx context.Context, runID string) (*WorkflowRun, error)

	// Cancel moves any non-terminal run to CANCELLED. Cancelling an
	// already-cancelled run is a no-op, never an error. A run blocked in
	// an approval wait is unblocked.
	Cancel(runID string) (*WorkflowRun, error)

	// AutoRecover resets a FAILED run to PENDING, clearing step statuses
	// and the recorded error. On any other status it is a descriptive
	// no-op, not an error.
	AutoRecover(runID string) (RecoveryResult, error)

	// GetRun looks up a run by ID.
	GetRun(runID string) (*WorkflowRun, error)

	// ListRuns returns runs matching the given options. Zero-valued
	// options return all runs, including terminal ones (history is
	// retained indefinitely).
	ListRuns(opts RunListOptions) ([]*WorkflowRun, error)

	// Analyze inspects a run's step metadata and reports which steps are
	// parallelizable, with a heuristic improvement estimate. It never
	// alters execution.
	Analyze(runID string) (RunAnalysis, error)

	// Optimize calls Analyze and returns textual suggestions. It never
	// reorders execution.
	Optimize(runID string) (OptimizeResult, error)

	// ParallelExecute starts each run concurrently and aggregates all
	// results once every run has finished. One run's failure never
	// cancels another.
	ParallelExecute(ctx context.Context, runIDs []string) []RunResult

	// ConditionalExecute evaluates a named predicate and starts the run
	// only if it holds; otherwise it returns a skipped result carrying
	// the predicate as the reason.
	ConditionalExecute(ctx context.Context, runID string, predicate string) (ConditionalResult, error)
}

// RecoveryResult describes the outcome of AutoRecover.
type RecoveryResult struct {
	RunID     string
	Recovered bool
	Message   string
}

// RunAnalysis is the descriptive output of Analyze.
type RunAnalysis struct {
	RunID                   string
	TotalSteps              int
	ParallelizableSteps     int
	EstimatedImprovementPct int
}

// OptimizeResult carries textual suggestions derived from Analyze.
type OptimizeResult struct {
	RunID       string
	Suggestions []string
}

// RunResult is one entry of a ParallelExecute aggregation.
type RunResult struct {
	RunID  string
	Status RunStatus
	Err    error
}

// ConditionalResult describes the outcome of ConditionalExecute.
type ConditionalResult struct {
	RunID     string
	Predicate string
	Skipped   bool
	Run       *WorkflowRun
}
