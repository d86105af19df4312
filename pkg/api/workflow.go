package api

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus represents the lifecycle state of a workflow run.
type RunStatus string

const (
	StatusPending   RunStatus = "PENDING"
	StatusRunning   RunStatus = "RUNNING"
	StatusPaused    RunStatus = "PAUSED"
	StatusCompleted RunStatus = "COMPLETED"
	StatusFailed    RunStatus = "FAILED"
	StatusCancelled RunStatus = "CANCELLED"
)

// Terminal reports whether the status is final. Terminal runs stay in
// history indefinitely and are never deleted.
func (s RunStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// StepStatus mirrors run progress on individual steps, for observability
// only.
type StepStatus string

const (
	StepPending   StepStatus = "PENDING"
	StepPublished StepStatus = "PUBLISHED"
	StepWaiting   StepStatus = "WAITING"
	StepApproved  StepStatus = "APPROVED"
	StepFailed    StepStatus = "FAILED"
)

// StepSpec describes one step of a workflow template.
type StepSpec struct {
	EventType      string
	Description    string
	IsApprovalGate bool
}

// WorkflowTemplate is a named, ordered list of step specs. Steps execute
// strictly in declared order.
type WorkflowTemplate struct {
	Name  string
	Steps []StepSpec
}

// WorkflowStep is the execution-time view of a StepSpec attached to a run.
// Dependencies are descriptive metadata consumed by Analyze, never a
// scheduling constraint. RetryCount is likewise metadata for an operator
// policy (AutoRecover followed by Start), not in-engine automatic retry.
type WorkflowStep struct {
	ID           string
	Agent        string
	Command      string
	Parameters   map[string]any
	Dependencies []string
	TimeoutSec   int
	RetryCount   int
	Status       StepStatus
}

// WorkflowRun is one instantiation of a template. It is owned exclusively
// by the engine: created by Create and mutated only by engine methods.
type WorkflowRun struct {
	ID               string
	TemplateName     string
	Status           RunStatus
	CurrentStepIndex int
	Priority         string
	Steps            []WorkflowStep
	StartedAt        time.Time
	EndedAt          time.Time
	Err              error
}

// RunListOptions controls how runs are listed. Zero values mean "no filter"
// for that field.
type RunListOptions struct {
	TemplateName string
	Status       RunStatus
}

// NewRunID returns a fresh workflow run identifier.
func NewRunID() string {
	return "run-" + uuid.NewString()
}
