// Package runstore persists workflow runs. Terminal runs stay in the
// store indefinitely; nothing ever deletes them.
package runstore

import (
	"github.com/petrijr/steward/pkg/api"
)

// Store handles storage of workflow runs.
type Store interface {
	SaveRun(run *api.WorkflowRun) error
	UpdateRun(run *api.WorkflowRun) error
	GetRun(id string) (*api.WorkflowRun, error)
	ListRuns(opts api.RunListOptions) ([]*api.WorkflowRun, error)
}
