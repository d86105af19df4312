package api

import (
	"time"

	"github.com/google/uuid"
)

// ApprovalRequest records one gate invocation awaiting an external
// decision. AlertID is unique per invocation and links the request to its
// eventual decision event.
type ApprovalRequest struct {
	AlertID   string
	Reason    string
	Channel   string
	CreatedAt time.Time
	Resolved  bool
	Approved  bool
}

// NewAlertID returns a fresh approval correlation identifier.
func NewAlertID() string {
	return "alert-" + uuid.NewString()
}
