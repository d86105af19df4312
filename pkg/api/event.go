package api

import "time"

// Event is an immutable record of something that happened. Once appended to
// the log it is never mutated or deleted.
type Event struct {
	Type          string
	Payload       map[string]any
	Timestamp     time.Time
	CorrelationID string
}

// Well-known event types published by the engine itself. Step event types
// come from workflow templates and are open-ended; anything not listed here
// should be treated as an opaque step event.
const (
	EventDecision          = "decision"
	EventApprovalRequested = "approval_requested"
	EventEscalation        = "escalation_required"
)

// DecisionPayload is the contractual shape of a "decision" event.
type DecisionPayload struct {
	AlertID  string
	Approved bool
	User     string
	Channel  string
}

// ToPayload converts the decision into the wire payload map.
func (d DecisionPayload) ToPayload() map[string]any {
	return map[string]any{
		"alertId":  d.AlertID,
		"approved": d.Approved,
		"user":     d.User,
		"channel":  d.Channel,
	}
}

// DecisionFromPayload extracts a DecisionPayload from an event payload.
// It returns ok=false if the required envelope fields are missing or
// mistyped; extra fields are ignored for forward compatibility.
func DecisionFromPayload(p map[string]any) (DecisionPayload, bool) {
	alertID, ok := p["alertId"].(string)
	if !ok || alertID == "" {
		return DecisionPayload{}, false
	}
	approved, ok := p["approved"].(bool)
	if !ok {
		return DecisionPayload{}, false
	}
	d := DecisionPayload{AlertID: alertID, Approved: approved}
	d.User, _ = p["user"].(string)
	d.Channel, _ = p["channel"].(string)
	return d, true
}

// ApprovalRequestPayload is the contractual shape of an
// "approval_requested" event.
type ApprovalRequestPayload struct {
	AlertID string
	Reason  string
	Channel string
}

func (a ApprovalRequestPayload) ToPayload() map[string]any {
	return map[string]any{
		"alertId": a.AlertID,
		"reason":  a.Reason,
		"channel": a.Channel,
	}
}

// EscalationPayload is the contractual shape of an "escalation_required"
// event, published when a gate is rejected or times out.
type EscalationPayload struct {
	RunID   string
	AlertID string
	Reason  string
	Channel string
}

func (e EscalationPayload) ToPayload() map[string]any {
	return map[string]any{
		"runId":   e.RunID,
		"alertId": e.AlertID,
		"reason":  e.Reason,
		"channel": e.Channel,
	}
}

// StepPayload is the envelope the engine attaches to every normal step
// event. Handlers must treat any fields beyond these as opaque.
type StepPayload struct {
	RunID      string
	Template   string
	StepIndex  int
	Agent      string
	Command    string
	Parameters map[string]any
}

func (s StepPayload) ToPayload() map[string]any {
	return map[string]any{
		"runId":      s.RunID,
		"template":   s.Template,
		"stepIndex":  s.StepIndex,
		"agent":      s.Agent,
		"command":    s.Command,
		"parameters": s.Parameters,
	}
}
