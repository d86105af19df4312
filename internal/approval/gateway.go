// Package approval implements the HITL approval gateway: it requests an
// external decision and waits for the matching decision event by polling
// the event bus.
package approval

import (
	"context"
	"log/slog"
	"time"

	"github.com/petrijr/steward/internal/bus"
	"github.com/petrijr/steward/pkg/api"
)

// DefaultPollInterval is how often AwaitDecision re-reads the decision
// events when no interval is configured.
const DefaultPollInterval = 5 * time.Second

// Gateway suspends one run pending an external decision without blocking
// the bus or other runs.
type Gateway struct {
	bus      *bus.EventBus
	notifier api.Notifier
	interval time.Duration
	logger   *slog.Logger
}

// Config describes how to construct a Gateway.
type Config struct {
	Bus      *bus.EventBus
	Notifier api.Notifier
	Logger   *slog.Logger

	// PollInterval overrides DefaultPollInterval when positive.
	PollInterval time.Duration
}

// New creates a Gateway. A nil Notifier falls back to a LogNotifier; a nil
// Logger falls back to slog.Default().
func New(cfg Config) *Gateway {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = api.NewLogNotifier(logger)
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Gateway{
		bus:      cfg.Bus,
		notifier: notifier,
		interval: interval,
		logger:   logger,
	}
}

// RequestApproval records the approval request on the bus and notifies the
// external collaborator. The notification is fire-and-forget: failures are
// logged and never raised. The bus publish, by contrast, is the audit
// trail and its error propagates.
func (g *Gateway) RequestApproval(ctx context.Context, reason, alertID, channel string) (api.ApprovalRequest, error) {
	req := api.ApprovalRequest{
		AlertID:   alertID,
		Reason:    reason,
		Channel:   channel,
		CreatedAt: time.Now(),
	}

	payload := api.ApprovalRequestPayload{
		AlertID: alertID,
		Reason:  reason,
		Channel: channel,
	}
	if _, err := g.bus.PublishCorrelated(ctx, api.EventApprovalRequested, payload.ToPayload(), alertID); err != nil {
		return req, err
	}

	if err := g.notifier.NotifyApprovalNeeded(ctx, reason, channel, alertID); err != nil {
		g.logger.Warn("approval notification failed",
			slog.String("alert_id", alertID),
			slog.String("channel", channel),
			slog.Any("error", err),
		)
	}
	return req, nil
}

// NotifyEscalation sends a secondary notification to a higher-authority
// channel. Fire-and-forget like every notifier call.
func (g *Gateway) NotifyEscalation(ctx context.Context, message, channel string) error {
	return g.notifier.Notify(ctx, message, channel)
}

// AwaitDecision polls the decision events until one with a matching
// alertId appears or the timeout elapses. When multiple decisions share an
// alertId, the first by log order wins.
//
// A timeout is an outcome, not an error: it returns (false, nil). Context
// cancellation returns ctx.Err so a cancelled run can distinguish the two.
// The wait never holds the bus's log lock.
func (g *Gateway) AwaitDecision(ctx context.Context, alertID string, timeout time.Duration) (bool, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	// Check immediately so decisions published before the wait started
	// resolve on the first pass.
	for {
		if approved, ok, err := g.findDecision(ctx, alertID); err != nil {
			return false, err
		} else if ok {
			return approved, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-deadline.C:
			g.logger.Warn("approval timed out",
				slog.String("alert_id", alertID),
				slog.Duration("timeout", timeout),
			)
			return false, nil
		case <-ticker.C:
		}
	}
}

func (g *Gateway) findDecision(ctx context.Context, alertID string) (approved, found bool, err error) {
	events, err := g.bus.GetEvents(ctx, api.EventDecision, time.Time{})
	if err != nil {
		return false, false, err
	}
	for _, ev := range events {
		d, ok := api.DecisionFromPayload(ev.Payload)
		if !ok || d.AlertID != alertID {
			continue
		}
		return d.Approved, true, nil
	}
	return false, false, nil
}
