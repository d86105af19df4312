package api

import (
	"context"
	"log/slog"
)

// Notifier is the outbound notification collaborator (Slack, email, ...).
// Calls are fire-and-forget from the engine's point of view: callers log
// failures and never let them affect workflow state.
type Notifier interface {
	Notify(ctx context.Context, message, channel string) error
	NotifyApprovalNeeded(ctx context.Context, reason, channel, alertID string) error
}

// LogNotifier writes notifications to a slog.Logger. It is the default
// collaborator when no external channel is wired up.
type LogNotifier struct {
	Logger *slog.Logger
}

// NewLogNotifier creates a Notifier backed by the given logger.
// If logger is nil, slog.Default() is used.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{Logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, message, channel string) error {
	n.Logger.InfoContext(ctx, "notify",
		slog.String("channel", channel),
		slog.String("message", message),
	)
	return nil
}

func (n *LogNotifier) NotifyApprovalNeeded(ctx context.Context, reason, channel, alertID string) error {
	n.Logger.InfoContext(ctx, "approval_needed",
		slog.String("channel", channel),
		slog.String("alert_id", alertID),
		slog.String("reason", reason),
	)
	return nil
}
