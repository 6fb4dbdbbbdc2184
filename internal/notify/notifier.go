package notify

import (
	"context"
	"log/slog"
)

// Notifier is the notification collaborator boundary.
// Calls are fire-and-forget: implementations must never block settlement flows,
// and callers must never fail a transition on a notification error.
type Notifier interface {
	Notify(ctx context.Context, accountID, event string, payload map[string]any)
}

// LogNotifier records notifications to the structured log.
// Used as the default until a delivery provider is wired by the collaborator.
type LogNotifier struct {
	Log *slog.Logger
}

func (n LogNotifier) Notify(ctx context.Context, accountID, event string, payload map[string]any) {
	l := n.Log
	if l == nil {
		l = slog.Default()
	}
	l.InfoContext(ctx, "notify", "account_id", accountID, "event", event, "payload", payload)
}

// Noop discards notifications. Useful in tests.
type Noop struct{}

func (Noop) Notify(context.Context, string, string, map[string]any) {}
