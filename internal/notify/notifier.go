// Package notify delivers operator-facing events: approval requests, kill
// switch flips, execution outcomes. Delivery is best effort; a failed
// notification never blocks the remediation pipeline.
package notify

import (
	"context"
	"log/slog"
	"time"
)

// Event is one operator notification.
type Event struct {
	Kind    string    `json:"kind"`
	AlertID string    `json:"alert_id,omitempty"`
	Summary string    `json:"summary"`
	Detail  string    `json:"detail,omitempty"`
	At      time.Time `json:"at"`
}

// Event kinds.
const (
	KindApprovalRequested = "approval_requested"
	KindApprovalExpired   = "approval_expired"
	KindExecutionFailed   = "execution_failed"
	KindRolledBack        = "rolled_back"
	KindKillSwitch        = "kill_switch"
)

// Notifier delivers events to one channel.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// LogNotifier writes events to the structured log. Always configured as the
// channel of last resort.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier builds a LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, ev Event) error {
	n.logger.Info("operator notification",
		slog.String("kind", ev.Kind),
		slog.String("alert_id", ev.AlertID),
		slog.String("summary", ev.Summary),
	)
	return nil
}

// Fanout delivers each event to every notifier, collecting nothing: delivery
// failures are logged by the notifiers themselves.
type Fanout struct {
	logger    *slog.Logger
	notifiers []Notifier
}

// NewFanout builds a Fanout over the given notifiers.
func NewFanout(logger *slog.Logger, notifiers ...Notifier) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fanout{logger: logger, notifiers: notifiers}
}

func (f *Fanout) Notify(ctx context.Context, ev Event) error {
	for _, n := range f.notifiers {
		if err := n.Notify(ctx, ev); err != nil {
			f.logger.Warn("notification delivery failed",
				slog.String("kind", ev.Kind),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}
