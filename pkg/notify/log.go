package notify

import (
	"context"
	"log/slog"
)

// LogNotifier writes notifications to the log. It stands in for the user
// channel when no bot token is configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a notifier that logs at info level.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Name() string { return "log" }

func (l *LogNotifier) Send(_ context.Context, n Notification) error {
	l.logger.Info("notification",
		"kind", n.Kind,
		"user_id", n.UserID,
		"alert_id", n.AlertID,
		"text", n.Text,
	)
	return nil
}
