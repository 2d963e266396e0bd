package notify

import "log/slog"

// Alerter raises a user-visible alert for a freshly arrived
// notification. Granted models the environment's permission gate; when
// it reports false the feed skips the alert entirely.
type Alerter interface {
	Granted() bool
	Alert(title, message string)
}

// logAlerter is the default: alerts go to the log.
type logAlerter struct {
	logger *slog.Logger
}

func NewLogAlerter(logger *slog.Logger) Alerter {
	return &logAlerter{logger: logger.With(slog.String("component", "alerter"))}
}

func (a *logAlerter) Granted() bool { return true }

func (a *logAlerter) Alert(title, message string) {
	a.logger.Info("notification alert", slog.String("title", title), slog.String("message", message))
}
