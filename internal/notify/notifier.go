package notify

import (
	"context"

	"github.com/rs/zerolog"
)

// Severity уровень уведомления
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// LogNotifier пишет уведомления в лог
type LogNotifier struct {
	log zerolog.Logger
}

// NewLogNotifier создает notifier поверх zerolog
func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log.With().Str("component", "notify").Logger()}
}

func (n *LogNotifier) Notify(_ context.Context, message string, severity Severity) {
	var ev *zerolog.Event
	switch severity {
	case SeverityError:
		ev = n.log.Error()
	case SeverityWarning:
		ev = n.log.Warn()
	default:
		ev = n.log.Info()
	}
	ev.Str("severity", string(severity)).Msg(message)
}
