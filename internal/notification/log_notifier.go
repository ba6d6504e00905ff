package notification

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/stanstork/jobwatch/internal/models"
)

// LogNotifier records every notification in the structured log.
type LogNotifier struct {
	logger zerolog.Logger
}

func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("notifier", "log").Logger()}
}

func (n *LogNotifier) Notify(_ context.Context, notif models.Notification) error {
	var evt *zerolog.Event
	switch notif.Severity {
	case models.NotificationSeverityError:
		evt = n.logger.Error()
	case models.NotificationSeverityWarning:
		evt = n.logger.Warn()
	default:
		evt = n.logger.Info()
	}
	evt.Str("event_type", string(notif.EventType)).
		Int64("job_id", notif.JobID).
		Fields(notif.Metadata).
		Msg(notif.Title)
	return nil
}

func (n *LogNotifier) String() string { return "LogNotifier" }
