package notification

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stanstork/jobwatch/internal/models"
)

const historySize = 50

type Event struct {
	Event    models.NotificationEvent
	Severity models.NotificationSeverity
	JobID    int64
	Title    string
	Message  string
	Metadata map[string]interface{}
}

type Service interface {
	Publish(ctx context.Context, evt Event) (models.Notification, error)
	NotifyJobStarted(ctx context.Context, job models.Job) error
	NotifyJobFinished(ctx context.Context, job models.Job) error
	NotifyJobFailed(ctx context.Context, job models.Job) error
	NotifySignedOut(ctx context.Context, reason string) error
	ListRecent(limit int) []models.Notification
}

type service struct {
	logger    zerolog.Logger
	notifiers []Notifier
	now       func() time.Time

	mu      sync.Mutex
	history []models.Notification
}

func NewService(logger zerolog.Logger, notifiers ...Notifier) Service {
	active := make([]Notifier, 0, len(notifiers))
	for _, notifier := range notifiers {
		if notifier != nil {
			active = append(active, notifier)
		}
	}
	return &service{
		logger:    logger.With().Str("component", "notification_service").Logger(),
		notifiers: active,
		now:       time.Now,
	}
}

func (s *service) Publish(ctx context.Context, evt Event) (models.Notification, error) {
	if evt.Event == "" {
		return models.Notification{}, errors.New("event type is required")
	}
	if evt.Severity == "" {
		evt.Severity = models.NotificationSeverityInfo
	}
	title := strings.TrimSpace(evt.Title)
	if title == "" {
		title = string(evt.Event)
	}
	notif := models.Notification{
		EventType: evt.Event,
		Severity:  evt.Severity,
		JobID:     evt.JobID,
		Title:     title,
		Message:   strings.TrimSpace(evt.Message),
		Metadata:  evt.Metadata,
		CreatedAt: s.now(),
	}

	s.mu.Lock()
	s.history = append(s.history, notif)
	if len(s.history) > historySize {
		s.history = s.history[len(s.history)-historySize:]
	}
	s.mu.Unlock()

	for _, notifier := range s.notifiers {
		if err := notifier.Notify(ctx, notif); err != nil {
			logNotifyError(s.logger, err, notifierChannelName(notifier), notif)
		}
	}
	return notif, nil
}

func (s *service) NotifyJobStarted(ctx context.Context, job models.Job) error {
	name := jobName(job)
	_, err := s.Publish(ctx, Event{
		Event:    models.NotificationEventJobStarted,
		Severity: models.NotificationSeverityInfo,
		JobID:    job.ID,
		Title:    fmt.Sprintf("Job started: %s", name),
		Message:  fmt.Sprintf("Job %d is %s.", job.ID, job.Status),
		Metadata: map[string]interface{}{
			"job_type": job.Type,
			"status":   string(job.Status),
		},
	})
	return err
}

func (s *service) NotifyJobFinished(ctx context.Context, job models.Job) error {
	name := jobName(job)
	metadata := map[string]interface{}{
		"job_type": job.Type,
		"inserted": job.Inserted,
		"updated":  job.Updated,
		"ignored":  job.Ignored,
		"errors":   job.Errors,
	}
	if job.DurationSec != nil {
		metadata["duration_sec"] = *job.DurationSec
	}
	_, err := s.Publish(ctx, Event{
		Event:    models.NotificationEventJobFinished,
		Severity: models.NotificationSeverityInfo,
		JobID:    job.ID,
		Title:    fmt.Sprintf("Job finished: %s", name),
		Message: fmt.Sprintf("Job %d completed: %d inserted, %d updated, %d ignored, %d errors.",
			job.ID, job.Inserted, job.Updated, job.Ignored, job.Errors),
		Metadata: metadata,
	})
	return err
}

func (s *service) NotifyJobFailed(ctx context.Context, job models.Job) error {
	name := jobName(job)
	reason := "Unknown error"
	if job.Error != nil && strings.TrimSpace(*job.Error) != "" {
		reason = strings.TrimSpace(*job.Error)
	}
	_, err := s.Publish(ctx, Event{
		Event:    models.NotificationEventJobFailed,
		Severity: models.NotificationSeverityError,
		JobID:    job.ID,
		Title:    fmt.Sprintf("Job failed: %s", name),
		Message:  fmt.Sprintf("Job %d failed: %s", job.ID, reason),
		Metadata: map[string]interface{}{
			"job_type": job.Type,
			"reason":   reason,
		},
	})
	return err
}

func (s *service) NotifySignedOut(ctx context.Context, reason string) error {
	_, err := s.Publish(ctx, Event{
		Event:    models.NotificationEventSignedOut,
		Severity: models.NotificationSeverityWarning,
		Title:    "Signed out",
		Message:  fmt.Sprintf("Session ended (%s). Sign in again to keep monitoring.", reason),
	})
	return err
}

// ListRecent returns up to limit notifications, newest first.
func (s *service) ListRecent(limit int) []models.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit > len(s.history) {
		limit = len(s.history)
	}
	out := make([]models.Notification, 0, limit)
	for i := len(s.history) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.history[i])
	}
	return out
}

func jobName(job models.Job) string {
	if trimmed := strings.TrimSpace(job.Type); trimmed != "" {
		return fmt.Sprintf("%s #%d", trimmed, job.ID)
	}
	return fmt.Sprintf("#%d", job.ID)
}

func notifierChannelName(n Notifier) string {
	type named interface {
		String() string
	}
	if v, ok := n.(named); ok {
		return v.String()
	}
	return fmt.Sprintf("%T", n)
}
