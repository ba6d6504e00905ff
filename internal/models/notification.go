package models

import (
	"time"
)

type NotificationSeverity string

const (
	NotificationSeverityInfo    NotificationSeverity = "info"
	NotificationSeverityWarning NotificationSeverity = "warning"
	NotificationSeverityError   NotificationSeverity = "error"
)

type NotificationEvent string

const (
	NotificationEventJobStarted  NotificationEvent = "job_started"
	NotificationEventJobFinished NotificationEvent = "job_finished"
	NotificationEventJobFailed   NotificationEvent = "job_failed"
	NotificationEventSignedOut   NotificationEvent = "signed_out"
)

type Notification struct {
	EventType NotificationEvent      `json:"event_type"`
	Severity  NotificationSeverity   `json:"severity"`
	JobID     int64                  `json:"job_id,omitempty"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}
