package models

import (
	"encoding/json"
	"time"
)

type JobStatus string

const (
	JobStatusQueued   JobStatus = "queued"
	JobStatusRunning  JobStatus = "running"
	JobStatusFinished JobStatus = "finished"
	JobStatusFailed   JobStatus = "failed"
)

// Terminal reports whether no further status or log changes are expected.
func (s JobStatus) Terminal() bool {
	return s == JobStatusFinished || s == JobStatusFailed
}

// Active reports whether the job is still expected to produce logs.
func (s JobStatus) Active() bool {
	return s == JobStatusQueued || s == JobStatusRunning
}

// Job is the backend's view of one asynchronous unit of work. The client only
// ever holds a read-only snapshot of it.
type Job struct {
	ID          int64      `json:"id"`
	Type        string     `json:"type,omitempty"`
	Status      JobStatus  `json:"status"`
	Inserted    int64      `json:"inserted"`
	Updated     int64      `json:"updated"`
	Ignored     int64      `json:"ignored"`
	Errors      int64      `json:"errors"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	FinishedAt  *time.Time `json:"finishedAt,omitempty"`
	DurationSec *float64   `json:"durationSec,omitempty"`
	Progress    *float64   `json:"progress,omitempty"`
	EtaSec      *int64     `json:"etaSec,omitempty"`
	Error       *string    `json:"error,omitempty"`
	User        string     `json:"user,omitempty"`
	Trigger     string     `json:"trigger,omitempty"`
	// LogID points at the summary log entry in run listings.
	LogID *int64 `json:"logId,omitempty"`
}

// UnmarshalJSON also accepts the run-listing shape, which names the id
// "jobId" and the failure reason "errorSummary".
func (j *Job) UnmarshalJSON(data []byte) error {
	type plain Job
	aux := struct {
		*plain
		JobID        *int64  `json:"jobId"`
		ErrorSummary *string `json:"errorSummary"`
	}{plain: (*plain)(j)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if j.ID == 0 && aux.JobID != nil {
		j.ID = *aux.JobID
	}
	if j.Error == nil && aux.ErrorSummary != nil {
		j.Error = aux.ErrorSummary
	}
	return nil
}

// JobPage is one page of a job listing, newest first.
type JobPage struct {
	Items    []Job `json:"items"`
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
	Total    int   `json:"total"`
}

// JobRun is the acknowledgement returned when a job is enqueued.
type JobRun struct {
	JobID  int64     `json:"jobId"`
	Status JobStatus `json:"status"`
}
