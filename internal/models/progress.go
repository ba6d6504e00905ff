package models

import "time"

// Progress is the fixed-shape view of a job snapshot shown next to its logs.
type Progress struct {
	Inserted    int64
	Updated     int64
	Ignored     int64
	Errors      int64
	Processed   int64
	Ratio       float64
	DurationSec float64
	EtaSec      *int64
	StartedAt   *time.Time
	FinishedAt  *time.Time
}

// ProgressOf projects a job snapshot. A nil job yields the zero Progress.
func ProgressOf(job *Job, now time.Time) Progress {
	if job == nil {
		return Progress{}
	}
	p := Progress{
		Inserted:   job.Inserted,
		Updated:    job.Updated,
		Ignored:    job.Ignored,
		Errors:     job.Errors,
		Processed:  job.Inserted + job.Updated + job.Ignored + job.Errors,
		EtaSec:     job.EtaSec,
		StartedAt:  job.StartedAt,
		FinishedAt: job.FinishedAt,
	}
	if job.Progress != nil {
		p.Ratio = clamp01(*job.Progress)
	} else if job.Status == JobStatusFinished {
		p.Ratio = 1
	}

	switch {
	case job.DurationSec != nil:
		p.DurationSec = *job.DurationSec
	case job.StartedAt != nil && job.FinishedAt != nil:
		p.DurationSec = job.FinishedAt.Sub(*job.StartedAt).Seconds()
	case job.StartedAt != nil && !job.Status.Terminal():
		p.DurationSec = now.Sub(*job.StartedAt).Seconds()
	}
	if p.DurationSec < 0 {
		p.DurationSec = 0
	}
	return p
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
