package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/mo"
	"github.com/stanstork/jobwatch/internal/models"
	"github.com/stanstork/jobwatch/internal/stream"
)

const followInterval = 500 * time.Millisecond

// jobView is the part of the monitor facade follow reads from.
type jobView interface {
	Job() mo.Option[models.Job]
	Progress() models.Progress
	Logs() []models.LogEntry
	StreamMode() stream.Mode
	Refresh(ctx context.Context) error
}

// follow prints new log entries and progress changes until the job is done
// and its log has drained, or ctx ends. A selection dropped underneath it
// means the session was lost.
func follow(ctx context.Context, f jobView, out io.Writer, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	printed := map[int64]struct{}{}
	lastKey := ""
	var following int64

	for {
		entries := f.Logs()
		seen := make(map[int64]struct{}, len(entries))
		summarized := false
		for _, e := range entries {
			seen[e.ID] = struct{}{}
			if _, ok := printed[e.ID]; !ok {
				fmt.Fprintln(out, formatEntry(e))
				summarized = summarized || e.Kind() == "summary"
			}
		}
		printed = seen

		job, ok := f.Job().Get()
		if !ok {
			if following != 0 {
				return errors.Errorf("signed out while following job %d", following)
			}
			return errors.New("no job selected")
		}
		following = job.ID

		// a summary entry is the last line a job logs
		if summarized && !job.Status.Terminal() {
			if err := f.Refresh(ctx); err == nil {
				job = f.Job().OrElse(job)
			}
		}

		p := f.Progress()
		// elapsed time alone does not warrant a new line
		if key := fmt.Sprintf("%s %.3f %d", job.Status, p.Ratio, p.Processed); key != lastKey {
			fmt.Fprintf(out, "%s (%s)\n", formatProgress(job, p), f.StreamMode())
			lastKey = key
		}
		if job.Status.Terminal() && f.StreamMode() == stream.ModeIdle {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func formatEntry(e models.LogEntry) string {
	ts := "--:--"
	if !e.CreatedAt.IsZero() {
		ts = e.CreatedAt.Local().Format(time.Kitchen)
	}
	level := strings.ToUpper(e.Level())
	if level == "" {
		level = "INFO"
	}
	msg := e.Message()
	if msg == "" {
		msg = string(e.Payload)
	}
	if kind := e.Kind(); kind != "" {
		msg = "[" + kind + "] " + msg
	}
	return fmt.Sprintf("%s %-5s %s", ts, level, msg)
}

func formatProgress(job models.Job, p models.Progress) string {
	var b strings.Builder
	fmt.Fprintf(&b, "job %d %s %3.0f%%", job.ID, job.Status, p.Ratio*100)
	fmt.Fprintf(&b, " inserted=%d updated=%d ignored=%d errors=%d", p.Inserted, p.Updated, p.Ignored, p.Errors)
	fmt.Fprintf(&b, " elapsed=%s", (time.Duration(p.DurationSec) * time.Second).String())
	if p.EtaSec != nil {
		fmt.Fprintf(&b, " eta=%s", (time.Duration(*p.EtaSec) * time.Second).String())
	}
	return b.String()
}

func formatRun(job models.Job) string {
	var b strings.Builder
	fmt.Fprintf(&b, "#%d %s %s", job.ID, job.Type, job.Status)
	fmt.Fprintf(&b, " inserted=%d updated=%d ignored=%d errors=%d", job.Inserted, job.Updated, job.Ignored, job.Errors)
	if job.FinishedAt != nil {
		fmt.Fprintf(&b, " finished=%s", job.FinishedAt.Local().Format(time.DateTime))
	}
	if job.User != "" {
		fmt.Fprintf(&b, " by %s", job.User)
	}
	if job.Error != nil && *job.Error != "" {
		fmt.Fprintf(&b, " error=%q", *job.Error)
	}
	return b.String()
}
