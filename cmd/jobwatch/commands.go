package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/stanstork/jobwatch/internal/models"
	"github.com/stanstork/jobwatch/internal/transport"
	"github.com/urfave/cli/v3"
)

func loginAction(ctx context.Context, cmd *cli.Command, app *application) error {
	principal, err := app.session.Login(ctx, cmd.String("email"), cmd.String("password"))
	if err != nil {
		return errors.Wrap(err, "sign in")
	}
	name := principal.Name
	if name == "" {
		name = principal.Email
	}
	fmt.Fprintf(os.Stdout, "Signed in as %s (tenant %s, role %s)\n", name, principal.TenantID, principal.Role)
	return nil
}

func logoutAction(ctx context.Context, _ *cli.Command, app *application) error {
	if err := app.session.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, "Signed out")
	return nil
}

func runAction(ctx context.Context, cmd *cli.Command, app *application) error {
	action := strings.TrimSpace(cmd.Args().First())
	if action == "" {
		return errors.New("missing job action, e.g. `jobwatch run filmes`")
	}
	if err := app.requireSession(ctx); err != nil {
		return err
	}

	job, err := app.monitor.StartJob(ctx, action)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "Job %d %s\n", job.ID, job.Status)
	return follow(ctx, app.monitor, os.Stdout, followInterval)
}

func watchAction(ctx context.Context, cmd *cli.Command, app *application) error {
	if err := app.requireSession(ctx); err != nil {
		return err
	}

	if arg := cmd.Args().First(); arg != "" {
		jobID, err := parseJobID(arg)
		if err != nil {
			return err
		}
		if _, err := app.monitor.LoadJob(ctx, jobID); err != nil {
			return err
		}
	} else {
		if err := app.monitor.Resume(ctx); err != nil {
			return err
		}
		if !app.monitor.Job().IsPresent() {
			return errors.New("no job to watch, pass a job id")
		}
	}
	return follow(ctx, app.monitor, os.Stdout, followInterval)
}

func statusAction(ctx context.Context, cmd *cli.Command, app *application) error {
	jobID, err := parseJobID(cmd.Args().First())
	if err != nil {
		return err
	}
	if err := app.requireSession(ctx); err != nil {
		return err
	}

	job, err := app.jobs.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, formatProgress(job, models.ProgressOf(&job, time.Now())))
	if job.Error != nil && *job.Error != "" {
		fmt.Fprintf(os.Stdout, "error: %s\n", *job.Error)
	}
	return nil
}

// historyAction lists past jobs. With an action and no status filter it uses
// the per-action listing; otherwise the cross-action run log.
func historyAction(ctx context.Context, cmd *cli.Command, app *application) error {
	if err := app.requireSession(ctx); err != nil {
		return err
	}
	action := strings.TrimSpace(cmd.Args().First())
	status := models.JobStatus(strings.TrimSpace(cmd.String("status")))
	page, pageSize := int(cmd.Int("page")), int(cmd.Int("page-size"))

	var (
		jobs models.JobPage
		err  error
	)
	if action != "" && status == "" {
		jobs, err = app.jobs.ListJobs(ctx, action, page, pageSize)
	} else {
		jobs, err = app.jobs.ListRuns(ctx, transport.RunFilter{Action: action, Status: status}, page, pageSize)
	}
	if err != nil {
		return err
	}

	if len(jobs.Items) == 0 {
		fmt.Fprintln(os.Stdout, "No jobs found")
		return nil
	}
	for _, job := range jobs.Items {
		fmt.Fprintln(os.Stdout, formatRun(job))
	}
	fmt.Fprintf(os.Stdout, "page %d, %d of %d jobs\n", jobs.Page, len(jobs.Items), jobs.Total)
	return nil
}

func logAction(ctx context.Context, cmd *cli.Command, app *application) error {
	logID, err := parseJobID(cmd.Args().First())
	if err != nil {
		return errors.Errorf("invalid log id %q", cmd.Args().First())
	}
	if err := app.requireSession(ctx); err != nil {
		return err
	}

	detail, err := app.jobs.LogDetail(ctx, logID)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "job %d\n%s\n", detail.JobID, formatEntry(detail.Entry))
	return nil
}

func parseJobID(arg string) (int64, error) {
	jobID, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
	if err != nil || jobID <= 0 {
		return 0, errors.Errorf("invalid job id %q", arg)
	}
	return jobID, nil
}
