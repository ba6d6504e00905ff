package monitor

import (
	"context"

	"github.com/samber/mo"
	"github.com/stanstork/jobwatch/internal/models"
	"github.com/stanstork/jobwatch/internal/stream"
	"github.com/stanstork/jobwatch/internal/transport"
)

// JobsClient is the slice of the backend the facade drives.
type JobsClient interface {
	StartJob(ctx context.Context, action string) (models.JobRun, error)
	GetJob(ctx context.Context, jobID int64) (models.Job, error)
	FetchLogs(ctx context.Context, jobID int64, after mo.Option[int64], limit int) (models.LogPage, error)
	OpenFeed(ctx context.Context, jobID int64, cursor mo.Option[int64]) (stream.Feed, error)
}

type jobsAPI struct {
	*transport.JobsAPI
}

// FromJobsAPI adapts the HTTP jobs API to JobsClient.
func FromJobsAPI(api *transport.JobsAPI) JobsClient {
	return jobsAPI{JobsAPI: api}
}

func (a jobsAPI) OpenFeed(ctx context.Context, jobID int64, cursor mo.Option[int64]) (stream.Feed, error) {
	feed, err := a.JobsAPI.OpenFeed(ctx, jobID, cursor)
	if err != nil {
		return nil, err
	}
	return feed, nil
}
