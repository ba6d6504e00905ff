package transport

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/mo"
	"github.com/stanstork/jobwatch/internal/config"
	"github.com/stanstork/jobwatch/internal/models"
)

type JobsAPI struct {
	client    *Client
	endpoints config.Endpoints
}

func NewJobsAPI(client *Client, endpoints config.Endpoints) *JobsAPI {
	return &JobsAPI{client: client, endpoints: endpoints}
}

func expand(template string, jobID int64, action string) string {
	return strings.NewReplacer(
		"{id}", strconv.FormatInt(jobID, 10),
		"{action}", url.PathEscape(action),
	).Replace(template)
}

// StartJob enqueues a job of the given kind (e.g. "filmes").
func (a *JobsAPI) StartJob(ctx context.Context, action string) (models.JobRun, error) {
	var run models.JobRun
	if err := a.client.Do(ctx, http.MethodPost, expand(a.endpoints.StartJob, 0, action), &run); err != nil {
		return models.JobRun{}, errors.Wrapf(err, "start %s job", action)
	}
	return run, nil
}

func (a *JobsAPI) GetJob(ctx context.Context, jobID int64) (models.Job, error) {
	var job models.Job
	if err := a.client.Do(ctx, http.MethodGet, expand(a.endpoints.Job, jobID, ""), &job); err != nil {
		return models.Job{}, errors.Wrapf(err, "get job %d", jobID)
	}
	if job.ID == 0 {
		job.ID = jobID
	}
	return job, nil
}

// FetchLogs pulls entries newer than after. Without a cursor it returns the
// latest page.
func (a *JobsAPI) FetchLogs(ctx context.Context, jobID int64, after mo.Option[int64], limit int) (models.LogPage, error) {
	q := url.Values{}
	if cursor, ok := after.Get(); ok {
		q.Set("after", strconv.FormatInt(cursor, 10))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var page models.LogPage
	if err := a.client.Do(ctx, http.MethodGet, expand(a.endpoints.Logs, jobID, ""), &page, WithQuery(q)); err != nil {
		return models.LogPage{}, errors.Wrapf(err, "fetch logs of job %d", jobID)
	}
	return page, nil
}

// ListJobs returns one page of the jobs started for action, newest first.
// page starts at 1; the server clamps pageSize.
func (a *JobsAPI) ListJobs(ctx context.Context, action string, page, pageSize int) (models.JobPage, error) {
	var out models.JobPage
	err := a.client.Do(ctx, http.MethodGet, expand(a.endpoints.History, 0, action), &out, WithQuery(pageQuery(page, pageSize)))
	if err != nil {
		return models.JobPage{}, errors.Wrapf(err, "list %s jobs", action)
	}
	return out, nil
}

// RunFilter narrows ListRuns. Empty fields match everything.
type RunFilter struct {
	Action string
	Status models.JobStatus
}

// ListRuns returns one page of jobs across actions, most recently finished
// first, with their outcome counters.
func (a *JobsAPI) ListRuns(ctx context.Context, filter RunFilter, page, pageSize int) (models.JobPage, error) {
	q := pageQuery(page, pageSize)
	if filter.Action != "" {
		q.Set("type", filter.Action)
	}
	if filter.Status != "" {
		q.Set("status", string(filter.Status))
	}

	var out models.JobPage
	if err := a.client.Do(ctx, http.MethodGet, a.endpoints.Runs, &out, WithQuery(q)); err != nil {
		return models.JobPage{}, errors.Wrap(err, "list job runs")
	}
	return out, nil
}

// LogDetail fetches one stored log entry by its id.
func (a *JobsAPI) LogDetail(ctx context.Context, logID int64) (models.LogDetail, error) {
	var out models.LogDetail
	if err := a.client.Do(ctx, http.MethodGet, expand(a.endpoints.LogDetail, logID, ""), &out); err != nil {
		return models.LogDetail{}, errors.Wrapf(err, "get log %d", logID)
	}
	return out, nil
}

func pageQuery(page, pageSize int) url.Values {
	q := url.Values{}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if pageSize > 0 {
		q.Set("pageSize", strconv.Itoa(pageSize))
	}
	return q
}

// OpenFeed opens the job's push feed, resuming after cursor. The credential
// goes in the query string because event-stream consumers cannot always set
// headers; it is sent as a header as well.
func (a *JobsAPI) OpenFeed(ctx context.Context, jobID int64, cursor mo.Option[int64]) (*EventStream, error) {
	c := a.client
	if c.tokens == nil {
		return nil, &Error{Kind: KindUnauthorized, Message: "not signed in"}
	}
	token, ok := c.tokens.AccessToken()
	if !ok {
		return nil, &Error{Kind: KindUnauthorized, Message: "not signed in"}
	}

	q := url.Values{}
	q.Set("stream", "1")
	q.Set("token", token)
	if tenant := c.tenantID(); tenant != "" {
		q.Set("tenant", tenant)
	}
	if id, ok := cursor.Get(); ok {
		q.Set("lastEventId", strconv.FormatInt(id, 10))
	}

	req, err := c.newRequest(ctx, http.MethodGet, expand(a.endpoints.Logs, jobID, ""), q, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Authorization", "Bearer "+token)
	if id, ok := cursor.Get(); ok {
		req.Header.Set("Last-Event-ID", strconv.FormatInt(id, 10))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Message: "open log feed", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		kind := KindServer
		if resp.StatusCode == http.StatusUnauthorized {
			kind = KindUnauthorized
		}
		return nil, rejection(resp, kind)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "text/event-stream") {
		resp.Body.Close()
		return nil, &Error{Kind: KindServer, Status: resp.StatusCode, Message: "log feed is not an event stream: " + ct}
	}
	return NewEventStream(resp.Body), nil
}
