// Package monitor selects one job at a time and keeps its status snapshot and
// log buffer live until the job finishes or another job is selected.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/mo"
	"github.com/stanstork/jobwatch/internal/config"
	"github.com/stanstork/jobwatch/internal/logbuffer"
	"github.com/stanstork/jobwatch/internal/metrics"
	"github.com/stanstork/jobwatch/internal/models"
	"github.com/stanstork/jobwatch/internal/notification"
	"github.com/stanstork/jobwatch/internal/poller"
	"github.com/stanstork/jobwatch/internal/repository"
	"github.com/stanstork/jobwatch/internal/stream"
)

// AuthEvents reports when the signed-in session is lost.
type AuthEvents interface {
	OnAuthFailure(fn func(reason string)) func()
}

// watch is everything running on behalf of one selection.
type watch struct {
	gen      uint64
	jobID    int64
	poller   *poller.Poller
	stream   *stream.Coordinator
	notified bool
}

// Facade is the single entry point for monitoring a job. Selection changes
// are serialized; background loops report back tagged with their watch and
// reports from a replaced watch are dropped.
type Facade struct {
	jobs     JobsClient
	lastJob  repository.JobRepository
	cfg      config.MonitorConfig
	buffer   *logbuffer.Buffer
	notifier notification.Service
	logger   zerolog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()

	selectMu sync.Mutex

	stateMu sync.Mutex
	job     mo.Option[models.Job]
	current *watch
	gen     uint64
	cursor  mo.Option[int64]
	lastErr error
	logErr  error
}

type Option func(*Facade)

func WithLogger(logger zerolog.Logger) Option {
	return func(f *Facade) { f.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(f *Facade) { f.metrics = m }
}

func WithNotifications(svc notification.Service) Option {
	return func(f *Facade) { f.notifier = svc }
}

func WithClock(now func() time.Time) Option {
	return func(f *Facade) { f.now = now }
}

// WithAuthEvents clears the selection whenever the session is lost.
func WithAuthEvents(events AuthEvents) Option {
	return func(f *Facade) {
		f.unsubscribe = events.OnAuthFailure(func(reason string) {
			// the signal can arrive from inside one of our own loops
			go f.onAuthFailure(reason)
		})
	}
}

func New(jobs JobsClient, lastJob repository.JobRepository, cfg config.MonitorConfig, opts ...Option) *Facade {
	ctx, cancel := context.WithCancel(context.Background())
	f := &Facade{
		jobs:    jobs,
		lastJob: lastJob,
		cfg:     cfg,
		buffer:  logbuffer.New(cfg.MaxLogItems),
		logger:  zerolog.Nop(),
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.With().Str("component", "monitor").Logger()
	return f
}

// StartJob enqueues a job of the given kind and selects it.
func (f *Facade) StartJob(ctx context.Context, action string) (models.Job, error) {
	run, err := f.jobs.StartJob(ctx, action)
	if err != nil {
		return models.Job{}, err
	}
	f.logger.Info().Str("action", action).Int64("job_id", run.JobID).Msg("job started")

	job, err := f.LoadJob(ctx, run.JobID)
	if err != nil {
		return models.Job{}, err
	}
	if f.notifier != nil {
		f.notifier.NotifyJobStarted(ctx, job)
	}
	return job, nil
}

// LoadJob selects jobID. Whatever was selected before is torn down first. A
// failed fetch leaves nothing selected and returns the transport error.
func (f *Facade) LoadJob(ctx context.Context, jobID int64) (models.Job, error) {
	f.selectMu.Lock()
	defer f.selectMu.Unlock()

	f.teardown()
	f.buffer.Clear()
	f.reset()

	job, err := f.jobs.GetJob(ctx, jobID)
	if err != nil {
		f.logger.Warn().Err(err).Int64("job_id", jobID).Msg("failed to load job")
		if cerr := f.lastJob.ClearLastViewed(ctx); cerr != nil {
			f.logger.Warn().Err(cerr).Msg("failed to clear last viewed job")
		}
		return models.Job{}, err
	}

	f.stateMu.Lock()
	f.job = mo.Some(job)
	f.stateMu.Unlock()
	if err := f.lastJob.SetLastViewed(ctx, jobID); err != nil {
		f.logger.Warn().Err(err).Msg("failed to persist last viewed job")
	}

	cursor := f.backfill(ctx, jobID)

	if job.Status.Active() {
		f.watch(job, cursor)
	}
	return job, nil
}

// backfill replaces the buffer with the latest page of entries and returns
// the cursor after it.
func (f *Facade) backfill(ctx context.Context, jobID int64) mo.Option[int64] {
	page, err := f.jobs.FetchLogs(ctx, jobID, mo.None[int64](), f.cfg.LogPageSize)
	if err != nil {
		f.logger.Debug().Err(err).Int64("job_id", jobID).Msg("log backfill failed")
		f.stateMu.Lock()
		f.logErr = err
		f.stateMu.Unlock()
		return mo.None[int64]()
	}
	added := f.buffer.Merge(page.Items, true)
	f.metrics.LogEntriesMerged(added)

	high := logbuffer.MaxRealID(page.Items)
	if page.NextAfter != nil && *page.NextAfter > high {
		high = *page.NextAfter
	}
	cursor := mo.None[int64]()
	if high > 0 {
		cursor = mo.Some(high)
	}
	f.stateMu.Lock()
	f.cursor = cursor
	f.stateMu.Unlock()
	return cursor
}

func (f *Facade) watch(job models.Job, cursor mo.Option[int64]) {
	w := &watch{jobID: job.ID}
	w.stream = stream.NewCoordinator(job.ID, f.jobs, f.buffer, cursor,
		stream.Config{PageSize: f.cfg.LogPageSize, PollInterval: f.cfg.LogPollInterval},
		stream.WithLogger(f.logger),
		stream.WithMetrics(f.metrics),
	)
	w.poller = poller.New(job.ID, f.jobs, f.cfg.StatusPollInterval,
		poller.OnSnapshot(func(j models.Job) { f.applySnapshot(w, j) }),
		poller.OnError(func(err error) { f.applyError(w, err) }),
		poller.WithLogger(f.logger),
		poller.WithMetrics(f.metrics),
	)

	f.stateMu.Lock()
	f.gen++
	w.gen = f.gen
	f.current = w
	f.stateMu.Unlock()

	f.logger.Debug().Int64("job_id", job.ID).Uint64("watch", w.gen).Msg("watching job")
	w.poller.Start(f.ctx)
	w.stream.Start(f.ctx)
}

func (f *Facade) applySnapshot(w *watch, job models.Job) {
	f.stateMu.Lock()
	if f.current != w {
		f.stateMu.Unlock()
		return
	}
	f.job = mo.Some(job)
	f.lastErr = nil
	terminal := job.Status.Terminal()
	notify := terminal && !w.notified
	if terminal {
		w.notified = true
	}
	f.stateMu.Unlock()

	if !terminal {
		return
	}
	w.stream.Stop()
	f.logger.Info().Int64("job_id", job.ID).Str("status", string(job.Status)).Msg("job reached a terminal state")
	if notify && f.notifier != nil {
		switch job.Status {
		case models.JobStatusFinished:
			f.notifier.NotifyJobFinished(f.ctx, job)
		case models.JobStatusFailed:
			f.notifier.NotifyJobFailed(f.ctx, job)
		}
	}
}

func (f *Facade) applyError(w *watch, err error) {
	f.stateMu.Lock()
	defer f.stateMu.Unlock()
	if f.current == w {
		f.lastErr = err
	}
}

// teardown detaches the current watch and waits for its loops to exit.
// Callers hold selectMu and must not hold stateMu.
func (f *Facade) teardown() {
	f.stateMu.Lock()
	w := f.current
	f.current = nil
	f.stateMu.Unlock()

	if w == nil {
		return
	}
	w.stream.Stop()
	w.poller.Stop()
	f.logger.Debug().Int64("job_id", w.jobID).Uint64("watch", w.gen).Msg("stopped watching job")
}

func (f *Facade) reset() {
	f.stateMu.Lock()
	defer f.stateMu.Unlock()
	f.job = mo.None[models.Job]()
	f.cursor = mo.None[int64]()
	f.lastErr = nil
	f.logErr = nil
}

// ClearJob drops the selection, its logs and the remembered job id.
func (f *Facade) ClearJob(ctx context.Context) error {
	f.selectMu.Lock()
	defer f.selectMu.Unlock()

	f.teardown()
	f.buffer.Clear()
	f.reset()
	return f.lastJob.ClearLastViewed(ctx)
}

// Resume reselects the job viewed last, if any. A job that can no longer be
// loaded is forgotten without reporting an error.
func (f *Facade) Resume(ctx context.Context) error {
	last, err := f.lastJob.LastViewed(ctx)
	if err != nil {
		return err
	}
	jobID, ok := last.Get()
	if !ok {
		return nil
	}
	if _, err := f.LoadJob(ctx, jobID); err != nil {
		f.logger.Debug().Err(err).Int64("job_id", jobID).Msg("last viewed job could not be resumed")
	}
	return nil
}

// Close stops monitoring but keeps the remembered job id for the next Resume.
func (f *Facade) Close() {
	f.selectMu.Lock()
	defer f.selectMu.Unlock()

	f.teardown()
	if f.unsubscribe != nil {
		f.unsubscribe()
		f.unsubscribe = nil
	}
	f.cancel()
}

func (f *Facade) onAuthFailure(reason string) {
	if err := f.ClearJob(context.Background()); err != nil {
		f.logger.Warn().Err(err).Msg("failed to clear job after sign-out")
	}
	if f.notifier != nil {
		f.notifier.NotifySignedOut(context.Background(), reason)
	}
}

// Refresh fetches the selected job's status immediately.
func (f *Facade) Refresh(ctx context.Context) error {
	f.stateMu.Lock()
	w := f.current
	f.stateMu.Unlock()
	if w == nil {
		return nil
	}
	return w.poller.Refresh(ctx)
}

func (f *Facade) Job() mo.Option[models.Job] {
	f.stateMu.Lock()
	defer f.stateMu.Unlock()
	return f.job
}

func (f *Facade) Progress() models.Progress {
	job, ok := f.Job().Get()
	if !ok {
		return models.ProgressOf(nil, f.now())
	}
	return models.ProgressOf(&job, f.now())
}

func (f *Facade) Logs() []models.LogEntry {
	return f.buffer.Snapshot()
}

func (f *Facade) StreamMode() stream.Mode {
	if w := f.currentWatch(); w != nil {
		return w.stream.Mode()
	}
	return stream.ModeIdle
}

func (f *Facade) Cursor() mo.Option[int64] {
	if w := f.currentWatch(); w != nil {
		return w.stream.Cursor()
	}
	f.stateMu.Lock()
	defer f.stateMu.Unlock()
	return f.cursor
}

// LastError is the most recent status refresh failure, cleared by the next
// successful refresh.
func (f *Facade) LastError() error {
	f.stateMu.Lock()
	defer f.stateMu.Unlock()
	return f.lastErr
}

// LogError is the most recent failure to fetch log entries.
func (f *Facade) LogError() error {
	f.stateMu.Lock()
	err, w := f.logErr, f.current
	f.stateMu.Unlock()
	if w != nil {
		if streamErr := w.stream.Status().LastError; streamErr != nil {
			return streamErr
		}
	}
	return err
}

func (f *Facade) currentWatch() *watch {
	f.stateMu.Lock()
	defer f.stateMu.Unlock()
	return f.current
}
