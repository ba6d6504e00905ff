// Package poller refreshes a job's status snapshot on a fixed interval until
// the job reaches a terminal state.
package poller

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stanstork/jobwatch/internal/metrics"
	"github.com/stanstork/jobwatch/internal/models"
)

type JobSource interface {
	GetJob(ctx context.Context, jobID int64) (models.Job, error)
}

// Poller fetches one job on every tick. Fetches are numbered as they are
// issued and a result is applied only when nothing newer has been applied
// already, so a slow response can never overwrite a fresher snapshot.
type Poller struct {
	jobID    int64
	source   JobSource
	interval time.Duration
	onJob    func(models.Job)
	onError  func(error)
	logger   zerolog.Logger
	metrics  *metrics.Metrics

	mu       sync.Mutex
	issued   uint64
	applied  uint64
	finished bool
	stopped  bool
	started  bool
	cancel   context.CancelFunc
	done     chan struct{}

	// held while a handler runs so snapshots are delivered in order
	deliver sync.Mutex
}

type Option func(*Poller)

// OnSnapshot sets the handler receiving every applied snapshot.
func OnSnapshot(fn func(models.Job)) Option {
	return func(p *Poller) { p.onJob = fn }
}

// OnError sets the handler receiving failed fetches. The previous snapshot
// stays valid and polling continues.
func OnError(fn func(error)) Option {
	return func(p *Poller) { p.onError = fn }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(p *Poller) { p.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Poller) { p.metrics = m }
}

func New(jobID int64, source JobSource, interval time.Duration, opts ...Option) *Poller {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	p := &Poller{
		jobID:    jobID,
		source:   source,
		interval: interval,
		onJob:    func(models.Job) {},
		onError:  func(error) {},
		logger:   zerolog.Nop(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With().Str("component", "poller").Int64("job_id", jobID).Logger()
	return p
}

// Start begins polling. It has no effect after Start or Stop.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true
	ctx, p.cancel = context.WithCancel(ctx)
	go p.loop(ctx)
}

// Stop ends polling and waits for an in-flight tick to finish. It is safe to
// call more than once.
func (p *Poller) Stop() {
	p.mu.Lock()
	p.stopped = true
	started := p.started
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Unlock()

	if started {
		<-p.done
	}
}

// Done is closed when the polling loop exits.
func (p *Poller) Done() <-chan struct{} {
	return p.done
}

// Refresh fetches immediately, outside the tick schedule.
func (p *Poller) Refresh(ctx context.Context) error {
	_, err := p.poll(ctx)
	return err
}

func (p *Poller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if terminal, _ := p.poll(ctx); terminal || p.isFinished() {
			p.logger.Debug().Msg("job reached a terminal state, polling stopped")
			return
		}
	}
}

func (p *Poller) isFinished() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.finished
}

func (p *Poller) poll(ctx context.Context) (bool, error) {
	p.mu.Lock()
	if p.stopped || p.finished {
		p.mu.Unlock()
		return false, nil
	}
	p.issued++
	seq := p.issued
	p.mu.Unlock()

	job, err := p.source.GetJob(ctx, p.jobID)
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	p.mu.Lock()
	if p.stopped || seq <= p.applied {
		p.mu.Unlock()
		p.logger.Debug().Uint64("seq", seq).Msg("dropping stale status response")
		return false, err
	}
	if err != nil {
		p.mu.Unlock()
		p.metrics.StatusRefresh(false)
		p.logger.Debug().Err(err).Msg("status refresh failed")
		p.onError(err)
		return false, err
	}
	p.applied = seq
	terminal := job.Status.Terminal()
	if terminal {
		p.finished = true
	}
	p.deliver.Lock()
	p.mu.Unlock()

	p.metrics.StatusRefresh(true)
	p.onJob(job)
	p.deliver.Unlock()
	return terminal, nil
}
