// Package stream keeps a job's log buffer fed while the job is active,
// preferring the push feed and falling back to polling when it breaks.
package stream

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/mo"
	"github.com/stanstork/jobwatch/internal/logbuffer"
	"github.com/stanstork/jobwatch/internal/metrics"
	"github.com/stanstork/jobwatch/internal/models"
)

type Mode string

const (
	ModeIdle      Mode = "idle"
	ModeStreaming Mode = "streaming"
	ModePolling   Mode = "polling"
)

var allModes = []string{string(ModeIdle), string(ModeStreaming), string(ModePolling)}

// Feed is an open push connection yielding one raw message per Recv.
type Feed interface {
	Recv() ([]byte, error)
	Close() error
}

// Source is the backend side of a job's log.
type Source interface {
	OpenFeed(ctx context.Context, jobID int64, cursor mo.Option[int64]) (Feed, error)
	FetchLogs(ctx context.Context, jobID int64, after mo.Option[int64], limit int) (models.LogPage, error)
}

type Config struct {
	PageSize     int
	PollInterval time.Duration
}

type Status struct {
	Mode      Mode
	Cursor    mo.Option[int64]
	LastError error
}

type event interface{ event() }

type (
	startEvent       struct{ ctx context.Context }
	feedOpenedEvent  struct{ feed Feed }
	feedMessageEvent struct{ data []byte }
	feedFailedEvent  struct{ err error }
	pollResultEvent  struct {
		page models.LogPage
		err  error
	}
	stopEvent struct{}
)

func (startEvent) event()       {}
func (feedOpenedEvent) event()  {}
func (feedMessageEvent) event() {}
func (feedFailedEvent) event()  {}
func (pollResultEvent) event()  {}
func (stopEvent) event()        {}

// Coordinator moves one job's log between Idle, Streaming and Polling. All
// state changes go through dispatch; the feed and poll goroutines only
// report what they observed.
type Coordinator struct {
	jobID   int64
	source  Source
	buffer  *logbuffer.Buffer
	cfg     Config
	logger  zerolog.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	mode    Mode
	cursor  mo.Option[int64]
	lastErr error
	stopped bool
	feed    Feed
	ctx     context.Context
	cancel  context.CancelFunc

	wg sync.WaitGroup
}

type Option func(*Coordinator)

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// NewCoordinator prepares a coordinator that resumes after cursor.
func NewCoordinator(jobID int64, source Source, buffer *logbuffer.Buffer, cursor mo.Option[int64], cfg Config, opts ...Option) *Coordinator {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 200
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 4 * time.Second
	}
	c := &Coordinator{
		jobID:  jobID,
		source: source,
		buffer: buffer,
		cfg:    cfg,
		logger: zerolog.Nop(),
		mode:   ModeIdle,
		cursor: cursor,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str("component", "stream").Int64("job_id", jobID).Logger()
	return c
}

// Start opens the push feed. It has no effect once started or stopped.
func (c *Coordinator) Start(ctx context.Context) {
	c.dispatch(startEvent{ctx: ctx})
}

// Stop closes the feed, ends polling and waits for both to exit. No entry is
// merged after Stop returns.
func (c *Coordinator) Stop() {
	c.dispatch(stopEvent{})
	c.wg.Wait()
}

func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{Mode: c.mode, Cursor: c.cursor, LastError: c.lastErr}
}

func (c *Coordinator) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

func (c *Coordinator) Cursor() mo.Option[int64] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cursor
}

// dispatch applies one event. It never blocks on the network.
func (c *Coordinator) dispatch(ev event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		if f, ok := ev.(feedOpenedEvent); ok {
			f.feed.Close()
		}
		return
	}

	switch ev := ev.(type) {
	case startEvent:
		if c.mode != ModeIdle || c.ctx != nil {
			return
		}
		c.ctx, c.cancel = context.WithCancel(ev.ctx)
		c.setMode(ModeStreaming)
		c.wg.Add(1)
		go c.runFeed(c.ctx, c.cursor)

	case feedOpenedEvent:
		if c.mode != ModeStreaming {
			ev.feed.Close()
			return
		}
		c.feed = ev.feed
		c.logger.Debug().Msg("push feed open")

	case feedMessageEvent:
		if c.mode != ModeStreaming {
			return
		}
		entries, err := models.ParseLogEntries(ev.data)
		if err != nil {
			c.fallBack(err)
			return
		}
		c.merge(entries, nil)

	case feedFailedEvent:
		if c.mode != ModeStreaming {
			return
		}
		c.fallBack(ev.err)

	case pollResultEvent:
		if c.mode != ModePolling {
			return
		}
		if ev.err != nil {
			c.lastErr = ev.err
			c.metrics.LogPoll(false)
			c.logger.Debug().Err(ev.err).Msg("log poll failed")
			return
		}
		c.lastErr = nil
		c.metrics.LogPoll(true)
		c.merge(ev.page.Items, ev.page.NextAfter)

	case stopEvent:
		c.stopped = true
		if c.cancel != nil {
			c.cancel()
		}
		c.closeFeed()
		c.setMode(ModeIdle)
	}
}

func (c *Coordinator) fallBack(err error) {
	c.closeFeed()
	c.setMode(ModePolling)
	c.metrics.StreamFallback()
	c.logger.Warn().Err(err).Msg("push feed unavailable, polling logs")
	c.wg.Add(1)
	go c.runPoll(c.ctx)
}

// merge folds entries into the buffer and moves the cursor past the highest
// real id seen, and past nextAfter when the server reports one.
func (c *Coordinator) merge(entries []models.LogEntry, nextAfter *int64) {
	added := c.buffer.Merge(entries, false)
	c.metrics.LogEntriesMerged(added)

	high := logbuffer.MaxRealID(entries)
	if nextAfter != nil && *nextAfter > high {
		high = *nextAfter
	}
	if high > 0 && high > c.cursor.OrElse(0) {
		c.cursor = mo.Some(high)
	}
}

func (c *Coordinator) closeFeed() {
	if c.feed != nil {
		c.feed.Close()
		c.feed = nil
	}
}

func (c *Coordinator) setMode(mode Mode) {
	if c.mode == mode {
		return
	}
	c.logger.Debug().Str("from", string(c.mode)).Str("to", string(mode)).Msg("log stream mode")
	c.mode = mode
	c.metrics.StreamMode(string(mode), allModes...)
}

func (c *Coordinator) runFeed(ctx context.Context, cursor mo.Option[int64]) {
	defer c.wg.Done()

	feed, err := c.source.OpenFeed(ctx, c.jobID, cursor)
	if err != nil {
		c.dispatch(feedFailedEvent{err: err})
		return
	}
	c.dispatch(feedOpenedEvent{feed: feed})

	for c.Mode() == ModeStreaming {
		data, err := feed.Recv()
		if err != nil {
			c.dispatch(feedFailedEvent{err: err})
			return
		}
		c.dispatch(feedMessageEvent{data: data})
	}
}

func (c *Coordinator) runPoll(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		page, err := c.source.FetchLogs(ctx, c.jobID, c.Cursor(), c.cfg.PageSize)
		if ctx.Err() != nil {
			return
		}
		c.dispatch(pollResultEvent{page: page, err: err})

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
