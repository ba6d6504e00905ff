package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the client-side collectors. A nil *Metrics is valid and
// records nothing, so components can be built without a registry.
type Metrics struct {
	tokenRefreshes  *prometheus.CounterVec
	requests        *prometheus.HistogramVec
	streamFallbacks prometheus.Counter
	streamMode      *prometheus.GaugeVec
	logEntries      prometheus.Counter
	logPolls        *prometheus.CounterVec
	statusRefreshes *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		tokenRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobwatch_token_refresh_total",
			Help: "Outbound access token refreshes by result.",
		}, []string{"result"}),
		requests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "jobwatch_request_duration_seconds",
			Help:    "Duration of backend requests.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "status"}),
		streamFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobwatch_stream_fallback_total",
			Help: "Push feed failures that downgraded a job's log stream to polling.",
		}),
		streamMode: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "jobwatch_stream_mode",
			Help: "1 for the log stream mode currently active.",
		}, []string{"mode"}),
		logEntries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobwatch_log_entries_merged_total",
			Help: "Log entries added to the log buffer.",
		}),
		logPolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobwatch_log_poll_total",
			Help: "Log pull requests by result.",
		}, []string{"result"}),
		statusRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobwatch_status_refresh_total",
			Help: "Job status refreshes by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(m.tokenRefreshes)
	reg.MustRegister(m.requests)
	reg.MustRegister(m.streamFallbacks)
	reg.MustRegister(m.streamMode)
	reg.MustRegister(m.logEntries)
	reg.MustRegister(m.logPolls)
	reg.MustRegister(m.statusRefreshes)

	return m
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

func (m *Metrics) TokenRefresh(ok bool) {
	if m == nil {
		return
	}
	m.tokenRefreshes.WithLabelValues(result(ok)).Inc()
}

func (m *Metrics) Request(method, status string, seconds float64) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, status).Observe(seconds)
}

func (m *Metrics) StreamFallback() {
	if m == nil {
		return
	}
	m.streamFallbacks.Inc()
}

// StreamMode marks mode as the active one and clears the others.
func (m *Metrics) StreamMode(mode string, all ...string) {
	if m == nil {
		return
	}
	for _, other := range all {
		m.streamMode.WithLabelValues(other).Set(0)
	}
	m.streamMode.WithLabelValues(mode).Set(1)
}

func (m *Metrics) LogEntriesMerged(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.logEntries.Add(float64(n))
}

func (m *Metrics) LogPoll(ok bool) {
	if m == nil {
		return
	}
	m.logPolls.WithLabelValues(result(ok)).Inc()
}

func (m *Metrics) StatusRefresh(ok bool) {
	if m == nil {
		return
	}
	m.statusRefreshes.WithLabelValues(result(ok)).Inc()
}
