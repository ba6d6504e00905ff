package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.TokenRefresh(true)
	m.TokenRefresh(false)
	m.TokenRefresh(false)
	m.LogEntriesMerged(3)
	m.LogEntriesMerged(0)
	m.StreamFallback()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.tokenRefreshes.WithLabelValues("success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.tokenRefreshes.WithLabelValues("failure")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.logEntries))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.streamFallbacks))
}

func TestMetrics_StreamModeIsExclusive(t *testing.T) {
	m := New(prometheus.NewRegistry())
	modes := []string{"idle", "streaming", "polling"}

	m.StreamMode("streaming", modes...)
	m.StreamMode("polling", modes...)

	assert.Equal(t, 0.0, testutil.ToFloat64(m.streamMode.WithLabelValues("streaming")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.streamMode.WithLabelValues("polling")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.TokenRefresh(true)
		m.Request("GET", "200", 0.1)
		m.StreamFallback()
		m.StreamMode("idle")
		m.LogEntriesMerged(1)
		m.LogPoll(false)
		m.StatusRefresh(true)
	})
}
