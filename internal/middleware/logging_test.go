package middleware

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stanstork/jobwatch/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggingTransport_LogsPathWithoutQuery(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer srv.Close()

	client := &http.Client{Transport: LoggingTransport(logger, metrics.New(prometheus.NewRegistry()))(nil)}
	resp, err := client.Get(srv.URL + "/jobs/1/logs?token=secret")
	require.NoError(t, err)
	resp.Body.Close()

	out := buf.String()
	assert.Contains(t, out, `"path":"/jobs/1/logs"`)
	assert.Contains(t, out, `"status":418`)
	assert.NotContains(t, out, "secret")
}

func TestLoggingTransport_PropagatesErrors(t *testing.T) {
	boom := errors.New("connection refused")
	rt := LoggingTransport(zerolog.Nop(), nil)(RoundTripperFunc(func(*http.Request) (*http.Response, error) {
		return nil, boom
	}))

	req := httptest.NewRequest(http.MethodGet, "http://backend.invalid/jobs/1", nil)
	_, err := rt.RoundTrip(req)
	assert.ErrorIs(t, err, boom)
}
