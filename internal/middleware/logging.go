package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/stanstork/jobwatch/internal/metrics"
)

// RoundTripperFunc adapts a function to http.RoundTripper.
type RoundTripperFunc func(*http.Request) (*http.Response, error)

func (f RoundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// LoggingTransport logs every outbound request with its status and duration.
// Only the path is logged: query strings may carry the access token.
func LoggingTransport(logger zerolog.Logger, m *metrics.Metrics) func(http.RoundTripper) http.RoundTripper {
	logger = logger.With().Str("component", "http").Logger()
	return func(next http.RoundTripper) http.RoundTripper {
		if next == nil {
			next = http.DefaultTransport
		}
		return RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			start := time.Now()
			resp, err := next.RoundTrip(r)
			duration := time.Since(start)

			if err != nil {
				m.Request(r.Method, "error", duration.Seconds())
				logger.Debug().
					Err(err).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Dur("duration", duration).
					Msg("request failed")
				return nil, err
			}

			m.Request(r.Method, strconv.Itoa(resp.StatusCode), duration.Seconds())
			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", resp.StatusCode).
				Dur("duration", duration).
				Str("request_id", r.Header.Get("X-Request-ID")).
				Msg("request")
			return resp, nil
		})
	}
}
