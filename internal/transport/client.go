package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// TokenSource gates authenticated calls. The session manager implements it.
type TokenSource interface {
	AccessToken() (string, bool)
	TenantID() string
	Refresh(ctx context.Context) bool
	Invalidate(reason string)
}

type requestOptions struct {
	query           url.Values
	body            any
	header          http.Header
	unauthenticated bool
}

type RequestOpt func(*requestOptions)

func WithQuery(q url.Values) RequestOpt {
	return func(o *requestOptions) { o.query = q }
}

func WithBody(v any) RequestOpt {
	return func(o *requestOptions) { o.body = v }
}

func WithHeader(key, value string) RequestOpt {
	return func(o *requestOptions) {
		if o.header == nil {
			o.header = http.Header{}
		}
		o.header.Set(key, value)
	}
}

// Unauthenticated sends the call without the session credential and never
// triggers a refresh.
func Unauthenticated() RequestOpt {
	return func(o *requestOptions) { o.unauthenticated = true }
}

type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
	tenant  string
	timeout time.Duration
	logger  zerolog.Logger
}

type Option func(*Client)

// WithHTTPClient sets the underlying client. It must not carry a Timeout:
// the push feed is a long-lived response.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTenant pins X-Tenant-ID instead of taking it from the session.
func WithTenant(tenantID string) Option {
	return func(c *Client) { c.tenant = tenantID }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient returns a client for baseURL. A nil tokens makes every call
// unauthenticated.
func NewClient(baseURL string, tokens TokenSource, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		tokens:  tokens,
		timeout: 30 * time.Second,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str("component", "transport").Logger()
	return c
}

// Do performs one request and decodes a JSON response into out (when out is
// non-nil). A 401 on an authenticated call refreshes the session once and
// retries once; a second 401 invalidates the session.
func (c *Client) Do(ctx context.Context, method, path string, out any, opts ...RequestOpt) error {
	o := &requestOptions{}
	for _, opt := range opts {
		opt(o)
	}

	var body []byte
	if o.body != nil {
		raw, err := json.Marshal(o.body)
		if err != nil {
			return errors.Wrap(err, "encode request body")
		}
		body = raw
	}

	return c.do(ctx, method, path, o, body, out, false)
}

func (c *Client) do(ctx context.Context, method, path string, o *requestOptions, body []byte, out any, retried bool) error {
	authenticated := c.tokens != nil && !o.unauthenticated

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := c.newRequest(ctx, method, path, o.query, body)
	if err != nil {
		return err
	}
	for k, v := range o.header {
		req.Header[k] = v
	}
	if authenticated {
		token, ok := c.tokens.AccessToken()
		if !ok {
			return &Error{Kind: KindUnauthorized, Message: "not signed in"}
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Kind: KindNetwork, Message: method + " " + path, Err: err}
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusUnauthorized && authenticated {
		if retried {
			c.logger.Warn().Str("path", path).Msg("request rejected after token refresh, signing out")
			c.tokens.Invalidate("credential rejected after refresh")
			return rejection(resp, KindUnauthorized)
		}
		if !c.tokens.Refresh(ctx) {
			return rejection(resp, KindUnauthorized)
		}
		c.logger.Debug().Str("path", path).Msg("retrying with refreshed token")
		return c.do(ctx, method, path, o, body, out, true)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return rejection(resp, KindUnauthorized)
	}
	if resp.StatusCode >= 400 {
		return rejection(resp, KindServer)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return &Error{Kind: KindDecode, Status: resp.StatusCode, Message: "empty response body"}
		}
		if ctx.Err() != nil {
			return &Error{Kind: KindNetwork, Message: method + " " + path, Err: err}
		}
		return &Error{Kind: KindDecode, Status: resp.StatusCode, Err: err}
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body []byte) (*http.Request, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, errors.Wrapf(err, "build request %s %s", method, path)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tenant := c.tenantID(); tenant != "" {
		req.Header.Set("X-Tenant-ID", tenant)
	}
	return req, nil
}

func (c *Client) tenantID() string {
	if c.tenant != "" {
		return c.tenant
	}
	if c.tokens != nil {
		return c.tokens.TenantID()
	}
	return ""
}

// rejection builds an *Error from a non-2xx response, keeping the backend's
// message verbatim.
func rejection(resp *http.Response, kind Kind) *Error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &Error{Kind: kind, Status: resp.StatusCode, Message: errorMessage(resp.StatusCode, raw)}
}

func errorMessage(status int, raw []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
		Msg     string `json:"msg"`
	}
	if json.Unmarshal(raw, &payload) == nil {
		for _, m := range []string{payload.Message, payload.Error, payload.Msg} {
			if m = strings.TrimSpace(m); m != "" {
				return m
			}
		}
	}
	if text := strings.TrimSpace(string(raw)); text != "" && len(text) <= 512 {
		return text
	}
	return http.StatusText(status)
}
