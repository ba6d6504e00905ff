package session

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/samber/mo"
	"github.com/stanstork/jobwatch/internal/config"
	"github.com/stanstork/jobwatch/internal/metrics"
	"github.com/stanstork/jobwatch/internal/models"
	"github.com/stanstork/jobwatch/internal/repository"
	"golang.org/x/sync/singleflight"
)

// ErrNoSession is returned when an operation needs a signed-in user.
var ErrNoSession = errors.New("not signed in")

// minRearm keeps a server that hands out near-expired tokens from driving a
// refresh loop.
const minRearm = time.Second

// Authenticator exchanges credentials for tokens.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (models.TokenGrant, error)
	Refresh(ctx context.Context, refreshToken string) (models.TokenGrant, error)
}

// Manager owns the signed-in session: it hands out the access token, keeps
// it fresh ahead of expiry and tells subscribers when the session is lost.
// One Manager is shared by everything that talks to the backend.
type Manager struct {
	auth    Authenticator
	repo    repository.SessionRepository
	cfg     config.SessionConfig
	tenant  string
	logger  zerolog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	group singleflight.Group

	mu        sync.Mutex
	session   mo.Option[models.Session]
	timer     *time.Timer
	closed    bool
	listeners map[int]func(reason string)
	nextID    int
}

type Option func(*Manager)

func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) { m.logger = logger.With().Str("component", "session").Logger() }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithTenant overrides the tenant taken from the principal.
func WithTenant(tenantID string) Option {
	return func(m *Manager) { m.tenant = tenantID }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(auth Authenticator, repo repository.SessionRepository, cfg config.SessionConfig, opts ...Option) *Manager {
	m := &Manager{
		auth:      auth,
		repo:      repo,
		cfg:       cfg,
		logger:    zerolog.Nop(),
		now:       time.Now,
		listeners: map[int]func(string){},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.cfg.RefreshTimeout <= 0 {
		m.cfg.RefreshTimeout = config.Default().Session.RefreshTimeout
	}
	return m
}

// Load restores a persisted session. A session already inside the refresh
// threshold is refreshed before Load returns; if that fails the session is
// gone and Load reports false.
func (m *Manager) Load(ctx context.Context) (bool, error) {
	stored, err := m.repo.Load(ctx)
	if err != nil {
		return false, errors.Wrap(err, "load session")
	}
	s, ok := stored.Get()
	if !ok {
		return false, nil
	}

	m.mu.Lock()
	m.session = mo.Some(s)
	due := s.ExpiresWithin(m.now(), m.cfg.RefreshThreshold)
	if !due {
		m.armLocked(s, 0)
	}
	m.mu.Unlock()

	if due {
		return m.Refresh(ctx), nil
	}
	return true, nil
}

// Login signs in with email and password and persists the new session.
func (m *Manager) Login(ctx context.Context, email, password string) (models.Principal, error) {
	grant, err := m.auth.Login(ctx, email, password)
	if err != nil {
		return models.Principal{}, err
	}
	s, err := m.build(models.Session{}, grant)
	if err != nil {
		return models.Principal{}, err
	}

	m.mu.Lock()
	m.session = mo.Some(s)
	m.armLocked(s, 0)
	m.mu.Unlock()

	if err := m.repo.Save(ctx, s); err != nil {
		return s.Principal, errors.Wrap(err, "persist session")
	}
	m.logger.Info().Str("user", s.Principal.Email).Str("tenant", s.Principal.TenantID).Msg("signed in")
	return s.Principal, nil
}

// Logout drops the session locally. Subscribers are not notified.
func (m *Manager) Logout(ctx context.Context) error {
	m.clear(mo.None[models.Session]())
	return errors.Wrap(m.repo.Delete(ctx), "delete session")
}

// Invalidate drops the session after the backend rejected it and notifies
// subscribers once.
func (m *Manager) Invalidate(reason string) {
	m.fail(reason, mo.None[models.Session]())
}

func (m *Manager) AccessToken() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.session.Get()
	if !ok {
		return "", false
	}
	return s.AccessToken, true
}

func (m *Manager) TenantID() string {
	if m.tenant != "" {
		return m.tenant
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.session.Get(); ok {
		return s.Principal.TenantID
	}
	return ""
}

func (m *Manager) Principal() mo.Option[models.Principal] {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.session.Get(); ok {
		return mo.Some(s.Principal)
	}
	return mo.None[models.Principal]()
}

func (m *Manager) Session() mo.Option[models.Session] {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// OnAuthFailure registers fn to run whenever the session is lost to a failed
// refresh or a rejected retry. The returned func unsubscribes.
func (m *Manager) OnAuthFailure(fn func(reason string)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// Refresh exchanges the refresh token for a new access token. Concurrent
// callers share one outbound request and see the same result. The request is
// not tied to ctx: a caller giving up does not abort it for the others.
func (m *Manager) Refresh(ctx context.Context) bool {
	if _, ok := m.AccessToken(); !ok {
		return false
	}
	detached := context.WithoutCancel(ctx)
	ch := m.group.DoChan("refresh", func() (interface{}, error) {
		return nil, m.refresh(detached)
	})
	select {
	case res := <-ch:
		return res.Err == nil
	case <-ctx.Done():
		return false
	}
}

func (m *Manager) refresh(ctx context.Context) error {
	m.mu.Lock()
	current, ok := m.session.Get()
	m.mu.Unlock()
	if !ok {
		return ErrNoSession
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.RefreshTimeout)
	defer cancel()

	grant, err := m.auth.Refresh(ctx, current.RefreshToken)
	if err == nil {
		var next models.Session
		next, err = m.build(current, grant)
		if err == nil {
			return m.replace(ctx, current, next)
		}
	}

	m.metrics.TokenRefresh(false)
	m.logger.Warn().Err(err).Msg("token refresh failed, signing out")
	m.fail("refresh failed", mo.Some(current))
	return err
}

// replace installs a refreshed session only while prev is still the one held.
// A logout or a new login during the refresh wins over its result.
func (m *Manager) replace(ctx context.Context, prev, next models.Session) error {
	m.mu.Lock()
	if held, ok := m.session.Get(); !ok || !sameSession(held, prev) {
		m.mu.Unlock()
		m.logger.Debug().Msg("session changed during refresh, discarding result")
		return ErrNoSession
	}
	m.session = mo.Some(next)
	m.armLocked(next, minRearm)
	m.mu.Unlock()

	m.metrics.TokenRefresh(true)
	if err := m.repo.Save(ctx, next); err != nil {
		m.logger.Warn().Err(err).Msg("failed to persist refreshed session")
	}
	m.logger.Debug().Time("expires_at", next.ExpiresAt).Msg("access token refreshed")
	return nil
}

// build derives the session a grant establishes. Fields the grant omits are
// kept from prev or read from the access token claims.
func (m *Manager) build(prev models.Session, grant models.TokenGrant) (models.Session, error) {
	if grant.AccessToken == "" {
		return models.Session{}, errors.New("token response without access token")
	}
	claims, err := parseClaims(grant.AccessToken)
	if err != nil {
		m.logger.Debug().Err(err).Msg("access token is not a readable JWT")
	}

	s := models.Session{
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken,
		ExpiresAt:    claims.expiresAt,
		Principal:    prev.Principal,
	}
	if s.RefreshToken == "" {
		s.RefreshToken = prev.RefreshToken
	}
	if grant.ExpiresIn > 0 {
		s.ExpiresAt = m.now().Add(grant.ExpiresIn)
	}
	if grant.Principal != nil {
		s.Principal = *grant.Principal
	}
	s.Principal = mergePrincipal(s.Principal, claims.principal)
	return s, nil
}

// armLocked schedules the pre-emptive refresh for s. Callers hold mu.
func (m *Manager) armLocked(s models.Session, floor time.Duration) {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.closed || s.ExpiresAt.IsZero() {
		return
	}
	delay := s.ExpiresAt.Sub(m.now()) - m.cfg.RefreshThreshold
	if delay < floor {
		delay = floor
	}
	m.timer = time.AfterFunc(delay, func() {
		m.Refresh(context.Background())
	})
}

// clear drops the held session and reports whether there was one. With only
// set, a different held session is left alone.
func (m *Manager) clear(only mo.Option[models.Session]) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	held, had := m.session.Get()
	if want, ok := only.Get(); had && ok && !sameSession(held, want) {
		return false
	}
	m.session = mo.None[models.Session]()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	return had
}

func (m *Manager) fail(reason string, only mo.Option[models.Session]) {
	if !m.clear(only) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.RefreshTimeout)
	defer cancel()
	if err := m.repo.Delete(ctx); err != nil {
		m.logger.Warn().Err(err).Msg("failed to delete persisted session")
	}

	m.mu.Lock()
	listeners := make([]func(string), 0, len(m.listeners))
	for _, fn := range m.listeners {
		listeners = append(listeners, fn)
	}
	m.mu.Unlock()

	m.logger.Info().Str("reason", reason).Msg("session ended")
	for _, fn := range listeners {
		fn(reason)
	}
}

// Close stops the refresh timer. The session itself is kept.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func sameSession(a, b models.Session) bool {
	return a.AccessToken == b.AccessToken && a.RefreshToken == b.RefreshToken
}
