package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/pkg/errors"
	"github.com/stanstork/jobwatch/internal/config"
	"github.com/stanstork/jobwatch/internal/models"
	"github.com/stanstork/jobwatch/internal/repository"
	"github.com/stanstork/jobwatch/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAuth struct {
	refreshes int32
	release   chan struct{}
	refreshFn func(refreshToken string) (models.TokenGrant, error)
	loginFn   func(email, password string) (models.TokenGrant, error)
}

func (f *fakeAuth) Login(_ context.Context, email, password string) (models.TokenGrant, error) {
	return f.loginFn(email, password)
}

func (f *fakeAuth) Refresh(ctx context.Context, refreshToken string) (models.TokenGrant, error) {
	atomic.AddInt32(&f.refreshes, 1)
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return models.TokenGrant{}, ctx.Err()
		}
	}
	return f.refreshFn(refreshToken)
}

func (f *fakeAuth) calls() int { return int(atomic.LoadInt32(&f.refreshes)) }

func mintToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func grantFor(token string, ttl time.Duration) func(string) (models.TokenGrant, error) {
	return func(string) (models.TokenGrant, error) {
		return models.TokenGrant{AccessToken: token, ExpiresIn: ttl}, nil
	}
}

func newTestManager(t *testing.T, auth *fakeAuth) (*Manager, storage.Store) {
	t.Helper()
	store := storage.NewMemoryStore()
	m := NewManager(auth, repository.NewSessionRepository(store), config.SessionConfig{
		RefreshThreshold: 30 * time.Second,
		RefreshTimeout:   2 * time.Second,
	})
	t.Cleanup(m.Close)
	return m, store
}

func seed(t *testing.T, m *Manager, ttl time.Duration) {
	t.Helper()
	s := models.Session{
		AccessToken:  "access-0",
		RefreshToken: "refresh-0",
		ExpiresAt:    time.Now().Add(ttl),
		Principal:    models.Principal{ID: "7", TenantID: "acme"},
	}
	require.NoError(t, m.repo.Save(context.Background(), s))
	ok, err := m.Load(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
}

func TestManager_ConcurrentRefreshesShareOneRequest(t *testing.T) {
	auth := &fakeAuth{release: make(chan struct{}), refreshFn: grantFor("access-1", time.Hour)}
	m, _ := newTestManager(t, auth)
	seed(t, m, time.Hour)

	var wg sync.WaitGroup
	results := make([]bool, 3)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = m.Refresh(context.Background())
		}(i)
	}

	require.Eventually(t, func() bool { return auth.calls() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(auth.release)
	wg.Wait()

	assert.Equal(t, 1, auth.calls())
	assert.Equal(t, []bool{true, true, true}, results)
	token, ok := m.AccessToken()
	assert.True(t, ok)
	assert.Equal(t, "access-1", token)
}

func TestManager_RefreshWithoutSessionMakesNoRequest(t *testing.T) {
	auth := &fakeAuth{refreshFn: grantFor("x", time.Hour)}
	m, _ := newTestManager(t, auth)

	assert.False(t, m.Refresh(context.Background()))
	assert.Zero(t, auth.calls())
}

func TestManager_RefreshFailureEndsSession(t *testing.T) {
	auth := &fakeAuth{refreshFn: func(string) (models.TokenGrant, error) {
		return models.TokenGrant{}, errors.New("refresh token revoked")
	}}
	m, store := newTestManager(t, auth)
	seed(t, m, time.Hour)

	var reasons []string
	m.OnAuthFailure(func(reason string) { reasons = append(reasons, reason) })

	assert.False(t, m.Refresh(context.Background()))
	_, ok := m.AccessToken()
	assert.False(t, ok)
	assert.Equal(t, []string{"refresh failed"}, reasons)

	_, err := store.Get(context.Background(), "session")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestManager_RefreshKeepsRefreshTokenAndPrincipal(t *testing.T) {
	auth := &fakeAuth{refreshFn: func(refreshToken string) (models.TokenGrant, error) {
		assert.Equal(t, "refresh-0", refreshToken)
		return models.TokenGrant{AccessToken: "access-1", ExpiresIn: time.Hour}, nil
	}}
	m, store := newTestManager(t, auth)
	seed(t, m, time.Hour)

	require.True(t, m.Refresh(context.Background()))

	persisted, err := repository.NewSessionRepository(store).Load(context.Background())
	require.NoError(t, err)
	s := persisted.MustGet()
	assert.Equal(t, "access-1", s.AccessToken)
	assert.Equal(t, "refresh-0", s.RefreshToken)
	assert.Equal(t, "acme", s.Principal.TenantID)
	assert.Equal(t, "acme", m.TenantID())
}

func TestManager_InvalidateNotifiesOnce(t *testing.T) {
	m, _ := newTestManager(t, &fakeAuth{})
	seed(t, m, time.Hour)

	var fired int32
	unsubscribe := m.OnAuthFailure(func(string) { atomic.AddInt32(&fired, 1) })
	m.Invalidate("retry rejected")
	m.Invalidate("retry rejected")
	assert.Equal(t, int32(1), atomic.LoadInt32(&fired))

	unsubscribe()
	seed(t, m, time.Hour)
	m.Invalidate("retry rejected")
	assert.Equal(t, int32(1), atomic.LoadInt32(&fired))
}

func TestManager_LoginPersistsAndLoadRestores(t *testing.T) {
	exp := time.Now().Add(2 * time.Hour).Truncate(time.Second)
	token := mintToken(t, jwt.MapClaims{
		"sub":       "42",
		"tenant_id": "acme",
		"role":      "admin",
		"exp":       exp.Unix(),
	})
	auth := &fakeAuth{loginFn: func(email, password string) (models.TokenGrant, error) {
		return models.TokenGrant{
			AccessToken:  token,
			RefreshToken: "refresh-1",
			Principal:    &models.Principal{Email: email, Name: "Ops"},
		}, nil
	}}
	m, store := newTestManager(t, auth)

	p, err := m.Login(context.Background(), "ops@example.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, "42", p.ID)
	assert.Equal(t, "acme", p.TenantID)
	assert.Equal(t, "admin", p.Role)
	assert.Equal(t, "ops@example.com", p.Email)
	assert.True(t, m.Session().MustGet().ExpiresAt.Equal(exp))

	restored := NewManager(auth, repository.NewSessionRepository(store), config.SessionConfig{RefreshThreshold: time.Minute})
	defer restored.Close()
	ok, err := restored.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	got, _ := restored.AccessToken()
	assert.Equal(t, token, got)
	assert.Zero(t, auth.calls())
}

func TestManager_LoadRefreshesExpiredSession(t *testing.T) {
	auth := &fakeAuth{refreshFn: grantFor("access-1", time.Hour)}
	m, _ := newTestManager(t, auth)

	require.NoError(t, m.repo.Save(context.Background(), models.Session{
		AccessToken:  "access-0",
		RefreshToken: "refresh-0",
		ExpiresAt:    time.Now().Add(-time.Minute),
	}))
	ok, err := m.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, auth.calls())
	token, _ := m.AccessToken()
	assert.Equal(t, "access-1", token)
}

func TestManager_PreemptiveRefresh(t *testing.T) {
	auth := &fakeAuth{refreshFn: grantFor("access-1", time.Hour)}
	m, _ := newTestManager(t, auth)

	// expires just past the 30s threshold, so the timer fires almost at once
	seed(t, m, 30*time.Second+50*time.Millisecond)

	require.Eventually(t, func() bool {
		token, _ := m.AccessToken()
		return token == "access-1"
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, auth.calls())
}

func TestManager_LogoutClearsWithoutNotifying(t *testing.T) {
	m, store := newTestManager(t, &fakeAuth{})
	seed(t, m, time.Hour)
	m.OnAuthFailure(func(string) { t.Error("logout must not signal auth failure") })

	require.NoError(t, m.Logout(context.Background()))
	assert.False(t, m.Principal().IsPresent())
	_, err := store.Get(context.Background(), "session")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestManager_RefreshDoesNotOverwriteNewerLogin(t *testing.T) {
	auth := &fakeAuth{
		release:   make(chan struct{}),
		refreshFn: grantFor("access-old-refreshed", time.Hour),
		loginFn: func(email, _ string) (models.TokenGrant, error) {
			return models.TokenGrant{
				AccessToken:  "access-new",
				RefreshToken: "refresh-new",
				ExpiresIn:    time.Hour,
				Principal:    &models.Principal{ID: "8", TenantID: "other", Email: email},
			}, nil
		},
	}
	m, store := newTestManager(t, auth)
	seed(t, m, time.Hour)

	done := make(chan bool)
	go func() { done <- m.Refresh(context.Background()) }()
	require.Eventually(t, func() bool { return auth.calls() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, m.Logout(context.Background()))
	_, err := m.Login(context.Background(), "new@example.com", "pw")
	require.NoError(t, err)

	close(auth.release)
	assert.False(t, <-done)

	s := m.Session().MustGet()
	assert.Equal(t, "access-new", s.AccessToken)
	assert.Equal(t, "refresh-new", s.RefreshToken)
	assert.Equal(t, "other", m.TenantID())

	persisted, err := repository.NewSessionRepository(store).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-new", persisted.MustGet().AccessToken)
}

func TestManager_StaleRefreshFailureKeepsNewerLogin(t *testing.T) {
	auth := &fakeAuth{
		release: make(chan struct{}),
		refreshFn: func(string) (models.TokenGrant, error) {
			return models.TokenGrant{}, errors.New("refresh token revoked")
		},
		loginFn: func(string, string) (models.TokenGrant, error) {
			return models.TokenGrant{AccessToken: "access-new", RefreshToken: "refresh-new", ExpiresIn: time.Hour}, nil
		},
	}
	m, _ := newTestManager(t, auth)
	seed(t, m, time.Hour)
	m.OnAuthFailure(func(string) { t.Error("a stale refresh must not end the newer session") })

	done := make(chan bool)
	go func() { done <- m.Refresh(context.Background()) }()
	require.Eventually(t, func() bool { return auth.calls() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, m.Logout(context.Background()))
	_, err := m.Login(context.Background(), "new@example.com", "pw")
	require.NoError(t, err)

	close(auth.release)
	assert.False(t, <-done)
	token, ok := m.AccessToken()
	assert.True(t, ok)
	assert.Equal(t, "access-new", token)
}
