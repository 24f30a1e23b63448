package session

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tillworks/possync/internal/logging"
	"github.com/tillworks/possync/internal/models"
	"github.com/tillworks/possync/internal/syncerr"
)

type memRepo struct {
	mu    sync.Mutex
	creds map[string]models.Credentials
	saves int
}

func newMemRepo() *memRepo {
	return &memRepo{creds: make(map[string]models.Credentials)}
}

func (r *memRepo) Get(_ context.Context, tenantID string) (*models.Credentials, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.creds[tenantID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	out := c
	return &out, nil
}

func (r *memRepo) Save(_ context.Context, creds *models.Credentials) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creds[creds.TenantID] = *creds
	r.saves++
	return nil
}

type fakeIdentity struct {
	refreshResp  *TokenResponse
	refreshErr   error
	refreshCalls int32
	passResp     *TokenResponse
	passErr      error
	passCalls    int32
	block        chan struct{}
}

func (f *fakeIdentity) RefreshGrant(context.Context, string, string) (*TokenResponse, error) {
	atomic.AddInt32(&f.refreshCalls, 1)
	if f.block != nil {
		<-f.block
	}
	return f.refreshResp, f.refreshErr
}

func (f *fakeIdentity) PasswordGrant(context.Context, string, string, string) (*TokenResponse, error) {
	atomic.AddInt32(&f.passCalls, 1)
	return f.passResp, f.passErr
}

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func newManagerAt(repo Repository, identity IdentityClient, now int64) *Manager {
	m := NewManager(repo, identity, testLogger())
	m.now = func() time.Time { return time.Unix(now, 0) }
	return m
}

func seed(t *testing.T, repo *memRepo, c models.Credentials) {
	t.Helper()
	require.NoError(t, repo.Save(context.Background(), &c))
}

func TestIsExpired_Buffer(t *testing.T) {
	const now = 10_000
	tests := []struct {
		name      string
		token     string
		expiresAt int64
		want      bool
	}{
		{"no token", "", now + 10_000, true},
		{"well before buffer", "tok", now + 301, false},
		{"exactly at buffer", "tok", now + 300, true},
		{"inside buffer", "tok", now + 100, true},
		{"already past", "tok", now - 10, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMemRepo()
			seed(t, repo, models.Credentials{TenantID: "t1", AccessToken: tt.token, ExpiresAt: tt.expiresAt})
			m := newManagerAt(repo, &fakeIdentity{}, now)

			assert.Equal(t, tt.want, m.IsExpired(context.Background(), "t1"))
		})
	}
}

func TestIsExpired_UnknownTenant(t *testing.T) {
	m := newManagerAt(newMemRepo(), &fakeIdentity{}, 1000)
	assert.True(t, m.IsExpired(context.Background(), "missing"))
}

func TestRefresh_GrantSuccess(t *testing.T) {
	repo := newMemRepo()
	seed(t, repo, models.Credentials{
		TenantID: "t1", APIKey: "key", AccessToken: "old", RefreshToken: "r1", ExpiresAt: 50,
	})
	identity := &fakeIdentity{
		refreshResp: &TokenResponse{AccessToken: "new", RefreshToken: "r2", ExpiresAt: 99_999},
	}
	m := newManagerAt(repo, identity, 1000)

	snap, err := m.Refresh(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "new", snap.AccessToken)
	assert.Equal(t, "key", snap.APIKey)

	stored, err := repo.Get(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "new", stored.AccessToken)
	assert.Equal(t, "r2", stored.RefreshToken)
	assert.Equal(t, int64(99_999), stored.ExpiresAt)
	assert.EqualValues(t, 0, identity.passCalls)
}

func TestRefresh_FallsBackToPasswordGrant(t *testing.T) {
	repo := newMemRepo()
	seed(t, repo, models.Credentials{
		TenantID: "t1", APIKey: "key", Email: "a@b.c", Password: "pw",
		AccessToken: "old", RefreshToken: "stale", ExpiresAt: 50,
	})
	identity := &fakeIdentity{
		refreshErr: syncerr.New(syncerr.KindAuth, "refresh token revoked"),
		passResp:   &TokenResponse{AccessToken: "new", RefreshToken: "r2", ExpiresIn: 3600},
	}
	m := newManagerAt(repo, identity, 1000)

	snap, err := m.Refresh(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "new", snap.AccessToken)
	assert.EqualValues(t, 1, identity.refreshCalls)
	assert.EqualValues(t, 1, identity.passCalls)

	stored, _ := repo.Get(context.Background(), "t1")
	assert.Equal(t, int64(1000+3600), stored.ExpiresAt) // now + expires_in
}

func TestRefresh_NoRefreshTokenUsesPasswordGrant(t *testing.T) {
	repo := newMemRepo()
	seed(t, repo, models.Credentials{
		TenantID: "t1", APIKey: "key", Email: "a@b.c", Password: "pw", ExpiresAt: 0,
	})
	identity := &fakeIdentity{
		passResp: &TokenResponse{AccessToken: "new", ExpiresAt: 9999},
	}
	m := newManagerAt(repo, identity, 1000)

	_, err := m.Refresh(context.Background(), "t1")
	require.NoError(t, err)
	assert.EqualValues(t, 0, identity.refreshCalls)
	assert.EqualValues(t, 1, identity.passCalls)
}

func TestRefresh_BothGrantsFail(t *testing.T) {
	repo := newMemRepo()
	seed(t, repo, models.Credentials{
		TenantID: "t1", APIKey: "key", Email: "a@b.c", Password: "pw",
		AccessToken: "old", RefreshToken: "stale", ExpiresAt: 50,
	})
	identity := &fakeIdentity{
		refreshErr: syncerr.New(syncerr.KindAuth, "revoked"),
		passErr:    syncerr.New(syncerr.KindAuth, "bad credentials"),
	}
	m := newManagerAt(repo, identity, 1000)

	_, err := m.Refresh(context.Background(), "t1")
	require.Error(t, err)
	assert.True(t, syncerr.IsAuth(err))
	// re-authentication was attempted before giving up
	assert.EqualValues(t, 1, identity.refreshCalls)
	assert.EqualValues(t, 1, identity.passCalls)

	// failed refresh never mutates stored credentials
	stored, _ := repo.Get(context.Background(), "t1")
	assert.Equal(t, "old", stored.AccessToken)
}

func TestRefresh_NoFallbackSurfacesServerRejection(t *testing.T) {
	repo := newMemRepo()
	seed(t, repo, models.Credentials{
		TenantID: "t1", APIKey: "key", AccessToken: "old", RefreshToken: "stale", ExpiresAt: 50,
	})
	identity := &fakeIdentity{
		refreshErr: syncerr.New(syncerr.KindAuth, "refresh grant rejected").
			WithDetail(`{"error":"invalid_grant"}`),
	}
	m := newManagerAt(repo, identity, 1000)

	_, err := m.Refresh(context.Background(), "t1")
	require.Error(t, err)
	assert.True(t, syncerr.IsAuth(err))

	// without a stored email/password there is nothing to fall back to; the
	// server's rejection body must come through unchanged
	var se *syncerr.Error
	require.ErrorAs(t, err, &se)
	assert.Contains(t, se.Detail, "invalid_grant")
	assert.EqualValues(t, 0, identity.passCalls)
}

func TestRefresh_NoCredentialsAtAll(t *testing.T) {
	repo := newMemRepo()
	seed(t, repo, models.Credentials{TenantID: "t1", APIKey: "key"})
	m := newManagerAt(repo, &fakeIdentity{}, 1000)

	_, err := m.Refresh(context.Background(), "t1")
	require.Error(t, err)
	assert.True(t, syncerr.IsAuth(err))
}

func TestRefresh_CollapsesConcurrentCalls(t *testing.T) {
	repo := newMemRepo()
	seed(t, repo, models.Credentials{
		TenantID: "t1", APIKey: "key", RefreshToken: "r1", AccessToken: "old", ExpiresAt: 50,
	})
	identity := &fakeIdentity{
		refreshResp: &TokenResponse{AccessToken: "new", ExpiresAt: 9999},
		block:       make(chan struct{}),
	}
	m := newManagerAt(repo, identity, 1000)

	// warm the cache so concurrent loads don't race the repo
	m.IsExpired(context.Background(), "t1")

	const workers = 5
	var wg sync.WaitGroup
	results := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = m.Refresh(context.Background(), "t1")
		}(i)
	}

	// let the goroutines pile up on the in-flight refresh, then release it
	time.Sleep(50 * time.Millisecond)
	close(identity.block)
	wg.Wait()

	for _, err := range results {
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&identity.refreshCalls))
}

func TestEnsureFresh_SkipsRefreshWhenValid(t *testing.T) {
	repo := newMemRepo()
	seed(t, repo, models.Credentials{
		TenantID: "t1", APIKey: "key", AccessToken: "tok", RefreshToken: "r1", ExpiresAt: 10_000,
	})
	identity := &fakeIdentity{}
	m := newManagerAt(repo, identity, 1000)

	snap, err := m.EnsureFresh(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "tok", snap.AccessToken)
	assert.EqualValues(t, 0, identity.refreshCalls)
	assert.EqualValues(t, 0, identity.passCalls)
}

func TestEnsureFresh_RefreshesWhenExpired(t *testing.T) {
	repo := newMemRepo()
	seed(t, repo, models.Credentials{
		TenantID: "t1", APIKey: "key", AccessToken: "tok", RefreshToken: "r1", ExpiresAt: 1100,
	})
	identity := &fakeIdentity{
		refreshResp: &TokenResponse{AccessToken: "new", ExpiresAt: 99_999},
	}
	m := newManagerAt(repo, identity, 1000)

	snap, err := m.EnsureFresh(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "new", snap.AccessToken)
	assert.EqualValues(t, 1, identity.refreshCalls)
}

func TestLogin_SeedsCredentials(t *testing.T) {
	repo := newMemRepo()
	identity := &fakeIdentity{
		passResp: &TokenResponse{AccessToken: "tok", RefreshToken: "r1", ExpiresAt: 9999},
	}
	m := newManagerAt(repo, identity, 1000)

	require.NoError(t, m.Login(context.Background(), "t1", "key", "a@b.c", "pw"))

	stored, err := repo.Get(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "tok", stored.AccessToken)
	assert.Equal(t, "a@b.c", stored.Email)
	assert.Equal(t, "pw", stored.Password)
}

func TestApply_ExpiryPrecedence(t *testing.T) {
	m := newManagerAt(newMemRepo(), &fakeIdentity{}, 1000)

	c := models.Credentials{}
	m.apply(&c, &TokenResponse{AccessToken: "a", ExpiresAt: 5000, ExpiresIn: 60})
	assert.Equal(t, int64(5000), c.ExpiresAt, "absolute expiry wins over expires_in")

	m.apply(&c, &TokenResponse{AccessToken: "a", ExpiresIn: 60})
	assert.Equal(t, int64(1060), c.ExpiresAt)

	m.apply(&c, &TokenResponse{AccessToken: "not-a-jwt"})
	assert.Equal(t, int64(0), c.ExpiresAt)
}

func TestApply_FallsBackToTokenExpClaim(t *testing.T) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": float64(123_456)})
	signed, err := tok.SignedString([]byte("secret"))
	require.NoError(t, err)

	m := newManagerAt(newMemRepo(), &fakeIdentity{}, 1000)
	c := models.Credentials{}
	m.apply(&c, &TokenResponse{AccessToken: signed})
	assert.Equal(t, int64(123_456), c.ExpiresAt)
}

func TestApply_KeepsRefreshTokenWhenOmitted(t *testing.T) {
	m := newManagerAt(newMemRepo(), &fakeIdentity{}, 1000)

	c := models.Credentials{RefreshToken: "r1"}
	m.apply(&c, &TokenResponse{AccessToken: "a", ExpiresAt: 5000})
	assert.Equal(t, "r1", c.RefreshToken)
}
