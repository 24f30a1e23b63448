// Package session manages the credential lifecycle for remote calls:
// expiry checks with a safety buffer, token refresh with password-grant
// fallback, durable persistence, and per-tenant serialization so two racing
// requests never clobber each other's token state.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"

	"github.com/tillworks/possync/internal/logging"
	"github.com/tillworks/possync/internal/models"
	"github.com/tillworks/possync/internal/syncerr"
)

// ExpiryBuffer is subtracted from the absolute expiry: a token is treated as
// expired at expiry−buffer, not at expiry.
const ExpiryBuffer = 300 * time.Second

// Snapshot is an immutable view of a tenant's credentials, taken under the
// session lock. Requests build their headers from a Snapshot so no transport
// state is ever mutated on refresh.
type Snapshot struct {
	TenantID    string
	APIKey      string
	AccessToken string
}

// Manager is the single source of truth for tenant credentials.
type Manager struct {
	repo     Repository
	identity IdentityClient
	log      logging.Logger
	now      func() time.Time

	mu    sync.RWMutex
	creds map[string]models.Credentials

	refreshGroup singleflight.Group
}

func NewManager(repo Repository, identity IdentityClient, log logging.Logger) *Manager {
	return &Manager{
		repo:     repo,
		identity: identity,
		log:      log,
		now:      time.Now,
		creds:    make(map[string]models.Credentials),
	}
}

// Login seeds credentials for a tenant via the password grant and persists
// the result. Used for first-time setup and manual re-authentication.
func (m *Manager) Login(ctx context.Context, tenantID, apiKey, email, password string) error {
	tr, err := m.identity.PasswordGrant(ctx, apiKey, email, password)
	if err != nil {
		return err
	}
	c := models.Credentials{
		TenantID: tenantID,
		Email:    email,
		Password: password,
		APIKey:   apiKey,
	}
	m.apply(&c, tr)
	return m.store(ctx, c)
}

// IsExpired reports whether the tenant has no usable access token: either
// none is present, or now >= expiry−buffer.
func (m *Manager) IsExpired(ctx context.Context, tenantID string) bool {
	c, err := m.load(ctx, tenantID)
	if err != nil {
		return true
	}
	return m.expired(c)
}

// Snapshot returns an immutable credential view for request building.
func (m *Manager) Snapshot(ctx context.Context, tenantID string) (Snapshot, error) {
	c, err := m.load(ctx, tenantID)
	if err != nil {
		return Snapshot{}, syncerr.Wrap(syncerr.KindAuth, "no credentials for tenant", err)
	}
	return Snapshot{TenantID: c.TenantID, APIKey: c.APIKey, AccessToken: c.AccessToken}, nil
}

// EnsureFresh returns a snapshot, refreshing first if the token is expired.
func (m *Manager) EnsureFresh(ctx context.Context, tenantID string) (Snapshot, error) {
	c, err := m.load(ctx, tenantID)
	if err != nil {
		return Snapshot{}, syncerr.Wrap(syncerr.KindAuth, "no credentials for tenant", err)
	}
	if !m.expired(c) {
		return Snapshot{TenantID: c.TenantID, APIKey: c.APIKey, AccessToken: c.AccessToken}, nil
	}
	return m.Refresh(ctx, tenantID)
}

// Refresh exchanges the refresh token for a new pair, falling back to a full
// password-grant re-authentication if no refresh token exists or the exchange
// fails. Concurrent calls for the same tenant are collapsed into one flight.
func (m *Manager) Refresh(ctx context.Context, tenantID string) (Snapshot, error) {
	v, err, _ := m.refreshGroup.Do(tenantID, func() (any, error) {
		return m.refreshLocked(ctx, tenantID)
	})
	if err != nil {
		return Snapshot{}, err
	}
	return v.(Snapshot), nil
}

func (m *Manager) refreshLocked(ctx context.Context, tenantID string) (Snapshot, error) {
	c, err := m.load(ctx, tenantID)
	if err != nil {
		return Snapshot{}, syncerr.Wrap(syncerr.KindAuth, "no credentials for tenant", err)
	}

	var tr *TokenResponse
	var refreshErr error
	if c.RefreshToken != "" {
		tr, refreshErr = m.identity.RefreshGrant(ctx, c.APIKey, c.RefreshToken)
		if refreshErr != nil {
			m.log.Warn(ctx, "token refresh failed, re-authenticating", "tenant", tenantID)
		}
	}

	if tr == nil {
		if c.Email == "" || c.Password == "" {
			// no fallback possible; surface the server's rejection as-is
			if refreshErr != nil {
				return Snapshot{}, refreshErr
			}
			return Snapshot{}, syncerr.New(syncerr.KindAuth, "no refresh token and no stored credentials")
		}
		tr, err = m.identity.PasswordGrant(ctx, c.APIKey, c.Email, c.Password)
		if err != nil {
			return Snapshot{}, err
		}
	}

	m.apply(&c, tr)
	if err := m.store(ctx, c); err != nil {
		return Snapshot{}, err
	}
	m.log.Info(ctx, "credentials refreshed", "tenant", tenantID, "expires_at", c.ExpiresAt)
	return Snapshot{TenantID: c.TenantID, APIKey: c.APIKey, AccessToken: c.AccessToken}, nil
}

// apply replaces the token triple atomically from a grant response,
// preferring the server-supplied absolute expiry over now+expires_in.
func (m *Manager) apply(c *models.Credentials, tr *TokenResponse) {
	c.AccessToken = tr.AccessToken
	if tr.RefreshToken != "" {
		c.RefreshToken = tr.RefreshToken
	}
	switch {
	case tr.ExpiresAt > 0:
		c.ExpiresAt = tr.ExpiresAt
	case tr.ExpiresIn > 0:
		c.ExpiresAt = m.now().Unix() + tr.ExpiresIn
	default:
		c.ExpiresAt = tokenExpiry(tr.AccessToken)
	}
}

func (m *Manager) expired(c models.Credentials) bool {
	if c.AccessToken == "" {
		return true
	}
	return m.now().Unix() >= c.ExpiresAt-int64(ExpiryBuffer.Seconds())
}

func (m *Manager) load(ctx context.Context, tenantID string) (models.Credentials, error) {
	m.mu.RLock()
	c, ok := m.creds[tenantID]
	m.mu.RUnlock()
	if ok {
		return c, nil
	}

	stored, err := m.repo.Get(ctx, tenantID)
	if err != nil {
		return models.Credentials{}, fmt.Errorf("tenant %s: %w", tenantID, err)
	}

	m.mu.Lock()
	m.creds[tenantID] = *stored
	m.mu.Unlock()
	return *stored, nil
}

func (m *Manager) store(ctx context.Context, c models.Credentials) error {
	if err := m.repo.Save(ctx, &c); err != nil {
		return syncerr.Wrap(syncerr.KindConfig, "failed to persist credentials", err)
	}
	m.mu.Lock()
	m.creds[c.TenantID] = c
	m.mu.Unlock()
	return nil
}

// tokenExpiry extracts the exp claim from a JWT access token without
// verifying the signature. Client side this is only an expiry hint; the
// server remains the authority on token validity.
func tokenExpiry(token string) int64 {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return 0
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return 0
	}
	return exp.Unix()
}
