package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/tillworks/possync/internal/logging"
	"github.com/tillworks/possync/internal/syncerr"
)

// TokenResponse is the identity endpoint's reply to both grant types.
type TokenResponse struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token"`
	ExpiresIn    int64      `json:"expires_in"`
	ExpiresAt    int64      `json:"expires_at"`
	User         *TokenUser `json:"user"`
}

type TokenUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// IdentityClient exchanges credentials for tokens at the identity endpoint.
type IdentityClient interface {
	// RefreshGrant exchanges a refresh token for a new token pair.
	RefreshGrant(ctx context.Context, apiKey, refreshToken string) (*TokenResponse, error)

	// PasswordGrant performs a full re-authentication with stored tenant credentials.
	PasswordGrant(ctx context.Context, apiKey, email, password string) (*TokenResponse, error)
}

// HTTPIdentityClient talks to a POST {base}/token?grant_type=... endpoint.
type HTTPIdentityClient struct {
	baseURL string
	client  *http.Client
	log     logging.Logger
}

func NewHTTPIdentityClient(baseURL string, client *http.Client, log logging.Logger) *HTTPIdentityClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPIdentityClient{baseURL: baseURL, client: client, log: log}
}

func (c *HTTPIdentityClient) RefreshGrant(ctx context.Context, apiKey, refreshToken string) (*TokenResponse, error) {
	body := map[string]string{"refresh_token": refreshToken}
	return c.grant(ctx, apiKey, "refresh_token", body)
}

func (c *HTTPIdentityClient) PasswordGrant(ctx context.Context, apiKey, email, password string) (*TokenResponse, error) {
	body := map[string]string{"email": email, "password": password}
	return c.grant(ctx, apiKey, "password", body)
}

func (c *HTTPIdentityClient) grant(ctx context.Context, apiKey, grantType string, body map[string]string) (*TokenResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, syncerr.Wrap(syncerr.KindSerialization, "failed to encode grant request", err)
	}

	u := fmt.Sprintf("%s/token?grant_type=%s", c.baseURL, grantType)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return nil, syncerr.Wrap(syncerr.KindConfig, "failed to build grant request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, syncerr.Wrap(syncerr.KindTransient, "identity endpoint unreachable", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, syncerr.Wrap(syncerr.KindTransient, "failed to read grant response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.log.Warn(ctx, "grant rejected", "grant_type", grantType, "status", resp.StatusCode)
		return nil, syncerr.New(syncerr.KindAuth,
			fmt.Sprintf("grant %s rejected with status %d", grantType, resp.StatusCode)).
			WithDetail(string(respBody))
	}

	var tr TokenResponse
	if err := json.Unmarshal(respBody, &tr); err != nil {
		return nil, syncerr.Wrap(syncerr.KindSerialization, "malformed grant response", err)
	}
	if tr.AccessToken == "" {
		return nil, syncerr.New(syncerr.KindAuth, "grant response contains no access token")
	}
	return &tr, nil
}
