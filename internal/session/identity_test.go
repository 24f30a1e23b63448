package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tillworks/possync/internal/syncerr"
)

func TestRefreshGrant(t *testing.T) {
	var gotGrantType, gotAPIKey string
	var gotBody map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/token", r.URL.Path)
		gotGrantType = r.URL.Query().Get("grant_type")
		gotAPIKey = r.Header.Get("apikey")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		json.NewEncoder(w).Encode(TokenResponse{
			AccessToken: "tok", RefreshToken: "r2", ExpiresAt: 9999,
		})
	}))
	defer srv.Close()

	c := NewHTTPIdentityClient(srv.URL, srv.Client(), testLogger())
	tr, err := c.RefreshGrant(context.Background(), "key", "r1")
	require.NoError(t, err)

	assert.Equal(t, "refresh_token", gotGrantType)
	assert.Equal(t, "key", gotAPIKey)
	assert.Equal(t, map[string]string{"refresh_token": "r1"}, gotBody)
	assert.Equal(t, "tok", tr.AccessToken)
	assert.Equal(t, "r2", tr.RefreshToken)
}

func TestPasswordGrant(t *testing.T) {
	var gotGrantType string
	var gotBody map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotGrantType = r.URL.Query().Get("grant_type")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(TokenResponse{AccessToken: "tok", ExpiresIn: 3600})
	}))
	defer srv.Close()

	c := NewHTTPIdentityClient(srv.URL, srv.Client(), testLogger())
	tr, err := c.PasswordGrant(context.Background(), "key", "a@b.c", "pw")
	require.NoError(t, err)

	assert.Equal(t, "password", gotGrantType)
	assert.Equal(t, map[string]string{"email": "a@b.c", "password": "pw"}, gotBody)
	assert.Equal(t, int64(3600), tr.ExpiresIn)
}

func TestGrant_RejectionCarriesServerPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer srv.Close()

	c := NewHTTPIdentityClient(srv.URL, srv.Client(), testLogger())
	_, err := c.RefreshGrant(context.Background(), "key", "stale")
	require.Error(t, err)
	assert.True(t, syncerr.IsAuth(err))

	var se *syncerr.Error
	require.ErrorAs(t, err, &se)
	assert.Contains(t, se.Detail, "invalid_grant")
}

func TestGrant_MissingAccessToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewHTTPIdentityClient(srv.URL, srv.Client(), testLogger())
	_, err := c.PasswordGrant(context.Background(), "key", "a@b.c", "pw")
	require.Error(t, err)
	assert.True(t, syncerr.IsAuth(err))
}

func TestGrant_NetworkFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // immediately unreachable

	c := NewHTTPIdentityClient(srv.URL, nil, testLogger())
	_, err := c.RefreshGrant(context.Background(), "key", "r1")
	require.Error(t, err)
	assert.True(t, syncerr.IsTransient(err))
}
