// Package remote implements the REST transport against the tenant-scoped,
// table-shaped remote data service (PostgREST-style endpoints).
//
// Every request is built fresh from an immutable credential snapshot; the
// transport holds no mutable auth state of its own. Failure classification
// follows the syncerr taxonomy.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/tillworks/possync/internal/logging"
	"github.com/tillworks/possync/internal/session"
	"github.com/tillworks/possync/internal/syncerr"
)

// Record is one table-shaped row in wire form.
type Record = map[string]any

// TenantHeader carries the tenant isolation identifier on every request.
const TenantHeader = "X-Tenant-ID"

const transientRetryDelay = 250 * time.Millisecond

// SessionSource supplies fresh credential snapshots and performs the one
// bounded refresh the 401 policy allows.
type SessionSource interface {
	EnsureFresh(ctx context.Context, tenantID string) (session.Snapshot, error)
	Refresh(ctx context.Context, tenantID string) (session.Snapshot, error)
}

// Transport performs insert/update/upsert/select/delete against named remote
// resources.
type Transport struct {
	baseURL string
	client  *http.Client
	session SessionSource
	log     logging.Logger
}

// NewTransport returns a Transport rooted at baseURL. The http.Client should
// carry a request timeout; a nil client gets a 30s default.
func NewTransport(baseURL string, client *http.Client, sess SessionSource, log logging.Logger) *Transport {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Transport{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		session: sess,
		log:     log,
	}
}

// Insert creates one record and returns the server's echoed representation.
func (t *Transport) Insert(ctx context.Context, resource string, rec Record, tenantID string) (Record, error) {
	body, err := t.encode(resource, rec)
	if err != nil {
		return nil, err
	}
	respBody, err := t.call(ctx, http.MethodPost, resource, t.resourceURL(resource, nil, ""), body, tenantID, "return=representation")
	if err != nil {
		return nil, err
	}
	return t.decodeOne(resource, respBody)
}

// Update patches records matching filter and returns the first updated row.
func (t *Transport) Update(ctx context.Context, resource string, rec Record, filter, tenantID string) (Record, error) {
	body, err := t.encode(resource, rec)
	if err != nil {
		return nil, err
	}
	respBody, err := t.call(ctx, http.MethodPatch, resource, t.resourceURL(resource, nil, filter), body, tenantID, "return=representation")
	if err != nil {
		return nil, err
	}
	return t.decodeOne(resource, respBody)
}

// Upsert inserts-or-updates one record keyed by conflictColumns, resolving
// duplicates by overwrite (row-level last-writer-wins).
func (t *Transport) Upsert(ctx context.Context, resource string, rec Record, conflictColumns []string, tenantID string) (Record, error) {
	rows, err := t.UpsertMany(ctx, resource, []Record{rec}, conflictColumns, tenantID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, syncerr.New(syncerr.KindSerialization,
			fmt.Sprintf("%s: upsert returned no representation", resource))
	}
	return rows[0], nil
}

// UpsertMany bulk-upserts records keyed by conflictColumns. The call is
// all-or-nothing: it returns the representation of every affected row or an
// error covering the whole batch.
func (t *Transport) UpsertMany(ctx context.Context, resource string, recs []Record, conflictColumns []string, tenantID string) ([]Record, error) {
	body, err := t.encode(resource, recs)
	if err != nil {
		return nil, err
	}
	q := url.Values{}
	if len(conflictColumns) > 0 {
		q.Set("on_conflict", strings.Join(conflictColumns, ","))
	}
	respBody, err := t.call(ctx, http.MethodPost, resource, t.resourceURL(resource, q, ""), body, tenantID,
		"resolution=merge-duplicates,return=representation")
	if err != nil {
		return nil, err
	}
	return t.decodeMany(resource, respBody)
}

// Select reads records matching filter, optionally restricted to columns.
func (t *Transport) Select(ctx context.Context, resource string, columns []string, filter, tenantID string) ([]Record, error) {
	q := url.Values{}
	if len(columns) > 0 {
		q.Set("select", strings.Join(columns, ","))
	}
	respBody, err := t.call(ctx, http.MethodGet, resource, t.resourceURL(resource, q, filter), nil, tenantID, "")
	if err != nil {
		return nil, err
	}
	return t.decodeMany(resource, respBody)
}

// Delete removes records matching filter.
func (t *Transport) Delete(ctx context.Context, resource, filter, tenantID string) (bool, error) {
	_, err := t.call(ctx, http.MethodDelete, resource, t.resourceURL(resource, nil, filter), nil, tenantID, "")
	if err != nil {
		return false, err
	}
	return true, nil
}

// call performs one authenticated request with the bounded retry policy:
// a pre-call expiry check, at most one refresh-and-retry on 401, and at most
// one rebuilt-request retry on a transient network failure.
func (t *Transport) call(ctx context.Context, method, resource, rawURL string, payload []byte, tenantID, prefer string) ([]byte, error) {
	snap, err := t.session.EnsureFresh(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	for attempt := 0; ; attempt++ {
		status, body, err := t.send(ctx, method, rawURL, payload, snap, tenantID, prefer)
		if err != nil {
			t.log.Warn(ctx, "request failed", "resource", resource, "method", method, "bytes", len(payload))
			return nil, err
		}

		switch {
		case status == http.StatusUnauthorized && attempt == 0:
			snap, err = t.session.Refresh(ctx, tenantID)
			if err != nil {
				return nil, err
			}
			continue
		case status == http.StatusUnauthorized:
			return nil, syncerr.New(syncerr.KindAuth,
				fmt.Sprintf("%s: still unauthorized after refresh", resource))
		case status >= 200 && status < 300:
			t.log.Debug(ctx, "request ok", "resource", resource, "method", method, "status", status, "bytes", len(payload))
			return body, nil
		default:
			// Diagnostic body only; record payloads are never logged.
			t.log.Warn(ctx, "request rejected", "resource", resource, "method", method, "status", status, "bytes", len(payload))
			return nil, syncerr.New(syncerr.KindRemoteRejected,
				fmt.Sprintf("%s: remote rejected with status %d", resource, status)).
				WithDetail(string(body))
		}
	}
}

// send performs the HTTP exchange with one transient retry. The request is
// rebuilt on every attempt because a previously-sent body cannot be reused.
func (t *Transport) send(ctx context.Context, method, rawURL string, payload []byte, snap session.Snapshot, tenantID, prefer string) (int, []byte, error) {
	var status int
	var body []byte

	err := retry.Do(ctx, retry.WithMaxRetries(1, retry.NewConstant(transientRetryDelay)), func(ctx context.Context) error {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
		if err != nil {
			return syncerr.Wrap(syncerr.KindConfig, "failed to build request", err)
		}
		req.Header.Set("apikey", snap.APIKey)
		req.Header.Set("Authorization", "Bearer "+snap.AccessToken)
		req.Header.Set(TenantHeader, tenantID)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if prefer != "" {
			req.Header.Set("Prefer", prefer)
		}

		resp, err := t.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				// cancelled or timed out: terminal, no further retry
				return syncerr.Wrap(syncerr.KindTransient, "request cancelled", err)
			}
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return retry.RetryableError(err)
		}
		status, body = resp.StatusCode, b
		return nil
	})
	if err != nil {
		if syncerr.KindOf(err) != 0 {
			return 0, nil, err
		}
		return 0, nil, syncerr.Wrap(syncerr.KindTransient, "network failure", err)
	}
	return status, body, nil
}

func (t *Transport) resourceURL(resource string, q url.Values, filter string) string {
	u := t.baseURL + "/" + url.PathEscape(resource)
	query := q.Encode()
	if filter != "" {
		if query != "" {
			query += "&" + filter
		} else {
			query = filter
		}
	}
	if query != "" {
		u += "?" + query
	}
	return u
}

func (t *Transport) encode(resource string, v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, syncerr.Wrap(syncerr.KindSerialization,
			fmt.Sprintf("%s: failed to encode payload", resource), err)
	}
	return b, nil
}

// decodeMany parses a JSON array of rows. Bulk writes with
// return=representation always answer with an array.
func (t *Transport) decodeMany(resource string, body []byte) ([]Record, error) {
	var rows []Record
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, syncerr.Wrap(syncerr.KindSerialization,
			fmt.Sprintf("%s: malformed response", resource), err)
	}
	return rows, nil
}

// decodeOne accepts either a bare object or a single-element array.
func (t *Transport) decodeOne(resource string, body []byte) (Record, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		rows, err := t.decodeMany(resource, trimmed)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return nil, syncerr.New(syncerr.KindSerialization,
				fmt.Sprintf("%s: empty representation", resource))
		}
		return rows[0], nil
	}
	var rec Record
	if err := json.Unmarshal(trimmed, &rec); err != nil {
		return nil, syncerr.Wrap(syncerr.KindSerialization,
			fmt.Sprintf("%s: malformed response", resource), err)
	}
	return rec, nil
}
