// Package models defines the persistent shapes the sync engine works with:
// credentials, outbox entries, and audit log entries.
package models

import "time"

// SyncStatus is the outbox entry lifecycle state. Transitions are monotonic:
// Pending→Synced, Pending→Failed, Failed→Synced. Synced is terminal.
type SyncStatus string

const (
	StatusPending SyncStatus = "pending"
	StatusSynced  SyncStatus = "synced"
	StatusFailed  SyncStatus = "failed"
)

// Operation describes how a local change propagates to the remote side.
// Insert and Update are both resolved via upsert; Delete is a terminal marker.
type Operation string

const (
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Direction records which side originated the data in an audit entry.
type Direction string

const (
	DirectionPush Direction = "push" // local-originated
	DirectionPull Direction = "pull" // remote-originated
)

// OutboxEntry is a durable record of a pending local change.
// (Resource, RecordID, TenantID) is the natural key.
type OutboxEntry struct {
	Resource  string
	RecordID  string
	TenantID  string
	Operation Operation
	Status    SyncStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AuditEntry is an immutable record of one (resource, batch) sync attempt.
type AuditEntry struct {
	ID          string
	Resource    string
	TenantID    string
	Operation   string
	RecordIDs   []string
	RecordCount int
	Status      SyncStatus
	Direction   Direction
	Actor       string
	CreatedAt   time.Time
}

// Credentials holds a tenant's remote-service credentials. AccessToken,
// RefreshToken and ExpiresAt change only on successful refresh or
// re-authentication, never on transport failures.
type Credentials struct {
	TenantID     string
	Email        string
	Password     string
	APIKey       string
	AccessToken  string
	RefreshToken string
	ExpiresAt    int64 // epoch seconds
	UpdatedAt    time.Time
}
