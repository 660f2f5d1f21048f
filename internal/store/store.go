package store

import (
	"context"
	"time"
)

// Outcome records how the relay resolved a privileged command.
type Outcome string

const (
	OutcomeApplied  Outcome = "applied"
	OutcomeRejected Outcome = "rejected"
	OutcomeNoop     Outcome = "noop"
)

// AuditEntry is one moderation decision. Room state itself is never persisted.
type AuditEntry struct {
	ID        int64
	RoomID    string
	ActorID   string
	TargetID  string
	Action    string
	Outcome   Outcome
	CreatedAt time.Time
}

// AuditStore persists moderation decisions.
type AuditStore interface {
	// RecordAction appends an entry and fills its ID.
	RecordAction(ctx context.Context, entry *AuditEntry) error

	// ListActions returns the newest entries for a room, newest first.
	ListActions(ctx context.Context, roomID string, limit int) ([]*AuditEntry, error)

	// Close closes the underlying database connection.
	Close() error
}
