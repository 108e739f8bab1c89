// Package audit records what the service did with identifying information,
// without storing any of it.
//
// Every event is metadata only: session, snapshot and entity IDs, counts,
// labels from the closed label set, and timestamps. Transcript text, entity
// spans, and redacted output never enter the ledger. That restriction is the
// point of the package, not an implementation detail.
package audit

import (
	"context"
	"errors"
	"time"
)

// ErrSessionUnknown is returned by queries for a session the ledger has
// never seen.
var ErrSessionUnknown = errors.New("audit: no events for session")

// Kind names what happened.
type Kind string

const (
	KindSessionStarted Kind = "session_started"
	KindChunkIngested  Kind = "chunk_ingested"
	KindSnapshotBuilt  Kind = "snapshot_built"
	KindApplyPerformed Kind = "apply_performed"
	KindEgressRefused  Kind = "egress_refused"
	KindDegradedMarked Kind = "degraded_marked"
	KindDegradedReset  Kind = "degraded_reset"
	KindSessionEnded   Kind = "session_ended"
)

// Event is one ledger entry. All fields are identifiers, counts, or labels
// from the closed set; none may carry transcript text.
type Event struct {
	// ID is assigned by the ledger on record.
	ID string

	// Time is when the event happened, UTC.
	Time time.Time

	// Kind names the action.
	Kind Kind

	// SessionID is set whenever the session is known. Offline refusals
	// happen before the snapshot resolves, so they carry none.
	SessionID string

	// SnapshotID is set for snapshot and apply events.
	SnapshotID string

	// BufferVersion is the buffer version at event time, when known.
	BufferVersion uint64

	// EntityCount is the indexed entity count for snapshot events, the
	// total proposed for apply events.
	EntityCount int

	// AcceptedCount is how many masks the reviewer accepted, for apply
	// events.
	AcceptedCount int

	// Labels lists the canonical labels involved, for detection and apply
	// events. Values come from the closed label set only.
	Labels []string

	// Reason is a short machine token ("offline", "timeout") for refusal
	// and degradation events.
	Reason string
}

// Ledger stores audit events.
//
// All implementations must be safe for concurrent use.
type Ledger interface {
	// Record appends one event. The ledger assigns ID and, when unset, Time.
	Record(ctx context.Context, ev Event) error

	// BySession returns a session's events in record order, newest last.
	// limit <= 0 returns all of them. Returns [ErrSessionUnknown] when the
	// session has no events.
	BySession(ctx context.Context, sessionID string, limit int) ([]Event, error)

	// Count returns how many events a session has. Zero and a nil error for
	// unknown sessions.
	Count(ctx context.Context, sessionID string) (int, error)
}
