package audit

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
)

// Guard wraps a [Ledger] and makes all operations non-fatal. If the
// underlying ledger fails, writes are logged and swallowed and reads return
// empty defaults, so a database restart never stalls ingestion or egress.
// The IsDegraded method reports whether the ledger is currently failing.
//
// Guard implements [Ledger]. All methods are safe for concurrent use.
type Guard struct {
	ledger   Ledger
	degraded atomic.Bool
}

// NewGuard creates a new [Guard] wrapping the given ledger.
func NewGuard(ledger Ledger) *Guard {
	return &Guard{ledger: ledger}
}

// Record attempts to write the event. On failure the error is logged and
// swallowed; the ledger is marked degraded. On success the flag clears.
func (g *Guard) Record(ctx context.Context, ev Event) error {
	err := g.ledger.Record(ctx, ev)
	if err != nil {
		g.degraded.Store(true)
		slog.Warn("audit guard: Record failed, swallowing error",
			"session_id", ev.SessionID,
			"kind", ev.Kind,
			"error", err,
		)
		return nil
	}
	g.degraded.Store(false)
	return nil
}

// BySession attempts to read a session's events. Failure other than
// [ErrSessionUnknown] returns an empty slice and marks the ledger degraded.
func (g *Guard) BySession(ctx context.Context, sessionID string, limit int) ([]Event, error) {
	events, err := g.ledger.BySession(ctx, sessionID, limit)
	if err != nil {
		if errors.Is(err, ErrSessionUnknown) {
			return nil, err
		}
		g.degraded.Store(true)
		slog.Warn("audit guard: BySession failed, returning empty",
			"session_id", sessionID,
			"error", err,
		)
		return []Event{}, nil
	}
	g.degraded.Store(false)
	return events, nil
}

// Count delegates to the underlying ledger. On failure 0 is returned and the
// ledger is marked degraded.
func (g *Guard) Count(ctx context.Context, sessionID string) (int, error) {
	n, err := g.ledger.Count(ctx, sessionID)
	if err != nil {
		g.degraded.Store(true)
		slog.Warn("audit guard: Count failed, returning 0",
			"session_id", sessionID,
			"error", err,
		)
		return 0, nil
	}
	g.degraded.Store(false)
	return n, nil
}

// IsDegraded reports whether the most recent ledger operation failed.
func (g *Guard) IsDegraded() bool {
	return g.degraded.Load()
}

// Compile-time assertion that Guard satisfies the Ledger interface.
var _ Ledger = (*Guard)(nil)
