package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Compile-time assertion that MemLedger satisfies the Ledger interface.
var _ Ledger = (*MemLedger)(nil)

// MemLedger is a thread-safe, in-memory implementation of [Ledger].
// It is the default for deployments without a configured database, and for
// testing. Events live only as long as the process.
type MemLedger struct {
	mu        sync.RWMutex
	bySession map[string][]Event
}

// NewMemLedger returns an initialised [MemLedger].
func NewMemLedger() *MemLedger {
	return &MemLedger{
		bySession: make(map[string][]Event),
	}
}

// Record implements [Ledger.Record].
func (l *MemLedger) Record(ctx context.Context, ev Event) error {
	ev.ID = uuid.NewString()
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.bySession == nil {
		l.bySession = make(map[string][]Event)
	}
	l.bySession[ev.SessionID] = append(l.bySession[ev.SessionID], ev)
	return nil
}

// BySession implements [Ledger.BySession].
func (l *MemLedger) BySession(ctx context.Context, sessionID string, limit int) ([]Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	events, ok := l.bySession[sessionID]
	if !ok {
		return nil, ErrSessionUnknown
	}
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	out := make([]Event, len(events))
	copy(out, events)
	return out, nil
}

// Count implements [Ledger.Count].
func (l *MemLedger) Count(ctx context.Context, sessionID string) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.bySession[sessionID]), nil
}
