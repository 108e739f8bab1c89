package app

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/scribegate/scribegate/internal/audit"
	"github.com/scribegate/scribegate/internal/observe"
	"github.com/scribegate/scribegate/internal/redact"
)

// managedSession pairs a session with the cancel func for its slow-lane
// scheduler.
type managedSession struct {
	sess   *redact.Session
	cancel context.CancelFunc
}

// SessionManagerConfig holds the dependencies shared by every session a
// manager creates.
type SessionManagerConfig struct {
	// Detector is the contextual detector handed to each new session.
	// Nil means every session runs fast-lane-only.
	Detector redact.Detector

	// SlowLane tunes the contextual cadence. Zero fields use engine
	// defaults.
	SlowLane redact.SlowLaneConfig

	// Metrics receives session gauges and detection counters. Nil falls
	// back to the package-level default instruments.
	Metrics *observe.Metrics

	// Ledger records lifecycle events. Nil falls back to an in-memory
	// ledger.
	Ledger audit.Ledger
}

// SessionManager owns every live session. It hands out sessions by ID,
// resolves snapshots across all of them for the policy gate, and tears
// sessions down on request or all at once during shutdown.
//
// All exported methods are safe for concurrent use.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*managedSession

	detector redact.Detector
	slowCfg  redact.SlowLaneConfig
	metrics  *observe.Metrics
	ledger   audit.Ledger
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	l := cfg.Ledger
	if l == nil {
		l = audit.NewMemLedger()
	}
	return &SessionManager{
		sessions: make(map[string]*managedSession),
		detector: cfg.Detector,
		slowCfg:  cfg.SlowLane,
		metrics:  m,
		ledger:   l,
	}
}

// StartSession creates a session, starts its slow lane, and registers it
// under a fresh ID.
func (sm *SessionManager) StartSession(ctx context.Context) (*redact.Session, error) {
	sess := redact.NewSession(redact.SessionConfig{
		ID:       uuid.NewString(),
		Detector: sm.detector,
		SlowLane: sm.slowCfg,
		Metrics:  sm.metrics,
	})

	// The slow lane outlives the request; it stops with EndSession or
	// CloseAll, not with the caller's context.
	sessCtx, cancel := context.WithCancel(context.Background())
	sess.Start(sessCtx)

	sm.mu.Lock()
	sm.sessions[sess.ID()] = &managedSession{sess: sess, cancel: cancel}
	count := len(sm.sessions)
	sm.mu.Unlock()

	sm.metrics.ActiveSessions.Add(ctx, 1)
	_ = sm.ledger.Record(ctx, audit.Event{
		Kind:      audit.KindSessionStarted,
		SessionID: sess.ID(),
	})
	observe.Logger(ctx).Info("session started", "session_id", sess.ID(), "active", count)

	return sess, nil
}

// Session returns the live session with the given ID.
func (sm *SessionManager) Session(id string) (*redact.Session, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	ms, ok := sm.sessions[id]
	if !ok {
		return nil, redact.ErrSessionNotFound
	}
	return ms.sess, nil
}

// EndSession stops and discards the session with the given ID. Its
// snapshots become unresolvable; nothing is retained but the audit trail.
func (sm *SessionManager) EndSession(ctx context.Context, id string) error {
	sm.mu.Lock()
	ms, ok := sm.sessions[id]
	if ok {
		delete(sm.sessions, id)
	}
	count := len(sm.sessions)
	sm.mu.Unlock()

	if !ok {
		return redact.ErrSessionNotFound
	}

	ms.sess.Close()
	ms.cancel()

	sm.metrics.ActiveSessions.Add(ctx, -1)
	_ = sm.ledger.Record(ctx, audit.Event{
		Kind:          audit.KindSessionEnded,
		SessionID:     id,
		BufferVersion: ms.sess.Version(),
		EntityCount:   len(ms.sess.Entities()),
	})
	observe.Logger(ctx).Info("session ended", "session_id", id, "active", count)

	return nil
}

// ResolveSnapshot finds a snapshot by ID across every live session,
// satisfying the policy gate's resolver interface.
func (sm *SessionManager) ResolveSnapshot(id string) (*redact.Snapshot, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	for _, ms := range sm.sessions {
		if snap, err := ms.sess.SnapshotByID(id); err == nil {
			return snap, nil
		}
	}
	return nil, redact.ErrSnapshotNotFound
}

// Count returns the number of live sessions.
func (sm *SessionManager) Count() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.sessions)
}

// AnyDegraded reports whether any live session has lost its contextual
// lane. Surfaces in the readiness payload.
func (sm *SessionManager) AnyDegraded() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	for _, ms := range sm.sessions {
		if ms.sess.Degraded() {
			return true
		}
	}
	return false
}

// CloseAll tears down every live session. Used during shutdown.
func (sm *SessionManager) CloseAll(ctx context.Context) {
	sm.mu.Lock()
	all := sm.sessions
	sm.sessions = make(map[string]*managedSession)
	sm.mu.Unlock()

	for id, ms := range all {
		ms.sess.Close()
		ms.cancel()
		sm.metrics.ActiveSessions.Add(ctx, -1)
		_ = sm.ledger.Record(ctx, audit.Event{
			Kind:          audit.KindSessionEnded,
			SessionID:     id,
			BufferVersion: ms.sess.Version(),
			EntityCount:   len(ms.sess.Entities()),
		})
	}
}
