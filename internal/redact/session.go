package redact

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/scribegate/scribegate/internal/observe"
)

// SessionConfig holds the dependencies and knobs for one redaction session.
type SessionConfig struct {
	// ID identifies the session. Required.
	ID string

	// Scanner is the fast-lane pattern scanner. When nil a scanner with the
	// built-in rule table is created.
	Scanner *PatternScanner

	// Detector is the slow-lane contextual detector. When nil the session
	// runs fast-lane-only and every snapshot is marked degraded.
	Detector Detector

	// Mapper folds contextual label guesses onto the closed set. When nil a
	// default mapper is created. Ignored when Detector is nil.
	Mapper *LabelMapper

	// SlowLane tunes the contextual pass cadence. Zero fields use defaults.
	SlowLane SlowLaneConfig

	// Metrics receives detection and failure counters. When nil the
	// package-level default instruments are used.
	Metrics *observe.Metrics
}

// IngestResult reports the outcome of one chunk ingestion.
type IngestResult struct {
	// Version is the buffer version after the append.
	Version uint64

	// BaseOffset is the byte offset at which the chunk's text begins.
	BaseOffset int

	// EntitiesFound is how many fast-lane findings the chunk produced
	// (before merging; merging may fold them into existing entities).
	EntitiesFound int
}

// Session owns the full redaction state for one transcript stream: the
// append-only buffer, the entity index, and the snapshot history. The slow
// lane runs on a background goroutine owned by the session and started with
// [Session.Start].
//
// One mutex serializes every mutation of buffer, index, and history. The
// fast lane runs on the caller's goroutine; the slow lane copies the buffer
// text under the lock and scans without holding it, so ingestion is never
// blocked by a contextual pass in flight.
//
// All exported methods are safe for concurrent use.
type Session struct {
	id        string
	startedAt time.Time
	scanner   *PatternScanner
	metrics   *observe.Metrics
	slow      *slowLane

	mu       sync.Mutex
	buffer   Buffer
	index    []Entity
	history  []*Snapshot
	byID     map[string]*Snapshot
	failures int
	// detectorDown tracks the current contextual-detector availability.
	// Recovers on the next successful pass.
	detectorDown bool
	// degraded is the sticky flag set once failures pass the threshold.
	// Cleared only by ResetDegraded, never by time.
	degraded bool
}

// NewSession creates a session. Call [Session.Start] to begin slow-lane
// scheduling and [Session.Close] to tear the session down.
func NewSession(cfg SessionConfig) *Session {
	s := &Session{
		id:        cfg.ID,
		startedAt: time.Now().UTC(),
		scanner:   cfg.Scanner,
		metrics:   cfg.Metrics,
		byID:      make(map[string]*Snapshot),
	}
	if s.scanner == nil {
		s.scanner = NewPatternScanner()
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}

	if cfg.Detector == nil {
		// Fast-lane-only mode: no scheduler, snapshots carry the degraded
		// mark so reviewers know recall is reduced.
		s.detectorDown = true
		return s
	}

	mapper := cfg.Mapper
	if mapper == nil {
		mapper = NewLabelMapper()
	}
	s.slow = newSlowLane(s, cfg.Detector, mapper, cfg.SlowLane)
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// StartedAt returns the session creation time in UTC.
func (s *Session) StartedAt() time.Time {
	return s.startedAt
}

// Start launches the slow-lane scheduler. It is a no-op for fast-lane-only
// sessions. The scheduler stops when ctx is cancelled or Close is called.
func (s *Session) Start(ctx context.Context) {
	if s.slow != nil {
		s.slow.start(ctx)
	}
}

// Close stops the slow-lane scheduler. Session state stays readable after
// Close; the owning manager discards the whole session to tear it down.
// Safe to call multiple times.
func (s *Session) Close() {
	if s.slow != nil {
		s.slow.stop()
	}
}

// Ingest validates and appends a chunk, runs the fast lane inline, and
// merges its findings into the entity index. It returns a [ValidationError]
// for malformed or out-of-order chunks; the buffer is untouched on error.
func (s *Session) Ingest(ctx context.Context, chunk Chunk) (IngestResult, error) {
	start := time.Now()

	s.mu.Lock()
	version, base, err := s.buffer.Append(chunk)
	if err != nil {
		s.mu.Unlock()
		return IngestResult{}, err
	}

	found := s.scanner.Scan(chunk, base)
	s.index = Merge(s.index, found)

	bufLen := s.buffer.Len()
	s.mu.Unlock()

	s.metrics.RecordChunk(ctx, string(chunk.Channel))
	s.metrics.ScanDuration.Record(ctx, time.Since(start).Seconds())
	for _, e := range found {
		s.metrics.RecordEntity(ctx, string(e.Label), string(e.Method))
	}

	if s.slow != nil {
		s.slow.notifyGrowth(bufLen)
	}

	return IngestResult{
		Version:       version,
		BaseOffset:    base,
		EntitiesFound: len(found),
	}, nil
}

// ForceAnalyze requests a contextual pass outside the regular cadence. It
// returns immediately; the pass runs on the scheduler goroutine. Returns
// [ErrDetectorUnavailable] when the session has no contextual detector.
func (s *Session) ForceAnalyze() error {
	if s.slow == nil {
		return ErrDetectorUnavailable
	}
	s.slow.force()
	return nil
}

// BuildSnapshot takes a consistent read of the index and buffer and
// materializes a new immutable snapshot, appended to the session history.
// Every call mints a fresh snapshot ID, even when nothing changed since the
// last build.
func (s *Session) BuildSnapshot(ctx context.Context) *Snapshot {
	s.mu.Lock()
	snap := newSnapshot(s.id, s.buffer.Version(), s.buffer.Text(), s.index, s.degraded || s.detectorDown)
	s.history = append(s.history, snap)
	s.byID[snap.ID] = snap
	s.mu.Unlock()

	s.metrics.SnapshotsBuilt.Add(ctx, 1)
	slog.Debug("snapshot built",
		"session_id", s.id,
		"snapshot_id", snap.ID,
		"buffer_version", snap.BufferVersion,
		"entities", len(snap.Entities),
		"degraded", snap.Degraded,
	)
	return snap
}

// SnapshotByID returns the snapshot with the given ID from this session's
// history, or [ErrSnapshotNotFound].
func (s *Session) SnapshotByID(id string) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.byID[id]
	if !ok {
		return nil, ErrSnapshotNotFound
	}
	return snap, nil
}

// SnapshotCount returns how many snapshots this session has built.
func (s *Session) SnapshotCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history)
}

// Entities returns a copy of the current entity index in insertion order.
func (s *Session) Entities() []Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneEntities(s.index)
}

// Version returns the current buffer version.
func (s *Session) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffer.Version()
}

// ChunkCount returns how many chunks this session has ingested.
func (s *Session) ChunkCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffer.ChunkCount()
}

// Degraded reports whether the session is running with reduced recall:
// either the contextual detector is currently unavailable, or repeated
// failures tripped the sticky degraded flag.
func (s *Session) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded || s.detectorDown
}

// ResetDegraded clears the sticky degraded flag and the failure counter.
// Operator action, not automatic: repeated slow-lane failures say something
// about the deployment that a timer should not paper over.
func (s *Session) ResetDegraded() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.degraded = false
	s.failures = 0
}

// snapshotText returns a copy of the buffer text and its version for an
// out-of-lock contextual scan.
func (s *Session) snapshotText() (string, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffer.Text(), s.buffer.Version()
}

// mergeContextual folds slow-lane entities into the index and clears the
// failure streak. Offsets computed against the scanned copy stay valid
// because the buffer only grows at the end.
func (s *Session) mergeContextual(ctx context.Context, incoming []Entity) {
	s.mu.Lock()
	s.index = Merge(s.index, incoming)
	s.failures = 0
	s.detectorDown = false
	s.mu.Unlock()

	for _, e := range incoming {
		s.metrics.RecordEntity(ctx, string(e.Label), string(e.Method))
	}
}

// recordSlowFailure counts one failed contextual pass and trips the sticky
// degraded flag once the streak reaches threshold. unavailable marks the
// detector itself as down until a pass succeeds again.
func (s *Session) recordSlowFailure(threshold int, unavailable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failures++
	if unavailable {
		s.detectorDown = true
	}
	if s.failures >= threshold && !s.degraded {
		s.degraded = true
		slog.Warn("session marked degraded after repeated contextual failures",
			"session_id", s.id,
			"failures", s.failures,
		)
	}
}

// contextsFor builds sighting contexts for a span detected against text,
// resolving the covering chunk from the buffer's span records.
func (s *Session) contextsFor(text string, start, end int) []Context {
	s.mu.Lock()
	span, ok := s.buffer.ChunkAt(start)
	s.mu.Unlock()
	if !ok {
		return []Context{{Surrounding: surroundingWindow(text, start, end)}}
	}
	return []Context{{
		ChunkID:     span.Chunk.ID,
		Surrounding: surroundingWindow(text, start, end),
		Channel:     span.Chunk.Channel,
		T0:          span.Chunk.T0,
		T1:          span.Chunk.T1,
	}}
}
