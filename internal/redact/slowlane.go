package redact

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Slow-lane cadence defaults.
const (
	defaultSlowInterval         = 10 * time.Second
	defaultSlowMinChars         = 400
	defaultSlowTimeout          = 30 * time.Second
	defaultSlowFailureThreshold = 3
)

// SlowLaneConfig tunes the contextual pass scheduler for one session.
type SlowLaneConfig struct {
	// Interval is the wall-clock cadence between passes. Default: 10s.
	Interval time.Duration

	// MinChars triggers a pass early once this many bytes have accumulated
	// since the last successful pass. Default: 400.
	MinChars int

	// Timeout bounds a single detector call. A pass past its deadline is
	// abandoned and counted as a failure. Default: 30s.
	Timeout time.Duration

	// FailureThreshold is the failure streak that marks the session
	// persistently degraded. Default: 3.
	FailureThreshold int
}

// withDefaults fills zero fields with the package defaults.
func (c SlowLaneConfig) withDefaults() SlowLaneConfig {
	if c.Interval <= 0 {
		c.Interval = defaultSlowInterval
	}
	if c.MinChars <= 0 {
		c.MinChars = defaultSlowMinChars
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultSlowTimeout
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = defaultSlowFailureThreshold
	}
	return c
}

// slowLane schedules contextual passes for one session. A pass runs when
// the interval ticker fires, when ingestion has accumulated MinChars of new
// text, or when a caller forces one — whichever comes first.
//
// The loop goroutine is the only place a pass executes, so at most one pass
// is ever in flight per session. Triggers arriving mid-pass land in the
// one-slot kick channel and coalesce into a single deferred pass.
type slowLane struct {
	session  *Session
	detector Detector
	mapper   *LabelMapper
	cfg      SlowLaneConfig

	kick      chan struct{}
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once

	mu          sync.Mutex
	analyzedLen int
}

func newSlowLane(s *Session, detector Detector, mapper *LabelMapper, cfg SlowLaneConfig) *slowLane {
	return &slowLane{
		session:  s,
		detector: detector,
		mapper:   mapper,
		cfg:      cfg.withDefaults(),
		kick:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// start launches the scheduler loop. Subsequent calls are no-ops.
func (sl *slowLane) start(ctx context.Context) {
	sl.startOnce.Do(func() {
		go sl.loop(ctx)
	})
}

// stop halts the scheduler. Safe to call multiple times.
func (sl *slowLane) stop() {
	sl.stopOnce.Do(func() {
		close(sl.done)
	})
}

// force requests an out-of-cadence pass. Non-blocking; a request while one
// is already queued or running coalesces.
func (sl *slowLane) force() {
	select {
	case sl.kick <- struct{}{}:
	default:
	}
}

// notifyGrowth is called by ingest with the new buffer length. Once enough
// unanalyzed text has piled up, a pass is kicked ahead of the ticker.
func (sl *slowLane) notifyGrowth(bufLen int) {
	sl.mu.Lock()
	pending := bufLen - sl.analyzedLen
	sl.mu.Unlock()
	if pending >= sl.cfg.MinChars {
		sl.force()
	}
}

// loop is the scheduler goroutine.
func (sl *slowLane) loop(ctx context.Context) {
	ticker := time.NewTicker(sl.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sl.done:
			return
		case <-ticker.C:
			sl.runPass(ctx)
		case <-sl.kick:
			sl.runPass(ctx)
		}
	}
}

// runPass executes one contextual pass: copy the buffer text, call the
// detector under a deadline, fold label guesses, and merge the survivors.
// Failures are counted against the session and never retried inline; the
// next cadence tick picks up naturally.
func (sl *slowLane) runPass(ctx context.Context) {
	text, version := sl.session.snapshotText()

	sl.mu.Lock()
	analyzed := sl.analyzedLen
	sl.mu.Unlock()
	if len(text) == 0 || len(text) == analyzed {
		return
	}

	start := time.Now()
	dctx, cancel := context.WithTimeout(ctx, sl.cfg.Timeout)
	findings, err := sl.detector.DetectEntities(dctx, text)
	cancel()

	m := sl.session.metrics
	m.PassDuration.Record(ctx, time.Since(start).Seconds())

	if err != nil {
		reason := "error"
		unavailable := false
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			reason = "timeout"
			err = ErrDetectorTimeout
		case errors.Is(err, ErrDetectorUnavailable):
			reason = "unavailable"
			unavailable = true
		}
		m.RecordSlowLaneFailure(ctx, reason)
		sl.session.recordSlowFailure(sl.cfg.FailureThreshold, unavailable)
		slog.Warn("contextual pass failed",
			"session_id", sl.session.id,
			"buffer_version", version,
			"reason", reason,
			"error", err,
		)
		return
	}

	entities := make([]Entity, 0, len(findings))
	for _, f := range findings {
		label, ok := sl.mapper.Map(f.Label)
		if !ok {
			m.UnmappedLabels.Add(ctx, 1)
			continue
		}
		entities = append(entities, Entity{
			ID:         newEntityID(),
			Label:      label,
			Text:       f.Text,
			Start:      f.Start,
			End:        f.End,
			Confidence: f.Confidence,
			Method:     MethodContextual,
			Contexts:   sl.session.contextsFor(text, f.Start, f.End),
		})
	}

	sl.session.mergeContextual(ctx, entities)

	sl.mu.Lock()
	sl.analyzedLen = len(text)
	sl.mu.Unlock()

	slog.Debug("contextual pass completed",
		"session_id", sl.session.id,
		"buffer_version", version,
		"findings", len(findings),
		"merged", len(entities),
	)
}
