// Package policy is the single vetted egress point for redacted text.
//
// Every consumer that wants text out of the service — the HTTP apply
// endpoint, the MCP apply tool — goes through [Gate.Release] with a snapshot
// id and the reviewer's accepted entity ids. Nothing else in the repo hands
// buffer text to an outbound surface.
package policy

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/scribegate/scribegate/internal/observe"
	"github.com/scribegate/scribegate/internal/redact"
)

// ErrOffline is returned by [Gate.Release] while the offline switch is set.
// Offline refuses all egress unconditionally, before any other check.
var ErrOffline = errors.New("egress refused: offline mode")

// Switches are the two egress switches, hot-reloadable at runtime.
type Switches struct {
	// Offline refuses every release while true. Checked first.
	Offline bool

	// RedactBeforeSend, when false, turns the gate into a configured
	// passthrough: the operator has decided raw text may leave. The gate
	// documents that posture, it does not second-guess it.
	RedactBeforeSend bool
}

// Source yields the switches currently in force.
type Source interface {
	Current() Switches
}

// Store is an atomic [Source] the config watcher updates on reload.
type Store struct {
	val atomic.Pointer[Switches]
}

// NewStore returns a Store holding sw.
func NewStore(sw Switches) *Store {
	s := &Store{}
	s.val.Store(&sw)
	return s
}

// Current implements [Source].
func (s *Store) Current() Switches {
	return *s.val.Load()
}

// Update replaces the switches in force. Safe for concurrent use with
// Current; releases in flight keep the switches they started with.
func (s *Store) Update(sw Switches) {
	s.val.Store(&sw)
}

// SnapshotResolver looks up a snapshot by id across every live session.
type SnapshotResolver interface {
	// ResolveSnapshot returns the snapshot with the given id, or
	// [redact.ErrSnapshotNotFound].
	ResolveSnapshot(id string) (*redact.Snapshot, error)
}

// Result is what a successful release hands back.
type Result struct {
	// Text is the released text: redacted output, or the raw snapshot text
	// when the gate is a configured passthrough.
	Text string

	// SnapshotID and SessionID identify what was released.
	SnapshotID string
	SessionID  string

	// AcceptedCount and TotalEntities are the apply counts: how many masks
	// the reviewer accepted out of how many the snapshot proposed.
	AcceptedCount int
	TotalEntities int

	// Passthrough reports that redact_before_send was off and Text is the
	// unredacted snapshot source.
	Passthrough bool
}

// Gate applies the egress policy to release requests.
type Gate struct {
	resolver SnapshotResolver
	source   Source
	metrics  *observe.Metrics
}

// NewGate builds a gate over resolver with the switches from source. A nil
// metrics falls back to the package-level default instruments.
func NewGate(resolver SnapshotResolver, source Source, metrics *observe.Metrics) *Gate {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Gate{resolver: resolver, source: source, metrics: metrics}
}

// Release resolves snapshotID and returns its text with the accepted
// entities masked. The switch order is fixed: offline refuses everything
// before any lookup happens; a disabled redact_before_send short-circuits to
// passthrough after the snapshot resolves; otherwise the accepted ids are
// spliced via [redact.Apply] and only the redacted text leaves.
func (g *Gate) Release(ctx context.Context, snapshotID string, acceptedIDs []string) (*Result, error) {
	sw := g.source.Current()

	if sw.Offline {
		g.metrics.RecordEgressRefused(ctx, "offline")
		slog.Warn("egress refused", "snapshot_id", snapshotID, "reason", "offline")
		return nil, ErrOffline
	}

	snap, err := g.resolver.ResolveSnapshot(snapshotID)
	if err != nil {
		return nil, err
	}

	if !sw.RedactBeforeSend {
		g.metrics.RecordApply(ctx, "passthrough")
		slog.Info("egress passthrough",
			"session_id", snap.SessionID,
			"snapshot_id", snap.ID,
		)
		return &Result{
			Text:          snap.Source,
			SnapshotID:    snap.ID,
			SessionID:     snap.SessionID,
			TotalEntities: len(snap.Entities),
			Passthrough:   true,
		}, nil
	}

	start := time.Now()
	text, err := redact.Apply(snap, acceptedIDs)
	g.metrics.ApplyDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		status := "error"
		switch {
		case redact.IsValidation(err):
			status = "validation"
		case errors.Is(err, redact.ErrStaleSnapshot):
			status = "conflict"
		}
		g.metrics.RecordApply(ctx, status)
		return nil, err
	}

	g.metrics.RecordApply(ctx, "ok")
	slog.Info("egress released",
		"session_id", snap.SessionID,
		"snapshot_id", snap.ID,
		"accepted", len(acceptedIDs),
		"total_entities", len(snap.Entities),
	)
	return &Result{
		Text:          text,
		SnapshotID:    snap.ID,
		SessionID:     snap.SessionID,
		AcceptedCount: len(acceptedIDs),
		TotalEntities: len(snap.Entities),
	}, nil
}
