package app

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/scribegate/scribegate/internal/audit"
	"github.com/scribegate/scribegate/internal/config"
	"github.com/scribegate/scribegate/internal/policy"
	"github.com/scribegate/scribegate/internal/redact"
)

func TestAuditingReleaserRecordsApply(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ledger := audit.NewMemLedger()
	sm := NewSessionManager(SessionManagerConfig{Ledger: ledger})
	defer sm.CloseAll(ctx)

	sess, err := sm.StartSession(ctx)
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	if _, err := sess.Ingest(ctx, redact.Chunk{
		ID:         "c1",
		SessionID:  sess.ID(),
		Channel:    redact.ChannelPrimary,
		Text:       "Call 555-123-4567 about the results.",
		IngestedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	snap := sess.BuildSnapshot(ctx)
	if len(snap.Entities) != 1 {
		t.Fatalf("entities = %d, want 1", len(snap.Entities))
	}

	store := policy.NewStore(policy.Switches{RedactBeforeSend: true})
	r := &auditingReleaser{
		gate:   policy.NewGate(sm, store, nil),
		ledger: ledger,
	}

	res, err := r.Release(ctx, snap.ID, []string{snap.Entities[0].ID})
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if res.AcceptedCount != 1 {
		t.Errorf("accepted = %d, want 1", res.AcceptedCount)
	}

	events, err := ledger.BySession(ctx, sess.ID(), 0)
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	var apply *audit.Event
	for i := range events {
		if events[i].Kind == audit.KindApplyPerformed {
			apply = &events[i]
		}
	}
	if apply == nil {
		t.Fatalf("no apply_performed event, got %d events", len(events))
	}
	if apply.SnapshotID != snap.ID {
		t.Errorf("event snapshot = %q, want %q", apply.SnapshotID, snap.ID)
	}
	if apply.AcceptedCount != 1 || apply.EntityCount != 1 {
		t.Errorf("event counts = %d/%d, want 1/1", apply.AcceptedCount, apply.EntityCount)
	}
}

func TestAuditingReleaserRecordsOfflineRefusal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ledger := audit.NewMemLedger()
	sm := NewSessionManager(SessionManagerConfig{Ledger: ledger})
	defer sm.CloseAll(ctx)

	store := policy.NewStore(policy.Switches{Offline: true, RedactBeforeSend: true})
	r := &auditingReleaser{
		gate:   policy.NewGate(sm, store, nil),
		ledger: ledger,
	}

	_, err := r.Release(ctx, "snap-1", nil)
	if !errors.Is(err, policy.ErrOffline) {
		t.Fatalf("err = %v, want ErrOffline", err)
	}

	// Offline refusals predate snapshot resolution, so the event carries
	// no session ID.
	events, err := ledger.BySession(ctx, "", 0)
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	if events[0].Kind != audit.KindEgressRefused {
		t.Errorf("kind = %q, want %q", events[0].Kind, audit.KindEgressRefused)
	}
	if events[0].Reason != "offline" {
		t.Errorf("reason = %q, want offline", events[0].Reason)
	}
}

func TestApplyConfigChange(t *testing.T) {
	t.Parallel()
	off, on := false, true
	lv := new(slog.LevelVar)
	a := &App{
		store:    policy.NewStore(policy.Switches{Offline: true, RedactBeforeSend: true}),
		levelVar: lv,
	}

	old := &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogInfo},
		Policy: config.PolicyConfig{Offline: &on, RedactBeforeSend: &on},
	}
	next := &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogDebug},
		Policy: config.PolicyConfig{Offline: &off, RedactBeforeSend: &on},
	}

	a.applyConfigChange(old, next)

	if got := lv.Level(); got != slog.LevelDebug {
		t.Errorf("level = %v, want debug", got)
	}
	sw := a.store.Current()
	if sw.Offline {
		t.Error("offline still set after reload")
	}
	if !sw.RedactBeforeSend {
		t.Error("redact cleared by reload")
	}
}

func TestSlogLevel(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   config.LogLevel
		want slog.Level
	}{
		{config.LogDebug, slog.LevelDebug},
		{config.LogInfo, slog.LevelInfo},
		{config.LogWarn, slog.LevelWarn},
		{config.LogError, slog.LevelError},
		{config.LogLevel("bogus"), slog.LevelInfo},
	}
	for _, tc := range cases {
		if got := slogLevel(tc.in); got != tc.want {
			t.Errorf("slogLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
