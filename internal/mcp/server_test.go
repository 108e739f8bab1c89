package mcp_test

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/scribegate/scribegate/internal/mcp"
	"github.com/scribegate/scribegate/internal/policy"
	"github.com/scribegate/scribegate/internal/redact"
)

// directory is an in-memory session lookup that doubles as the gate's
// snapshot resolver.
type directory struct {
	mu       sync.Mutex
	sessions map[string]*redact.Session
}

func (d *directory) Session(id string) (*redact.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	sess, ok := d.sessions[id]
	if !ok {
		return nil, redact.ErrSessionNotFound
	}
	return sess, nil
}

func (d *directory) ResolveSnapshot(id string) (*redact.Snapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, sess := range d.sessions {
		if snap, err := sess.SnapshotByID(id); err == nil {
			return snap, nil
		}
	}
	return nil, redact.ErrSnapshotNotFound
}

// newToolSession wires a server over in-memory transports and returns a
// connected client session plus the backing directory.
func newToolSession(t *testing.T, sw policy.Switches) (*mcpsdk.ClientSession, *directory) {
	t.Helper()

	dir := &directory{sessions: make(map[string]*redact.Session)}
	gate := policy.NewGate(dir, policy.NewStore(sw), nil)
	srv := mcp.New(dir, gate, "test")

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	clientT, serverT := mcpsdk.NewInMemoryTransports()
	serverSession, err := srv.Connect(ctx, serverT)
	if err != nil {
		t.Fatalf("connect server: %v", err)
	}
	t.Cleanup(func() { _ = serverSession.Close() })

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test-client", Version: "0"}, nil)
	clientSession, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("connect client: %v", err)
	}
	t.Cleanup(func() { _ = clientSession.Close() })

	return clientSession, dir
}

// seedSession creates a session with one ingested chunk.
func seedSession(t *testing.T, dir *directory, id, text string) *redact.Session {
	t.Helper()
	sess := redact.NewSession(redact.SessionConfig{ID: id})
	_, err := sess.Ingest(context.Background(), redact.Chunk{
		ID:         "chunk-1",
		SessionID:  id,
		Channel:    redact.ChannelPrimary,
		Text:       text,
		T1:         time.Second,
		IngestedAt: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	dir.mu.Lock()
	dir.sessions[id] = sess
	dir.mu.Unlock()
	return sess
}

// callTool invokes a tool and decodes its structured content into out.
func callTool(t *testing.T, cs *mcpsdk.ClientSession, name string, args map[string]any, out any) *mcpsdk.CallToolResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := cs.CallTool(ctx, &mcpsdk.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("call %s: %v", name, err)
	}
	if out != nil && !res.IsError {
		buf, err := json.Marshal(res.StructuredContent)
		if err != nil {
			t.Fatalf("marshal structured content: %v", err)
		}
		if err := json.Unmarshal(buf, out); err != nil {
			t.Fatalf("unmarshal structured content: %v", err)
		}
	}
	return res
}

type snapshotOut struct {
	SnapshotID   string `json:"snapshot_id"`
	SessionID    string `json:"session_id"`
	Degraded     bool   `json:"degraded"`
	RedactedText string `json:"redacted_text"`
	Entities     []struct {
		ID          string `json:"id"`
		Label       string `json:"label"`
		Placeholder string `json:"placeholder"`
	} `json:"entities"`
}

type applyOut struct {
	RedactedText  string `json:"redacted_text"`
	AcceptedCount int    `json:"accepted_count"`
	TotalEntities int    `json:"total_entities"`
	Passthrough   bool   `json:"passthrough"`
}

type statusOut struct {
	SessionID     string `json:"session_id"`
	BufferVersion uint64 `json:"buffer_version"`
	ChunkCount    int    `json:"chunk_count"`
	EntityCount   int    `json:"entity_count"`
	SnapshotCount int    `json:"snapshot_count"`
	Degraded      bool   `json:"degraded"`
}

func TestListTools(t *testing.T) {
	t.Parallel()
	cs, _ := newToolSession(t, policy.Switches{RedactBeforeSend: true})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := cs.ListTools(ctx, nil)
	if err != nil {
		t.Fatalf("list tools: %v", err)
	}

	names := make(map[string]bool, len(res.Tools))
	for _, tool := range res.Tools {
		names[tool.Name] = true
	}
	for _, want := range []string{"get_snapshot", "apply_redaction", "session_status"} {
		if !names[want] {
			t.Errorf("tool %q not listed", want)
		}
	}
}

func TestGetSnapshotMasksText(t *testing.T) {
	t.Parallel()
	cs, dir := newToolSession(t, policy.Switches{RedactBeforeSend: true})
	seedSession(t, dir, "sess-1", "Call John Smith at 555-123-4567")

	var out snapshotOut
	res := callTool(t, cs, "get_snapshot", map[string]any{"session_id": "sess-1"}, &out)
	if res.IsError {
		t.Fatalf("tool errored: %v", res.Content)
	}

	if out.RedactedText != "Call John Smith at [PHONE]" {
		t.Errorf("redacted_text = %q", out.RedactedText)
	}
	if len(out.Entities) != 1 || out.Entities[0].Label != "phone" {
		t.Errorf("entities = %+v, want one phone", out.Entities)
	}

	// The structured result carries span metadata only: the source number
	// must not appear anywhere in the serialized payload.
	raw, err := json.Marshal(res.StructuredContent)
	if err != nil {
		t.Fatalf("marshal result: %v", err)
	}
	if strings.Contains(string(raw), "555-123-4567") {
		t.Error("snapshot tool output leaks the source span")
	}
}

func TestApplyRedactionThroughGate(t *testing.T) {
	t.Parallel()
	cs, dir := newToolSession(t, policy.Switches{Offline: false, RedactBeforeSend: true})
	seedSession(t, dir, "sess-1", "phone 555-123-4567 mail jane@example.org")

	var snap snapshotOut
	callTool(t, cs, "get_snapshot", map[string]any{"session_id": "sess-1"}, &snap)
	if len(snap.Entities) != 2 {
		t.Fatalf("entities = %d, want 2", len(snap.Entities))
	}

	var phoneID string
	for _, e := range snap.Entities {
		if e.Label == "phone" {
			phoneID = e.ID
		}
	}

	var out applyOut
	res := callTool(t, cs, "apply_redaction", map[string]any{
		"snapshot_id":         snap.SnapshotID,
		"accepted_entity_ids": []string{phoneID},
	}, &out)
	if res.IsError {
		t.Fatalf("tool errored: %v", res.Content)
	}
	if out.RedactedText != "phone [PHONE] mail jane@example.org" {
		t.Errorf("redacted_text = %q", out.RedactedText)
	}
	if out.AcceptedCount != 1 || out.TotalEntities != 2 {
		t.Errorf("counts = %d/%d, want 1/2", out.AcceptedCount, out.TotalEntities)
	}
}

func TestApplyRedactionRefusedOffline(t *testing.T) {
	t.Parallel()
	cs, dir := newToolSession(t, policy.Switches{Offline: true, RedactBeforeSend: true})
	sess := seedSession(t, dir, "sess-1", "call 555-123-4567")
	snap := sess.BuildSnapshot(context.Background())

	res := callTool(t, cs, "apply_redaction", map[string]any{
		"snapshot_id":         snap.ID,
		"accepted_entity_ids": []string{},
	}, nil)
	if !res.IsError {
		t.Fatal("offline release did not error")
	}
}

func TestSessionStatus(t *testing.T) {
	t.Parallel()
	cs, dir := newToolSession(t, policy.Switches{RedactBeforeSend: true})
	sess := seedSession(t, dir, "sess-1", "Call John Smith at 555-123-4567")
	sess.BuildSnapshot(context.Background())

	var out statusOut
	res := callTool(t, cs, "session_status", map[string]any{"session_id": "sess-1"}, &out)
	if res.IsError {
		t.Fatalf("tool errored: %v", res.Content)
	}
	if out.SessionID != "sess-1" {
		t.Errorf("session_id = %q", out.SessionID)
	}
	if out.BufferVersion != 1 || out.ChunkCount != 1 {
		t.Errorf("version/chunks = %d/%d, want 1/1", out.BufferVersion, out.ChunkCount)
	}
	if out.EntityCount != 1 {
		t.Errorf("entity_count = %d, want 1", out.EntityCount)
	}
	if out.SnapshotCount != 1 {
		t.Errorf("snapshot_count = %d, want 1", out.SnapshotCount)
	}
	if !out.Degraded {
		t.Error("degraded = false for a fast-lane-only session")
	}
}

func TestUnknownSessionErrors(t *testing.T) {
	t.Parallel()
	cs, _ := newToolSession(t, policy.Switches{RedactBeforeSend: true})

	res := callTool(t, cs, "session_status", map[string]any{"session_id": "nope"}, nil)
	if !res.IsError {
		t.Fatal("unknown session did not error")
	}
}
