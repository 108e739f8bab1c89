// Package mcp exposes the redaction review workflow to agent tooling as
// a Model Context Protocol server.
//
// Three tools are served: get_snapshot builds a masked snapshot of a
// session, apply_redaction releases text through the policy gate, and
// session_status reports session counters. No tool ever returns raw
// buffer text; snapshots go out as masked previews plus span metadata,
// and apply output has already passed the gate.
//
// The server is disabled by default and speaks stdio or streamable HTTP
// depending on configuration.
package mcp

import (
	"context"
	"net/http"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/scribegate/scribegate/internal/policy"
	"github.com/scribegate/scribegate/internal/redact"
)

// SessionDirectory resolves live sessions by ID.
type SessionDirectory interface {
	Session(id string) (*redact.Session, error)
}

// Releaser releases snapshot text through the egress policy.
type Releaser interface {
	Release(ctx context.Context, snapshotID string, acceptedIDs []string) (*policy.Result, error)
}

// Server wraps an MCP server around the review workflow.
type Server struct {
	sessions SessionDirectory
	releaser Releaser
	srv      *mcpsdk.Server
}

// New builds the tool server. Version appears in the MCP handshake; an
// empty string is fine.
func New(sessions SessionDirectory, releaser Releaser, version string) *Server {
	s := &Server{sessions: sessions, releaser: releaser}

	srv := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    "scribegate",
		Version: version,
	}, nil)

	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        "get_snapshot",
		Description: "Build a reviewable snapshot of a session. Returns the masked preview and per-entity metadata; the raw transcript never leaves.",
	}, s.getSnapshot)

	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        "apply_redaction",
		Description: "Release a snapshot's text with the accepted entities masked. Routed through the egress policy gate; refused entirely in offline mode.",
	}, s.applyRedaction)

	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        "session_status",
		Description: "Report counters and the degraded flag for a session.",
	}, s.sessionStatus)

	s.srv = srv
	return s
}

// RunStdio serves the tools over stdin/stdout until ctx is cancelled.
func (s *Server) RunStdio(ctx context.Context) error {
	return s.srv.Run(ctx, &mcpsdk.StdioTransport{})
}

// HTTPHandler returns a streamable-HTTP handler for the tool server.
func (s *Server) HTTPHandler() http.Handler {
	return mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server {
		return s.srv
	}, nil)
}

// Connect attaches the server to an arbitrary transport. Used by tests
// with in-memory transports.
func (s *Server) Connect(ctx context.Context, t mcpsdk.Transport) (*mcpsdk.ServerSession, error) {
	return s.srv.Connect(ctx, t, nil)
}

// ─── get_snapshot ────────────────────────────────────────────────────────────

type getSnapshotInput struct {
	SessionID string `json:"session_id" jsonschema:"ID of the session to snapshot"`
}

// entitySummary is span metadata without the span's source text.
type entitySummary struct {
	ID          string  `json:"id"`
	Label       string  `json:"label"`
	Placeholder string  `json:"placeholder"`
	Start       int     `json:"start"`
	End         int     `json:"end"`
	Confidence  float64 `json:"confidence"`
	Method      string  `json:"method"`
}

type getSnapshotOutput struct {
	SnapshotID    string          `json:"snapshot_id"`
	SessionID     string          `json:"session_id"`
	BufferVersion uint64          `json:"buffer_version"`
	TakenAt       time.Time       `json:"taken_at"`
	Degraded      bool            `json:"degraded"`
	RedactedText  string          `json:"redacted_text"`
	Entities      []entitySummary `json:"entities"`
}

func (s *Server) getSnapshot(ctx context.Context, _ *mcpsdk.CallToolRequest, in getSnapshotInput) (*mcpsdk.CallToolResult, getSnapshotOutput, error) {
	sess, err := s.sessions.Session(in.SessionID)
	if err != nil {
		return nil, getSnapshotOutput{}, err
	}
	snap := sess.BuildSnapshot(ctx)

	entities := make([]entitySummary, 0, len(snap.Entities))
	for _, e := range snap.Entities {
		entities = append(entities, entitySummary{
			ID:          e.ID,
			Label:       string(e.Label),
			Placeholder: e.Label.Placeholder(),
			Start:       e.Start,
			End:         e.End,
			Confidence:  e.Confidence,
			Method:      string(e.Method),
		})
	}

	return nil, getSnapshotOutput{
		SnapshotID:    snap.ID,
		SessionID:     snap.SessionID,
		BufferVersion: snap.BufferVersion,
		TakenAt:       snap.TakenAt,
		Degraded:      snap.Degraded,
		RedactedText:  snap.RedactedText,
		Entities:      entities,
	}, nil
}

// ─── apply_redaction ─────────────────────────────────────────────────────────

type applyInput struct {
	SnapshotID        string   `json:"snapshot_id" jsonschema:"ID of the snapshot to release"`
	AcceptedEntityIDs []string `json:"accepted_entity_ids" jsonschema:"entity IDs whose masks the reviewer accepted"`
}

type applyOutput struct {
	RedactedText  string `json:"redacted_text"`
	SnapshotID    string `json:"snapshot_id"`
	SessionID     string `json:"session_id"`
	AcceptedCount int    `json:"accepted_count"`
	TotalEntities int    `json:"total_entities"`
	Passthrough   bool   `json:"passthrough"`
}

func (s *Server) applyRedaction(ctx context.Context, _ *mcpsdk.CallToolRequest, in applyInput) (*mcpsdk.CallToolResult, applyOutput, error) {
	res, err := s.releaser.Release(ctx, in.SnapshotID, in.AcceptedEntityIDs)
	if err != nil {
		return nil, applyOutput{}, err
	}
	return nil, applyOutput{
		RedactedText:  res.Text,
		SnapshotID:    res.SnapshotID,
		SessionID:     res.SessionID,
		AcceptedCount: res.AcceptedCount,
		TotalEntities: res.TotalEntities,
		Passthrough:   res.Passthrough,
	}, nil
}

// ─── session_status ──────────────────────────────────────────────────────────

type statusInput struct {
	SessionID string `json:"session_id" jsonschema:"ID of the session to inspect"`
}

type statusOutput struct {
	SessionID     string    `json:"session_id"`
	StartedAt     time.Time `json:"started_at"`
	BufferVersion uint64    `json:"buffer_version"`
	ChunkCount    int       `json:"chunk_count"`
	EntityCount   int       `json:"entity_count"`
	SnapshotCount int       `json:"snapshot_count"`
	Degraded      bool      `json:"degraded"`
}

func (s *Server) sessionStatus(_ context.Context, _ *mcpsdk.CallToolRequest, in statusInput) (*mcpsdk.CallToolResult, statusOutput, error) {
	sess, err := s.sessions.Session(in.SessionID)
	if err != nil {
		return nil, statusOutput{}, err
	}
	return nil, statusOutput{
		SessionID:     sess.ID(),
		StartedAt:     sess.StartedAt(),
		BufferVersion: sess.Version(),
		ChunkCount:    sess.ChunkCount(),
		EntityCount:   len(sess.Entities()),
		SnapshotCount: sess.SnapshotCount(),
		Degraded:      sess.Degraded(),
	}, nil
}
