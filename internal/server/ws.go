package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/go-playground/validator/v10"

	"github.com/scribegate/scribegate/internal/audit"
	"github.com/scribegate/scribegate/internal/redact"
)

// streamAck is the per-chunk reply on the stream socket. OK false means
// the chunk was rejected; the socket closes right after a rejection so a
// live transcription feed never silently drops fragments.
type streamAck struct {
	OK            bool   `json:"ok"`
	ChunkID       string `json:"chunk_id,omitempty"`
	Version       uint64 `json:"version,omitempty"`
	EntitiesFound int    `json:"entities_found"`
	Error         string `json:"error,omitempty"`
	Field         string `json:"field,omitempty"`
}

// handleStream upgrades to a WebSocket and ingests one chunk per text
// frame, replying with a JSON ack per chunk. The session is resolved
// before the upgrade so unknown sessions fail as plain 404s.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := s.sessions.Session(id)
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("websocket accept failed", "session_id", id, "err", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream aborted")

	ctx := r.Context()
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			// Client closed or the request context ended.
			return
		}
		if typ != websocket.MessageText {
			conn.Close(websocket.StatusUnsupportedData, "text frames only")
			return
		}

		var req ingestRequest
		if err := json.Unmarshal(data, &req); err != nil {
			s.rejectStream(ctx, conn, "", &redact.ValidationError{Field: "body", Reason: "malformed JSON"})
			return
		}
		if err := s.validate.Struct(&req); err != nil {
			s.rejectStream(ctx, conn, req.ChunkID, err)
			return
		}

		chunk := req.chunk(id)
		res, err := sess.Ingest(ctx, chunk)
		if err != nil {
			s.rejectStream(ctx, conn, chunk.ID, err)
			return
		}
		s.record(ctx, audit.Event{
			Kind:          audit.KindChunkIngested,
			SessionID:     id,
			BufferVersion: res.Version,
			EntityCount:   res.EntitiesFound,
		})

		ack := streamAck{
			OK:            true,
			ChunkID:       chunk.ID,
			Version:       res.Version,
			EntitiesFound: res.EntitiesFound,
		}
		buf, merr := json.Marshal(ack)
		if merr != nil {
			return
		}
		if err := conn.Write(ctx, websocket.MessageText, buf); err != nil {
			return
		}
	}
}

// rejectStream sends a failure ack and closes the socket. The ack names
// the offending field and reason; chunk text never appears in it.
func (s *Server) rejectStream(ctx context.Context, conn *websocket.Conn, chunkID string, err error) {
	ack := streamAck{ChunkID: chunkID, Error: "validation failed"}

	var verrs validator.ValidationErrors
	var ve *redact.ValidationError
	switch {
	case errors.As(err, &verrs) && len(verrs) > 0:
		ack.Field = verrs[0].Field()
	case errors.As(err, &ve):
		ack.Field = ve.Field
		ack.Error = ve.Reason
	default:
		ack.Error = "chunk rejected"
	}

	if buf, merr := json.Marshal(ack); merr == nil {
		_ = conn.Write(ctx, websocket.MessageText, buf)
	}
	conn.Close(websocket.StatusPolicyViolation, "invalid chunk")
}
