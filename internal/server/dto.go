package server

import (
	"time"

	"github.com/google/uuid"

	"github.com/scribegate/scribegate/internal/redact"
)

// startSessionResponse is the body of POST /v1/sessions.
type startSessionResponse struct {
	SessionID string    `json:"session_id"`
	StartedAt time.Time `json:"started_at"`
}

// ingestRequest is one transcript chunk, either as the body of
// POST /v1/sessions/{id}/chunks or as one text frame on the stream
// socket. IngestedAt is optional; the server stamps arrival time when
// it is absent.
type ingestRequest struct {
	ChunkID    string    `json:"chunk_id" validate:"omitempty,uuid"`
	Channel    string    `json:"channel" validate:"required,oneof=primary secondary mixed"`
	Text       string    `json:"text" validate:"required"`
	T0Ms       int64     `json:"t0_ms" validate:"min=0"`
	T1Ms       int64     `json:"t1_ms" validate:"min=0,gtefield=T0Ms"`
	IngestedAt time.Time `json:"ingested_at,omitempty"`
}

// chunk converts the request into an engine chunk, minting an ID and an
// arrival timestamp where the caller left them out.
func (r ingestRequest) chunk(sessionID string) redact.Chunk {
	id := r.ChunkID
	if id == "" {
		id = uuid.NewString()
	}
	at := r.IngestedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return redact.Chunk{
		ID:         id,
		SessionID:  sessionID,
		Channel:    redact.Channel(r.Channel),
		Text:       r.Text,
		T0:         time.Duration(r.T0Ms) * time.Millisecond,
		T1:         time.Duration(r.T1Ms) * time.Millisecond,
		IngestedAt: at,
	}
}

// ingestResponse acknowledges one appended chunk.
type ingestResponse struct {
	ChunkID       string `json:"chunk_id"`
	Version       uint64 `json:"version"`
	BaseOffset    int    `json:"base_offset"`
	EntitiesFound int    `json:"entities_found"`
}

// analyzeResponse acknowledges an out-of-cadence contextual pass. The
// pass runs in the background; Triggered false with Degraded true means
// the session is fast-lane-only and nothing was scheduled.
type analyzeResponse struct {
	SessionID string `json:"session_id"`
	Triggered bool   `json:"triggered"`
	Degraded  bool   `json:"degraded"`
}

type resetDegradedResponse struct {
	SessionID string `json:"session_id"`
	Degraded  bool   `json:"degraded"`
}

// entityDTO is one detected span in a snapshot response.
type entityDTO struct {
	ID         string  `json:"id"`
	Label      string  `json:"label"`
	Text       string  `json:"text"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Confidence float64 `json:"confidence"`
	Method     string  `json:"method"`
}

// diffSpanDTO is one masked span in a snapshot preview.
type diffSpanDTO struct {
	EntityID    string `json:"entity_id"`
	Label       string `json:"label"`
	Start       int    `json:"start"`
	End         int    `json:"end"`
	Original    string `json:"original"`
	Placeholder string `json:"placeholder"`
}

// snapshotResponse is the body of GET /v1/sessions/{id}/snapshot. The
// snapshot's raw source text is deliberately absent; only the masked
// preview and the per-span diff leave over HTTP.
type snapshotResponse struct {
	SnapshotID     string        `json:"snapshot_id"`
	SessionID      string        `json:"session_id"`
	BufferVersion  uint64        `json:"buffer_version"`
	TakenAt        time.Time     `json:"taken_at"`
	Degraded       bool          `json:"degraded"`
	Entities       []entityDTO   `json:"entities"`
	PreviewDiff    []diffSpanDTO `json:"preview_diff"`
	OriginalLength int           `json:"original_length"`
	RedactedLength int           `json:"redacted_length"`
	RedactedText   string        `json:"redacted_text"`
}

// snapshotDTO converts an engine snapshot into its wire shape.
func snapshotDTO(snap *redact.Snapshot) snapshotResponse {
	entities := make([]entityDTO, 0, len(snap.Entities))
	for _, e := range snap.Entities {
		entities = append(entities, entityDTO{
			ID:         e.ID,
			Label:      string(e.Label),
			Text:       e.Text,
			Start:      e.Start,
			End:        e.End,
			Confidence: e.Confidence,
			Method:     string(e.Method),
		})
	}
	diff := make([]diffSpanDTO, 0, len(snap.PreviewDiff))
	for _, d := range snap.PreviewDiff {
		diff = append(diff, diffSpanDTO{
			EntityID:    d.EntityID,
			Label:       string(d.Label),
			Start:       d.Start,
			End:         d.End,
			Original:    d.Original,
			Placeholder: d.Placeholder,
		})
	}
	return snapshotResponse{
		SnapshotID:     snap.ID,
		SessionID:      snap.SessionID,
		BufferVersion:  snap.BufferVersion,
		TakenAt:        snap.TakenAt,
		Degraded:       snap.Degraded,
		Entities:       entities,
		PreviewDiff:    diff,
		OriginalLength: snap.OriginalLength,
		RedactedLength: snap.RedactedLength,
		RedactedText:   snap.RedactedText,
	}
}

// applyRequest is the body of POST /v1/apply.
type applyRequest struct {
	SnapshotID        string   `json:"snapshot_id" validate:"required"`
	AcceptedEntityIDs []string `json:"accepted_entity_ids" validate:"dive,required"`
}

// applyResponse is the gate's verdict on a release request.
type applyResponse struct {
	RedactedText  string `json:"redacted_text"`
	SnapshotID    string `json:"snapshot_id"`
	SessionID     string `json:"session_id"`
	AcceptedCount int    `json:"accepted_count"`
	TotalEntities int    `json:"total_entities"`
	Passthrough   bool   `json:"passthrough,omitempty"`
}
