package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/scribegate/scribegate/internal/audit"
	"github.com/scribegate/scribegate/internal/redact"
)

// decodeValid decodes the request body into dst and runs struct
// validation. JSON syntax problems come back as a *redact.ValidationError
// on the body field so they map to 400 like every other caller mistake.
func (s *Server) decodeValid(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return &redact.ValidationError{Field: "body", Reason: "malformed JSON"}
	}
	return s.validate.Struct(dst)
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.StartSession(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, startSessionResponse{
		SessionID: sess.ID(),
		StartedAt: sess.StartedAt(),
	})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := s.sessions.Session(id)
	if err != nil {
		writeError(w, err)
		return
	}

	var req ingestRequest
	if err := s.decodeValid(r, &req); err != nil {
		writeError(w, err)
		return
	}

	chunk := req.chunk(id)
	res, err := sess.Ingest(r.Context(), chunk)
	if err != nil {
		writeError(w, err)
		return
	}
	s.record(r.Context(), audit.Event{
		Kind:          audit.KindChunkIngested,
		SessionID:     id,
		BufferVersion: res.Version,
		EntityCount:   res.EntitiesFound,
	})

	writeJSON(w, http.StatusOK, ingestResponse{
		ChunkID:       chunk.ID,
		Version:       res.Version,
		BaseOffset:    res.BaseOffset,
		EntitiesFound: res.EntitiesFound,
	})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := s.sessions.Session(id)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := analyzeResponse{SessionID: id, Triggered: true}
	if err := sess.ForceAnalyze(); err != nil {
		if !errors.Is(err, redact.ErrDetectorUnavailable) {
			writeError(w, err)
			return
		}
		// Fast-lane-only or degraded: still a 202, the caller reads the
		// flags rather than the status code.
		resp.Triggered = false
		resp.Degraded = true
		s.record(r.Context(), audit.Event{
			Kind:      audit.KindDegradedMarked,
			SessionID: id,
			Reason:    "detector_unavailable",
		})
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) handleResetDegraded(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := s.sessions.Session(id)
	if err != nil {
		writeError(w, err)
		return
	}
	sess.ResetDegraded()
	s.record(r.Context(), audit.Event{
		Kind:          audit.KindDegradedReset,
		SessionID:     id,
		BufferVersion: sess.Version(),
	})
	writeJSON(w, http.StatusOK, resetDegradedResponse{SessionID: id, Degraded: sess.Degraded()})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := s.sessions.Session(id)
	if err != nil {
		writeError(w, err)
		return
	}
	snap := sess.BuildSnapshot(r.Context())
	s.record(r.Context(), audit.Event{
		Kind:          audit.KindSnapshotBuilt,
		SessionID:     id,
		SnapshotID:    snap.ID,
		BufferVersion: snap.BufferVersion,
		EntityCount:   len(snap.Entities),
	})
	writeJSON(w, http.StatusOK, snapshotDTO(snap))
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.sessions.EndSession(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	var req applyRequest
	if err := s.decodeValid(r, &req); err != nil {
		writeError(w, err)
		return
	}

	res, err := s.releaser.Release(r.Context(), req.SnapshotID, req.AcceptedEntityIDs)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, applyResponse{
		RedactedText:  res.Text,
		SnapshotID:    res.SnapshotID,
		SessionID:     res.SessionID,
		AcceptedCount: res.AcceptedCount,
		TotalEntities: res.TotalEntities,
		Passthrough:   res.Passthrough,
	})
}
