package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/scribegate/scribegate/internal/policy"
	"github.com/scribegate/scribegate/internal/redact"
)

// errorResponse is the uniform error envelope. Field carries the single
// offending field for engine validation errors; Fields carries the full
// tag map for DTO validation failures.
type errorResponse struct {
	Code    int               `json:"code"`
	Message string            `json:"error"`
	Field   string            `json:"field,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// writeJSON encodes v with the given status code. On encoding failure it
// falls back to a plain 500 body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failed"}`, http.StatusInternalServerError)
	}
}

// writeError maps engine and policy errors onto status codes. Degraded
// detection is not an error and never reaches this path; it surfaces in
// payloads instead.
func writeError(w http.ResponseWriter, err error) {
	var verrs validator.ValidationErrors
	var ve *redact.ValidationError

	switch {
	case errors.As(err, &verrs):
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Code:    http.StatusBadRequest,
			Message: "validation failed",
			Fields:  validationFields(verrs),
		})
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Code:    http.StatusBadRequest,
			Message: ve.Reason,
			Field:   ve.Field,
		})
	case errors.Is(err, redact.ErrSessionNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{
			Code:    http.StatusNotFound,
			Message: "session not found",
		})
	case errors.Is(err, redact.ErrSnapshotNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{
			Code:    http.StatusNotFound,
			Message: "snapshot not found",
		})
	case errors.Is(err, redact.ErrStaleSnapshot):
		writeJSON(w, http.StatusConflict, errorResponse{
			Code:    http.StatusConflict,
			Message: "snapshot superseded by buffer growth",
		})
	case errors.Is(err, policy.ErrOffline):
		writeJSON(w, http.StatusForbidden, errorResponse{
			Code:    http.StatusForbidden,
			Message: "egress refused: offline mode",
		})
	default:
		slog.Error("request failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Code:    http.StatusInternalServerError,
			Message: "internal error",
		})
	}
}

// validationFields flattens validator errors into a field → tag map.
func validationFields(verrs validator.ValidationErrors) map[string]string {
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = "failed on '" + fe.Tag() + "' tag"
	}
	return fields
}
