// Package server exposes the redaction engine over HTTP: session
// lifecycle, chunk ingestion (unary and streaming), snapshot review, and
// gated apply. Handlers own transport concerns only; detection lives in
// internal/redact and every release of text goes through internal/policy.
package server

import (
	"context"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/scribegate/scribegate/internal/audit"
	"github.com/scribegate/scribegate/internal/health"
	"github.com/scribegate/scribegate/internal/observe"
	"github.com/scribegate/scribegate/internal/policy"
	"github.com/scribegate/scribegate/internal/redact"
)

// SessionService is the session lifecycle surface the handlers need.
type SessionService interface {
	// StartSession creates and starts a new session.
	StartSession(ctx context.Context) (*redact.Session, error)

	// Session returns the live session with the given ID, or
	// [redact.ErrSessionNotFound].
	Session(id string) (*redact.Session, error)

	// EndSession tears down the session with the given ID, or returns
	// [redact.ErrSessionNotFound].
	EndSession(ctx context.Context, id string) error
}

// Releaser releases snapshot text through the egress policy.
type Releaser interface {
	Release(ctx context.Context, snapshotID string, acceptedIDs []string) (*policy.Result, error)
}

// Config wires a Server's collaborators.
type Config struct {
	// Sessions provides session lifecycle and lookup. Required.
	Sessions SessionService

	// Releaser is the policy gate behind POST /v1/apply. Required.
	Releaser Releaser

	// Health serves /healthz and /readyz. When nil a handler with no
	// checkers is used.
	Health *health.Handler

	// Metrics receives HTTP instrumentation. When nil the package-level
	// default instruments are used.
	Metrics *observe.Metrics

	// Ledger records ingest and snapshot events. Nil disables recording
	// at this layer; apply events are the releaser's concern.
	Ledger audit.Ledger
}

// Server translates HTTP requests into engine calls.
type Server struct {
	sessions SessionService
	releaser Releaser
	health   *health.Handler
	metrics  *observe.Metrics
	ledger   audit.Ledger
	validate *validator.Validate
}

// record appends an audit event when a ledger is configured. Failures are
// the ledger's problem; request handling never blocks on the trail.
func (s *Server) record(ctx context.Context, ev audit.Event) {
	if s.ledger == nil {
		return
	}
	_ = s.ledger.Record(ctx, ev)
}

// New builds a Server from cfg.
func New(cfg Config) *Server {
	h := cfg.Health
	if h == nil {
		h = health.New()
	}
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Server{
		sessions: cfg.Sessions,
		releaser: cfg.Releaser,
		health:   h,
		metrics:  m,
		ledger:   cfg.Ledger,
		validate: validator.New(),
	}
}

// Handler assembles the full route table behind the observability
// middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/sessions", s.handleStartSession)
	mux.HandleFunc("POST /v1/sessions/{id}/chunks", s.handleIngest)
	mux.HandleFunc("GET /v1/sessions/{id}/stream", s.handleStream)
	mux.HandleFunc("POST /v1/sessions/{id}/analyze", s.handleAnalyze)
	mux.HandleFunc("POST /v1/sessions/{id}/reset-degraded", s.handleResetDegraded)
	mux.HandleFunc("GET /v1/sessions/{id}/snapshot", s.handleSnapshot)
	mux.HandleFunc("DELETE /v1/sessions/{id}", s.handleEndSession)
	mux.HandleFunc("POST /v1/apply", s.handleApply)

	s.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	return observe.Middleware(s.metrics)(mux)
}
