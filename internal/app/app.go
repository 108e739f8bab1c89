// Package app wires all Scribegate subsystems into a running service.
//
// New creates and connects everything: the audit ledger behind its
// guard, the policy store and gate, the session manager, the HTTP
// server, and optionally the MCP tool server and the config watcher.
// Run serves until the context is cancelled; Shutdown tears the
// subsystems down in reverse order.
//
// For testing, inject doubles via functional options (WithLedger,
// WithDetector, WithMetrics). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/scribegate/scribegate/internal/audit"
	auditpg "github.com/scribegate/scribegate/internal/audit/postgres"
	"github.com/scribegate/scribegate/internal/config"
	"github.com/scribegate/scribegate/internal/health"
	mcpserver "github.com/scribegate/scribegate/internal/mcp"
	"github.com/scribegate/scribegate/internal/observe"
	"github.com/scribegate/scribegate/internal/policy"
	"github.com/scribegate/scribegate/internal/redact"
	"github.com/scribegate/scribegate/internal/server"
)

// shutdownTimeout bounds the HTTP server drain during Run teardown.
const shutdownTimeout = 10 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg     *config.Config
	metrics *observe.Metrics

	sessions *SessionManager
	store    *policy.Store
	guard    *audit.Guard
	releaser *auditingReleaser
	httpSrv  *http.Server
	mcpSrv   *mcpserver.Server
	watcher  *config.Watcher

	// Injected via options.
	detector   redact.Detector
	ledger     audit.Ledger
	levelVar   *slog.LevelVar
	configPath string
	version    string

	// closers are called in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithDetector injects the contextual detector handed to every session.
// Without one, sessions run fast-lane-only and report degraded.
func WithDetector(d redact.Detector) Option {
	return func(a *App) { a.detector = d }
}

// WithLedger injects an audit ledger instead of creating one from config.
func WithLedger(l audit.Ledger) Option {
	return func(a *App) { a.ledger = l }
}

// WithMetrics injects a metrics set instead of the package default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLevelVar hands over the slog level var so log-level changes from
// the config watcher take effect at runtime.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.levelVar = v }
}

// WithConfigPath enables the polling config watcher on the given file.
func WithConfigPath(path string) Option {
	return func(a *App) { a.configPath = path }
}

// WithVersion sets the version string reported in the MCP handshake.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// New creates an App by wiring all subsystems together.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Audit ledger behind its guard ────────────────────────────────
	if err := a.initLedger(ctx); err != nil {
		return nil, fmt.Errorf("app: init ledger: %w", err)
	}

	// ── 2. Policy store ─────────────────────────────────────────────────
	a.store = policy.NewStore(policy.Switches{
		Offline:          cfg.Policy.OfflineEnabled(),
		RedactBeforeSend: cfg.Policy.RedactEnabled(),
	})

	// ── 3. Session manager ──────────────────────────────────────────────
	a.sessions = NewSessionManager(SessionManagerConfig{
		Detector: a.detector,
		SlowLane: redact.SlowLaneConfig{
			Interval:         cfg.SlowLane.Interval.Std(),
			MinChars:         cfg.SlowLane.MinChars,
			Timeout:          cfg.SlowLane.Timeout.Std(),
			FailureThreshold: cfg.SlowLane.FailureThreshold,
		},
		Metrics: a.metrics,
		Ledger:  a.guard,
	})

	// ── 4. Policy gate with audit decoration ────────────────────────────
	gate := policy.NewGate(a.sessions, a.store, a.metrics)
	a.releaser = &auditingReleaser{gate: gate, ledger: a.guard}

	// ── 5. HTTP server ──────────────────────────────────────────────────
	h := health.New().WithDegraded(func() bool {
		return a.guard.IsDegraded() || a.sessions.AnyDegraded()
	})
	srv := server.New(server.Config{
		Sessions: a.sessions,
		Releaser: a.releaser,
		Health:   h,
		Metrics:  a.metrics,
		Ledger:   a.guard,
	})
	a.httpSrv = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ── 6. MCP tool server (optional) ───────────────────────────────────
	if cfg.MCP.Enabled {
		a.mcpSrv = mcpserver.New(a.sessions, a.releaser, a.version)
	}

	// ── 7. Config watcher (optional) ────────────────────────────────────
	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, a.applyConfigChange)
		if err != nil {
			return nil, fmt.Errorf("app: start config watcher: %w", err)
		}
		a.watcher = w
		a.closers = append(a.closers, func() error {
			w.Stop()
			return nil
		})
	}

	return a, nil
}

// initLedger sets up the audit ledger: injected, PostgreSQL from config,
// or in-memory. The guard wraps whichever is chosen so ledger failures
// degrade the trail instead of blocking requests.
func (a *App) initLedger(ctx context.Context) error {
	if a.ledger == nil {
		if dsn := a.cfg.Audit.PostgresDSN; dsn != "" {
			pg, err := auditpg.NewLedger(ctx, dsn)
			if err != nil {
				return err
			}
			a.ledger = pg
			a.closers = append(a.closers, func() error {
				pg.Close()
				return nil
			})
		} else {
			a.ledger = audit.NewMemLedger()
			slog.Info("audit ledger is in-memory; events do not survive restarts")
		}
	}
	a.guard = audit.NewGuard(a.ledger)
	return nil
}

// Sessions exposes the session manager, mainly for tests.
func (a *App) Sessions() *SessionManager {
	return a.sessions
}

// PolicyStore exposes the live policy switches, mainly for tests.
func (a *App) PolicyStore() *policy.Store {
	return a.store
}

// Run serves until ctx is cancelled, then drains and returns. HTTP always
// runs; the MCP server runs when enabled, on stdio or its own listener.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("http server listening", "addr", a.httpSrv.Addr)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.httpSrv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = a.httpSrv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		shCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.httpSrv.Shutdown(shCtx)
	})

	if a.mcpSrv != nil {
		switch a.cfg.MCP.Transport {
		case config.MCPTransportStdio:
			g.Go(func() error {
				slog.Info("mcp server on stdio")
				err := a.mcpSrv.RunStdio(gctx)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		case config.MCPTransportHTTP:
			mcpHTTP := &http.Server{
				Addr:              a.cfg.MCP.ListenAddr,
				Handler:           a.mcpSrv.HTTPHandler(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			g.Go(func() error {
				slog.Info("mcp server listening", "addr", mcpHTTP.Addr)
				err := mcpHTTP.ListenAndServe()
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			})
			g.Go(func() error {
				<-gctx.Done()
				shCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				return mcpHTTP.Shutdown(shCtx)
			})
		}
	}

	err := g.Wait()
	a.Shutdown(context.Background())
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// applyConfigChange reacts to a config reload. Only the policy switches
// and the log level hot-reload; everything else requires a restart.
func (a *App) applyConfigChange(old, new *config.Config) {
	d := config.Diff(old, new)

	if d.LogLevelChanged && a.levelVar != nil {
		a.levelVar.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level reloaded", "level", string(d.NewLogLevel))
	}
	if d.PolicyChanged {
		a.store.Update(policy.Switches{
			Offline:          d.NewOffline,
			RedactBeforeSend: d.NewRedactBeforeSend,
		})
		slog.Info("policy switches reloaded",
			"offline", d.NewOffline,
			"redact_before_send", d.NewRedactBeforeSend,
		)
	}
}

// Shutdown tears down all subsystems in reverse-init order. Respects the
// context deadline: remaining closers are skipped when ctx expires.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers), "sessions", a.sessions.Count())

		a.sessions.CloseAll(ctx)

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// slogLevel maps a config log level onto its slog value.
func slogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// auditingReleaser decorates the policy gate with ledger events: one per
// successful release, one per offline refusal. Counts and IDs only.
type auditingReleaser struct {
	gate   *policy.Gate
	ledger audit.Ledger
}

func (r *auditingReleaser) Release(ctx context.Context, snapshotID string, acceptedIDs []string) (*policy.Result, error) {
	res, err := r.gate.Release(ctx, snapshotID, acceptedIDs)
	switch {
	case err == nil:
		_ = r.ledger.Record(ctx, audit.Event{
			Kind:          audit.KindApplyPerformed,
			SessionID:     res.SessionID,
			SnapshotID:    res.SnapshotID,
			AcceptedCount: res.AcceptedCount,
			EntityCount:   res.TotalEntities,
		})
	case errors.Is(err, policy.ErrOffline):
		// Refused before the snapshot resolves, so no session ID is known.
		_ = r.ledger.Record(ctx, audit.Event{
			Kind:       audit.KindEgressRefused,
			SnapshotID: snapshotID,
			Reason:     "offline",
		})
	}
	return res, err
}
