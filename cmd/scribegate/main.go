// Command scribegate is the main entry point for the Scribegate PHI
// redaction server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/scribegate/scribegate/internal/app"
	"github.com/scribegate/scribegate/internal/config"
	"github.com/scribegate/scribegate/internal/observe"
	"github.com/scribegate/scribegate/internal/redact"
	"github.com/scribegate/scribegate/internal/resilience"
	"github.com/scribegate/scribegate/pkg/provider/llm"
	"github.com/scribegate/scribegate/pkg/provider/llm/anyllm"
	"github.com/scribegate/scribegate/pkg/provider/llm/openai"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// .env is optional; environment overrides still apply without one.
	_ = godotenv.Load()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "scribegate: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "scribegate: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// The level var is shared with the config watcher so log_level changes
	// apply without a restart. Logs go to stderr: stdout belongs to the MCP
	// protocol when the stdio transport is enabled.
	levelVar := new(slog.LevelVar)
	levelVar.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar})))

	slog.Info("scribegate starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "scribegate",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Contextual detector (optional) ────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	detector, err := buildDetector(cfg, reg)
	if err != nil {
		slog.Error("failed to build contextual detector", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg, detector != nil)

	opts := []app.Option{
		app.WithLevelVar(levelVar),
		app.WithConfigPath(*configPath),
		app.WithVersion(version),
	}
	if detector != nil {
		opts = append(opts, app.WithDetector(detector))
	}
	application, err := app.New(ctx, cfg, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// builtinLLMProviders lists the backends linked into this binary. Used for
// startup logging; the offline switch additionally restricts the usable set
// to the local ones at config validation time.
var builtinLLMProviders = []string{
	"openai", "anthropic", "ollama", "gemini",
	"deepseek", "mistral", "groq", "llamacpp", "llamafile",
}

// registerBuiltinProviders wires all built-in LLM factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// openai gets the dedicated client; it supports org and base URL
	// overrides the generic adapter does not expose.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	// anthropic, gemini, deepseek, mistral, groq, llamacpp, llamafile all
	// share the same pattern: optional APIKey + optional BaseURL.
	for _, providerName := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.NewOllama(entry.Model, opts...)
	})

	for _, name := range builtinLLMProviders {
		slog.Debug("registered provider", "kind", "llm", "name", name)
	}
}

// buildDetector instantiates the contextual detector named in cfg, wrapped
// in a circuit breaker so a flapping backend degrades sessions instead of
// stalling them. Returns nil when the contextual lane is disabled.
func buildDetector(cfg *config.Config, reg *config.Registry) (redact.Detector, error) {
	if !cfg.Detector.Enabled {
		slog.Info("contextual detector disabled — running pattern-only")
		return nil, nil
	}

	name := cfg.Detector.Provider.Name
	provider, err := reg.CreateLLM(cfg.Detector.Provider)
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", name, err)
	}
	slog.Info("provider created", "kind", "llm", "name", name, "model", cfg.Detector.Provider.Model)

	breakerCfg := resilience.CircuitBreakerConfig{
		Name:        "contextual-detector",
		MaxFailures: cfg.SlowLane.FailureThreshold,
	}
	primary := redact.NewLLMDetector(provider)

	if len(cfg.Detector.Fallbacks) == 0 {
		return redact.NewBreakerDetector(primary, resilience.NewCircuitBreaker(breakerCfg)), nil
	}

	// With fallbacks configured, each backend gets its own breaker and the
	// group rotates to the next healthy one on failure.
	group := resilience.NewFallbackGroup[redact.Detector](primary, name,
		resilience.FallbackConfig{CircuitBreaker: breakerCfg})
	for _, entry := range cfg.Detector.Fallbacks {
		p, err := reg.CreateLLM(entry)
		if err != nil {
			return nil, fmt.Errorf("create fallback llm provider %q: %w", entry.Name, err)
		}
		slog.Info("provider created", "kind", "llm", "name", entry.Name, "model", entry.Model, "role", "fallback")
		group.AddFallback(entry.Name, redact.NewLLMDetector(p))
	}
	return redact.NewFallbackDetector(group), nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

// printStartupSummary goes to stderr with the rest of the logs: stdout is
// reserved for the MCP stdio transport.
func printStartupSummary(cfg *config.Config, detectorOn bool) {
	w := os.Stderr
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║        Scribegate — startup summary   ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	printRow(w, "Offline", onOff(cfg.Policy.OfflineEnabled()))
	printRow(w, "Redact egress", onOff(cfg.Policy.RedactEnabled()))
	if detectorOn {
		printRow(w, "Detector", cfg.Detector.Provider.Name+" / "+cfg.Detector.Provider.Model)
	} else {
		printRow(w, "Detector", "pattern-only")
	}
	if cfg.Audit.PostgresDSN != "" {
		printRow(w, "Audit ledger", "postgres")
	} else {
		printRow(w, "Audit ledger", "in-memory")
	}
	if cfg.MCP.Enabled {
		printRow(w, "MCP", string(cfg.MCP.Transport))
	} else {
		printRow(w, "MCP", "(disabled)")
	}
	printRow(w, "Listen addr", cfg.Server.ListenAddr)
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

func printRow(w *os.File, label, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Fprintf(w, "║  %-14s  : %-19s ║\n", label, value)
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
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
