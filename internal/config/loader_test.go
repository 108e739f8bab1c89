package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/scribegate/scribegate/internal/config"
)

func TestValidate_BadLogLevel(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(`
server:
  log_level: bananas
`))
	if err == nil || !strings.Contains(err.Error(), "log_level") {
		t.Fatalf("error = %v, want log_level validation failure", err)
	}
}

func TestValidate_IncompleteTLS(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(`
server:
  tls:
    cert_file: /etc/ssl/server.pem
`))
	if err == nil || !strings.Contains(err.Error(), "tls") {
		t.Fatalf("error = %v, want tls validation failure", err)
	}
}

func TestValidate_DetectorNeedsNameAndModel(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(`
detector:
  enabled: true
`))
	if err == nil || !strings.Contains(err.Error(), "detector.provider.name") {
		t.Fatalf("error = %v, want provider name failure", err)
	}

	_, err = config.LoadFromReader(strings.NewReader(`
detector:
  enabled: true
  provider:
    name: ollama
`))
	if err == nil || !strings.Contains(err.Error(), "detector.provider.model") {
		t.Fatalf("error = %v, want provider model failure", err)
	}
}

func TestValidate_DetectorFallbacksNeedNameAndModel(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(`
detector:
  enabled: true
  provider:
    name: ollama
    model: llama3.1:8b
  fallbacks:
    - base_url: http://localhost:8080
`))
	if err == nil || !strings.Contains(err.Error(), "detector.fallbacks[0].name") {
		t.Fatalf("error = %v, want fallback name failure", err)
	}
	if !strings.Contains(err.Error(), "detector.fallbacks[0].model") {
		t.Fatalf("error = %v, want fallback model failure", err)
	}
}

func TestValidate_MCPHTTPNeedsListenAddr(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(`
mcp:
  enabled: true
  transport: http
`))
	if err == nil || !strings.Contains(err.Error(), "mcp.listen_addr") {
		t.Fatalf("error = %v, want mcp listen_addr failure", err)
	}
}

func TestValidate_JoinsAllFailures(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(`
server:
  log_level: loud
detector:
  enabled: true
`))
	if err == nil {
		t.Fatal("expected validation failure")
	}
	msg := err.Error()
	if !strings.Contains(msg, "log_level") || !strings.Contains(msg, "detector.provider.name") {
		t.Errorf("joined error missing failures: %v", err)
	}
}

func TestLoad_FromFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("ListenAddr = %q", cfg.Server.ListenAddr)
	}
}

func TestLoad_ExampleConfig(t *testing.T) {
	t.Parallel()
	cfg, err := config.Load(filepath.Join("..", "..", "configs", "example.yaml"))
	if err != nil {
		t.Fatalf("example config must load: %v", err)
	}
	if !cfg.Policy.OfflineEnabled() {
		t.Error("example config ships with offline disabled")
	}
	if cfg.Detector.Enabled {
		t.Error("example config ships with the detector enabled")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

// Environment override tests use t.Setenv and therefore must not be parallel.

func TestEnvOverride_PolicySwitches(t *testing.T) {
	t.Setenv("SG_OFFLINE", "false")
	t.Setenv("SG_REDACT_BEFORE_SEND", "false")

	cfg, err := config.LoadFromReader(strings.NewReader(`
policy:
  offline: true
  redact_before_send: true
`))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Policy.OfflineEnabled() {
		t.Error("SG_OFFLINE=false did not override the file")
	}
	if cfg.Policy.RedactEnabled() {
		t.Error("SG_REDACT_BEFORE_SEND=false did not override the file")
	}
}

func TestEnvOverride_Secrets(t *testing.T) {
	t.Setenv("SG_DETECTOR_API_KEY", "sk-from-env")
	t.Setenv("SG_AUDIT_POSTGRES_DSN", "postgres://env/scribegate")
	t.Setenv("SG_LISTEN_ADDR", ":7777")

	cfg, err := config.LoadFromReader(strings.NewReader(`
detector:
  enabled: true
  provider:
    name: openai
    model: gpt-4o-mini
    api_key: sk-from-file
`))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Detector.Provider.APIKey != "sk-from-env" {
		t.Errorf("api key = %q, want env value", cfg.Detector.Provider.APIKey)
	}
	if cfg.Audit.PostgresDSN != "postgres://env/scribegate" {
		t.Errorf("dsn = %q, want env value", cfg.Audit.PostgresDSN)
	}
	if cfg.Server.ListenAddr != ":7777" {
		t.Errorf("listen addr = %q, want env value", cfg.Server.ListenAddr)
	}
}

func TestEnvOverride_MalformedBoolIgnored(t *testing.T) {
	t.Setenv("SG_OFFLINE", "definitely")

	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if !cfg.Policy.OfflineEnabled() {
		t.Error("malformed SG_OFFLINE changed the effective switch")
	}
}
