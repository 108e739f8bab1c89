package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strconv"

	"gopkg.in/yaml.v3"
)

// envPrefix is the prefix for environment overrides.
const envPrefix = "SG_"

// ValidLLMProviders lists known detector backend names. Used by [Validate]
// to warn about unrecognised provider names.
var ValidLLMProviders = []string{
	"ollama", "llamacpp", "llamafile",
	"openai", "anthropic", "gemini", "deepseek", "mistral", "groq",
}

// localLLMProviders are the backends that keep transcript text on the
// machine. Everything else ships the buffer to a hosted API.
var localLLMProviders = []string{"ollama", "llamacpp", "llamafile"}

// Load reads the YAML configuration file at path, applies SG_* environment
// overrides, and returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and SG_*
// environment overrides, and validates the result. Useful in tests where
// configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyEnvOverrides(cfg)
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides maps SG_* environment variables onto cfg. Environment
// wins over the file: these are the switches and secrets an operator sets
// per deployment without editing YAML.
func applyEnvOverrides(cfg *Config) {
	if v, ok := lookup("LISTEN_ADDR"); ok {
		cfg.Server.ListenAddr = v
	}
	if v, ok := lookup("LOG_LEVEL"); ok {
		cfg.Server.LogLevel = LogLevel(v)
	}
	if v, ok := lookupBool("OFFLINE"); ok {
		cfg.Policy.Offline = &v
	}
	if v, ok := lookupBool("REDACT_BEFORE_SEND"); ok {
		cfg.Policy.RedactBeforeSend = &v
	}
	if v, ok := lookup("DETECTOR_API_KEY"); ok {
		cfg.Detector.Provider.APIKey = v
	}
	if v, ok := lookup("DETECTOR_BASE_URL"); ok {
		cfg.Detector.Provider.BaseURL = v
	}
	if v, ok := lookup("AUDIT_POSTGRES_DSN"); ok {
		cfg.Audit.PostgresDSN = v
	}
}

func lookup(key string) (string, bool) {
	return os.LookupEnv(envPrefix + key)
}

func lookupBool(key string) (bool, bool) {
	raw, ok := lookup(key)
	if !ok {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		slog.Warn("ignoring non-boolean environment override",
			"key", envPrefix+key,
			"value", raw,
		)
		return false, false
	}
	return v, true
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil {
		if tls.CertFile == "" || tls.KeyFile == "" {
			errs = append(errs, fmt.Errorf("server.tls requires both cert_file and key_file"))
		}
	}

	// Slow lane
	if cfg.SlowLane.Interval < 0 {
		errs = append(errs, fmt.Errorf("slow_lane.interval must not be negative"))
	}
	if cfg.SlowLane.Timeout < 0 {
		errs = append(errs, fmt.Errorf("slow_lane.timeout must not be negative"))
	}
	if cfg.SlowLane.MinChars < 0 {
		errs = append(errs, fmt.Errorf("slow_lane.min_chars must not be negative"))
	}
	if cfg.SlowLane.FailureThreshold < 0 {
		errs = append(errs, fmt.Errorf("slow_lane.failure_threshold must not be negative"))
	}

	// Detector
	if cfg.Detector.Enabled {
		name := cfg.Detector.Provider.Name
		if name == "" {
			errs = append(errs, fmt.Errorf("detector.provider.name is required when the detector is enabled"))
		} else if !slices.Contains(ValidLLMProviders, name) {
			slog.Warn("unknown detector provider name — may be a typo or third-party provider",
				"name", name,
				"known", ValidLLMProviders,
			)
		}
		if name != "" && cfg.Detector.Provider.Model == "" {
			errs = append(errs, fmt.Errorf("detector.provider.model is required when the detector is enabled"))
		}

		for i, fb := range cfg.Detector.Fallbacks {
			if fb.Name == "" {
				errs = append(errs, fmt.Errorf("detector.fallbacks[%d].name is required", i))
			}
			if fb.Model == "" {
				errs = append(errs, fmt.Errorf("detector.fallbacks[%d].model is required", i))
			}
		}

		// A remote detector backend ships buffer text to a hosted API; with
		// the offline switch set that is almost certainly a misconfiguration.
		if cfg.Policy.OfflineEnabled() {
			for _, entry := range append([]ProviderEntry{cfg.Detector.Provider}, cfg.Detector.Fallbacks...) {
				if entry.Name != "" && !slices.Contains(localLLMProviders, entry.Name) {
					slog.Warn("offline mode is set but a detector provider is remote; transcript text would leave the machine",
						"provider", entry.Name,
					)
				}
			}
		}
	}

	// Policy
	if !cfg.Policy.RedactEnabled() {
		slog.Warn("redact_before_send is disabled; the egress gate is a configured passthrough")
	}

	// MCP
	if cfg.MCP.Enabled {
		if cfg.MCP.Transport != "" && !cfg.MCP.Transport.IsValid() {
			errs = append(errs, fmt.Errorf("mcp.transport %q is invalid; valid values: stdio, http", cfg.MCP.Transport))
		}
		if cfg.MCP.Transport == MCPTransportHTTP && cfg.MCP.ListenAddr == "" {
			errs = append(errs, fmt.Errorf("mcp.listen_addr is required when mcp.transport is http"))
		}
	}

	return errors.Join(errs...)
}
