package anyllm

import (
	"strings"
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/scribegate/scribegate/pkg/provider/llm"
)

// ── construction ──────────────────────────────────────────────────────────────

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	if _, err := New("", "llama3.1:8b"); err == nil {
		t.Error("empty provider name accepted")
	}
	if _, err := New("ollama", ""); err == nil {
		t.Error("empty model accepted")
	}
}

func TestNew_UnsupportedProvider(t *testing.T) {
	t.Parallel()
	_, err := New("carrier-pigeon", "v1")
	if err == nil {
		t.Fatal("expected error for unsupported provider")
	}
	if !strings.Contains(err.Error(), "unsupported provider") {
		t.Errorf("error = %v, want unsupported-provider message", err)
	}
}

func TestNewOllama(t *testing.T) {
	t.Parallel()
	p, err := NewOllama("llama3.1:8b")
	if err != nil {
		t.Fatalf("NewOllama: %v", err)
	}
	if p.model != "llama3.1:8b" {
		t.Errorf("model = %q", p.model)
	}
}

// ── request building ──────────────────────────────────────────────────────────

func TestBuildParams(t *testing.T) {
	t.Parallel()
	p, err := NewLlamaCpp("qwen2.5:7b")
	if err != nil {
		t.Fatalf("NewLlamaCpp: %v", err)
	}

	params := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "analyse",
		Temperature:  0.1,
		MaxTokens:    512,
		Messages: []llm.Message{
			{Role: "user", Content: "input", Name: "alice"},
		},
	})

	if params.Model != "qwen2.5:7b" {
		t.Errorf("Model = %q", params.Model)
	}
	if len(params.Messages) != 2 {
		t.Fatalf("messages = %d, want 2 (system prompt + user)", len(params.Messages))
	}
	if params.Messages[0].Role != anyllmlib.RoleSystem || params.Messages[0].Content != "analyse" {
		t.Errorf("system message = %+v", params.Messages[0])
	}
	if params.Messages[1].Role != "user" || params.Messages[1].Name != "alice" {
		t.Errorf("user message = %+v", params.Messages[1])
	}
	if params.Temperature == nil || *params.Temperature != 0.1 {
		t.Error("temperature not set")
	}
	if params.MaxTokens == nil || *params.MaxTokens != 512 {
		t.Error("max tokens not set")
	}
}

func TestBuildParams_ZeroKnobsLeftUnset(t *testing.T) {
	t.Parallel()
	p, err := NewOllama("llama3.1:8b")
	if err != nil {
		t.Fatalf("NewOllama: %v", err)
	}

	params := p.buildParams(llm.CompletionRequest{
		Messages: []llm.Message{{Role: "user", Content: "input"}},
	})
	if params.Temperature != nil {
		t.Error("zero temperature should stay unset")
	}
	if params.MaxTokens != nil {
		t.Error("zero max tokens should stay unset")
	}
}

// ── token counting ────────────────────────────────────────────────────────────

func TestCountTokens_Approximation(t *testing.T) {
	t.Parallel()
	p, err := NewOllama("llama3.1:8b")
	if err != nil {
		t.Fatalf("NewOllama: %v", err)
	}

	n, err := p.CountTokens([]llm.Message{
		{Role: "user", Content: "twelve chars"},
		{Role: "assistant", Content: "ok"},
	})
	if err != nil {
		t.Fatalf("CountTokens: %v", err)
	}
	// (12+3)/4 + 4 = 7, (2+3)/4 + 4 = 5.
	if n != 12 {
		t.Errorf("CountTokens = %d, want 12", n)
	}
}

// ── capabilities ──────────────────────────────────────────────────────────────

func TestModelCapabilities(t *testing.T) {
	t.Parallel()
	tests := []struct {
		model  string
		window int
		tools  bool
	}{
		{"llama3.1:8b", 128_000, true},
		{"qwen2.5:7b", 32_768, true},
		{"mistral:7b", 32_768, true},
		{"phi3:mini", 16_384, false},
		{"gemma2:9b", 8_192, false},
		{"gpt-4o-mini", 128_000, true},
		{"claude-sonnet-4", 200_000, true},
		{"unknown-model", 128_000, true},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			t.Parallel()
			caps := modelCapabilities(tt.model)
			if caps.ContextWindow != tt.window {
				t.Errorf("ContextWindow = %d, want %d", caps.ContextWindow, tt.window)
			}
			if caps.SupportsToolCalling != tt.tools {
				t.Errorf("SupportsToolCalling = %v, want %v", caps.SupportsToolCalling, tt.tools)
			}
		})
	}
}
