package redact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/scribegate/scribegate/internal/resilience"
	llm "github.com/scribegate/scribegate/pkg/provider/llm"
)

const (
	defaultDetectTemperature = 0.1

	// defaultDetectConfidence is assumed when the model omits a confidence
	// score or reports one outside (0, 1].
	defaultDetectConfidence = 0.9
)

// Finding is a single entity candidate reported by a contextual detector.
// Label is the detector's raw guess; the scan scheduler folds it onto the
// canonical label set via [LabelMapper] before indexing.
type Finding struct {
	// Label is the detector's label guess, unnormalised.
	Label string

	// Text is the exact span as it appears in the analysed text.
	Text string

	// Start and End are byte offsets into the analysed text.
	Start int
	End   int

	// Confidence is the detector's reported confidence (0.0–1.0].
	Confidence float64
}

// Detector finds identifying information that pattern rules cannot: names,
// street addresses, employers, and other spans that only read as identifying
// in their surrounding context.
//
// Implementations must be safe for concurrent use.
type Detector interface {
	// DetectEntities analyses text and returns every identifying span found.
	// A nil slice with a nil error means a clean pass with no findings.
	DetectEntities(ctx context.Context, text string) ([]Finding, error)
}

// detectPromptTemplate is the base system prompt. The canonical label list is
// formatted in at construction time.
const detectPromptTemplate = `You are a privacy analyst reviewing a live transcript for personally identifying information.

Your task: find every span of text that identifies a person, directly or through context.

Label each finding with exactly one of:
%s

Rules:
- Report names, contact details, identifiers, birth dates, ages, locations, employers, care facilities, and social media handles.
- Use the surrounding conversation to catch indirect identifiers that simple pattern matching would miss.
- "text" must be the exact span copied from the input, and "start"/"end" must be offsets such that input[start:end] equals "text".
- Report each distinct span once.
- Do NOT invent spans that are not present in the input.

Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{
  "entities": [
    {"label": "<label>", "text": "<exact span>", "start": <int>, "end": <int>, "confidence": <0.0-1.0>}
  ]
}

If the input contains no identifying information, return an empty entities array.`

// detectResponse is the expected JSON structure returned by the LLM.
type detectResponse struct {
	Entities []struct {
		Label      string  `json:"label"`
		Text       string  `json:"text"`
		Start      int     `json:"start"`
		End        int     `json:"end"`
		Confidence float64 `json:"confidence"`
	} `json:"entities"`
}

// LLMOption is a functional option for configuring an [LLMDetector].
type LLMOption func(*LLMDetector)

// WithTemperature sets the LLM sampling temperature. Lower values produce
// more deterministic extractions. Default: 0.1.
func WithTemperature(temp float64) LLMOption {
	return func(d *LLMDetector) {
		d.temperature = temp
	}
}

// WithMaxTokens caps the completion length. Zero (the default) leaves the
// limit to the provider.
func WithMaxTokens(n int) LLMOption {
	return func(d *LLMDetector) {
		d.maxTokens = n
	}
}

// LLMDetector uses an [llm.Provider] to find contextual identifiers in
// buffered transcript text. It is safe for concurrent use.
//
// Model selection follows the one-provider-per-model pattern: to use a
// specific model for detection, construct the [llm.Provider] with that model
// configured, rather than overriding per-request.
type LLMDetector struct {
	llm         llm.Provider
	prompt      string
	temperature float64
	maxTokens   int
}

// NewLLMDetector returns a new [LLMDetector] backed by the given
// [llm.Provider]. Apply [LLMOption] values to override the defaults.
func NewLLMDetector(provider llm.Provider, opts ...LLMOption) *LLMDetector {
	d := &LLMDetector{
		llm:         provider,
		prompt:      buildDetectPrompt(),
		temperature: defaultDetectTemperature,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// DetectEntities implements [Detector].
//
// When the LLM response is unparseable, DetectEntities returns a nil slice
// and a nil error (graceful degradation — the pass simply yields nothing and
// the pattern lane keeps covering the session). Context cancellation and
// network errors are returned as non-nil errors.
func (d *LLMDetector) DetectEntities(ctx context.Context, text string) ([]Finding, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	req := llm.CompletionRequest{
		SystemPrompt: d.prompt,
		Temperature:  d.temperature,
		MaxTokens:    d.maxTokens,
		Messages: []llm.Message{
			{Role: "user", Content: text},
		},
	}

	resp, err := d.llm.Complete(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("llm detector: complete: %w", err)
	}

	findings, parseErr := parseFindings(resp.Content, text)
	if parseErr != nil {
		// Unparseable response: treat as an empty pass, no error.
		return nil, nil //nolint:nilerr // intentional graceful fallback
	}

	return findings, nil
}

// buildDetectPrompt formats the system prompt template with the canonical
// label list.
func buildDetectPrompt() string {
	var sb strings.Builder
	for _, l := range Labels() {
		sb.WriteString("- ")
		sb.WriteString(string(l))
		sb.WriteByte('\n')
	}
	return fmt.Sprintf(detectPromptTemplate, sb.String())
}

// parseFindings unmarshals the LLM output into findings with verified
// offsets. Models frequently report character positions that drift from byte
// offsets, so each span is checked against the source text and relocated by
// substring search when the reported range does not match. Findings whose
// text cannot be located at all are dropped.
func parseFindings(content, source string) ([]Finding, error) {
	cleaned := stripMarkdown(content)

	var r detectResponse
	if err := json.Unmarshal([]byte(cleaned), &r); err != nil {
		return nil, fmt.Errorf("llm detector: parse response: %w", err)
	}

	findings := make([]Finding, 0, len(r.Entities))
	for _, e := range r.Entities {
		if e.Text == "" || e.Label == "" {
			continue
		}
		start, end, ok := locateSpan(source, e.Text, e.Start, e.End)
		if !ok {
			continue
		}
		conf := e.Confidence
		if conf <= 0 || conf > 1 {
			conf = defaultDetectConfidence
		}
		findings = append(findings, Finding{
			Label:      e.Label,
			Text:       e.Text,
			Start:      start,
			End:        end,
			Confidence: conf,
		})
	}
	return findings, nil
}

// locateSpan verifies that source[start:end] equals text, repairing the
// offsets via substring search when it does not.
func locateSpan(source, text string, start, end int) (int, int, bool) {
	if start >= 0 && end <= len(source) && start < end && source[start:end] == text {
		return start, end, true
	}
	idx := strings.Index(source, text)
	if idx < 0 {
		return 0, 0, false
	}
	return idx, idx + len(text), true
}

// stripMarkdown removes optional markdown code fences (```json ... ```) that
// some models prepend and append to JSON output.
func stripMarkdown(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}

// breakerDetector wraps a [Detector] with a circuit breaker so that a
// persistently failing backend is bypassed instead of being hammered on
// every scheduled pass.
type breakerDetector struct {
	inner   Detector
	breaker *resilience.CircuitBreaker
}

// NewBreakerDetector decorates inner with breaker. While the breaker is open,
// DetectEntities fails fast with [ErrDetectorUnavailable].
func NewBreakerDetector(inner Detector, breaker *resilience.CircuitBreaker) Detector {
	return &breakerDetector{inner: inner, breaker: breaker}
}

// DetectEntities implements [Detector].
func (b *breakerDetector) DetectEntities(ctx context.Context, text string) ([]Finding, error) {
	var findings []Finding
	err := b.breaker.Execute(func() error {
		var innerErr error
		findings, innerErr = b.inner.DetectEntities(ctx, text)
		return innerErr
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return nil, fmt.Errorf("%w: circuit open", ErrDetectorUnavailable)
	}
	if err != nil {
		return nil, err
	}
	return findings, nil
}

// fallbackDetector runs DetectEntities against a [resilience.FallbackGroup]
// of detectors: when the primary backend fails or its breaker is open, the
// next configured backend takes the pass.
type fallbackDetector struct {
	group *resilience.FallbackGroup[Detector]
}

// NewFallbackDetector wraps a fallback group of detectors. When every
// backend in the group fails, DetectEntities reports
// [ErrDetectorUnavailable] so the session degrades instead of erroring.
func NewFallbackDetector(group *resilience.FallbackGroup[Detector]) Detector {
	return &fallbackDetector{group: group}
}

// DetectEntities implements [Detector].
func (f *fallbackDetector) DetectEntities(ctx context.Context, text string) ([]Finding, error) {
	findings, err := resilience.ExecuteWithResult(f.group, func(d Detector) ([]Finding, error) {
		return d.DetectEntities(ctx, text)
	})
	if errors.Is(err, resilience.ErrAllFailed) {
		return nil, fmt.Errorf("%w: all backends failed", ErrDetectorUnavailable)
	}
	if err != nil {
		return nil, err
	}
	return findings, nil
}

// Ensure implementations satisfy Detector at compile time.
var (
	_ Detector = (*LLMDetector)(nil)
	_ Detector = (*breakerDetector)(nil)
	_ Detector = (*fallbackDetector)(nil)
)
