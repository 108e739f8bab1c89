package redact

import (
	"log/slog"
	"regexp"
	"sort"
)

// patternRule is one fast-lane detection rule. Rules use Go's RE2
// engine, so matching is linear in the input and a hostile chunk cannot
// stall the ingest path with backtracking.
type patternRule struct {
	label      Label
	re         *regexp.Regexp
	confidence float64
}

// defaultRules is the built-in rule table. Well-formed shapes carry
// higher confidence than loose ones; everything here is a proposal for
// the reviewer, so the table leans towards over-matching.
var defaultRules = []patternRule{
	{LabelPhone, regexp.MustCompile(`(?i)\b(?:\+?1[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`), 0.80},
	{LabelPhone, regexp.MustCompile(`\b\d{3}-\d{3}-\d{4}\b`), 0.80},
	{LabelPhone, regexp.MustCompile(`\b\d{10}\b`), 0.70},
	{LabelEmail, regexp.MustCompile(`(?i)\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`), 0.95},
	{LabelNationalID, regexp.MustCompile(`\b\d{3}[-.\s]?\d{2}[-.\s]?\d{4}\b`), 0.85},
	{LabelNationalID, regexp.MustCompile(`\b\d{9}\b`), 0.70},
	{LabelDateOfBirth, regexp.MustCompile(`\b\d{1,2}[/\-]\d{1,2}[/\-]\d{4}\b`), 0.80},
	{LabelDateOfBirth, regexp.MustCompile(`\b\d{4}[/\-]\d{1,2}[/\-]\d{1,2}\b`), 0.80},
	{LabelAge, regexp.MustCompile(`(?i)\b(?:age|aged?)\s+\d{1,3}\b`), 0.75},
	{LabelAge, regexp.MustCompile(`(?i)\b\d{1,3}\s*(?:years?\s*old|y\.?o\.?)\b`), 0.75},
	{LabelAddress, regexp.MustCompile(`(?i)\b\d+\s+[A-Za-z\s]+(?:Street|St|Avenue|Ave|Road|Rd|Drive|Dr|Lane|Ln|Boulevard|Blvd|Court|Ct)\b`), 0.75},
	{LabelAddress, regexp.MustCompile(`\b\d{5}(?:-\d{4})?\b`), 0.70},
	{LabelRecordNumber, regexp.MustCompile(`(?i)\b(?:MRN|medical\s+record)\s*:?\s*[A-Z0-9]+\b`), 0.85},
	{LabelRecordNumber, regexp.MustCompile(`(?i)\b[A-Z]{2,}\d{4,}\b`), 0.70},
}

// defaultMaxChunkLen is the per-chunk scan budget in bytes. Chunks over
// the budget are not scanned: the fast lane must never stall ingestion,
// and a transcript fragment this large is garbage input anyway.
const defaultMaxChunkLen = 64 << 10

// PatternScanner is the fast detection lane. It runs synchronously on
// the ingest path, applying the rule table to one chunk at a time and
// mapping matches into buffer offsets.
//
// A PatternScanner is immutable after construction and safe for
// concurrent use by any number of sessions.
type PatternScanner struct {
	rules       []patternRule
	maxChunkLen int
}

// PatternOption configures a PatternScanner.
type PatternOption func(*PatternScanner)

// WithMaxChunkLen overrides the per-chunk scan budget in bytes.
func WithMaxChunkLen(n int) PatternOption {
	return func(s *PatternScanner) {
		if n > 0 {
			s.maxChunkLen = n
		}
	}
}

// NewPatternScanner returns a scanner with the built-in rule table.
func NewPatternScanner(opts ...PatternOption) *PatternScanner {
	s := &PatternScanner{
		rules:       defaultRules,
		maxChunkLen: defaultMaxChunkLen,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scan applies every rule to the chunk text and returns the surviving
// findings with offsets rebased into the session buffer (chunk-local
// offset + base). Findings that intersect are resolved before returning,
// so the result is pairwise non-overlapping and ordered by start.
//
// Scan is deterministic apart from the generated entity IDs: the same
// chunk always yields the same spans, labels and confidences.
func (s *PatternScanner) Scan(chunk Chunk, base int) []Entity {
	if len(chunk.Text) > s.maxChunkLen {
		slog.Warn("fast lane: chunk exceeds scan budget, skipping",
			"session_id", chunk.SessionID,
			"chunk_id", chunk.ID,
			"bytes", len(chunk.Text),
		)
		return nil
	}

	var found []Entity
	for _, rule := range s.rules {
		for _, loc := range rule.re.FindAllStringIndex(chunk.Text, -1) {
			start, end := loc[0], loc[1]
			found = append(found, Entity{
				ID:         newEntityID(),
				Label:      rule.label,
				Text:       chunk.Text[start:end],
				Start:      base + start,
				End:        base + end,
				Confidence: rule.confidence,
				Method:     MethodPattern,
				Contexts: []Context{{
					ChunkID:     chunk.ID,
					Surrounding: surroundingWindow(chunk.Text, start, end),
					Channel:     chunk.Channel,
					T0:          chunk.T0,
					T1:          chunk.T1,
				}},
			})
		}
	}
	return resolveOverlaps(found)
}

// resolveOverlaps drops the weaker of any two intersecting findings from
// a single scan. Stronger means higher label precedence, then higher
// confidence, then earlier start. Survivors come back ordered by start.
func resolveOverlaps(found []Entity) []Entity {
	if len(found) < 2 {
		return found
	}

	ranked := make([]Entity, len(found))
	copy(ranked, found)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Label.Precedence() != b.Label.Precedence() {
			return a.Label.Precedence() > b.Label.Precedence()
		}
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		return a.Start < b.Start
	})

	kept := ranked[:0:0]
	for _, cand := range ranked {
		clear := true
		for _, k := range kept {
			if cand.Overlaps(k) {
				clear = false
				break
			}
		}
		if clear {
			kept = append(kept, cand)
		}
	}

	sort.Slice(kept, func(i, j int) bool { return kept[i].Start < kept[j].Start })
	return kept
}
