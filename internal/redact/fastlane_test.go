package redact_test

import (
	"strings"
	"testing"

	"github.com/scribegate/scribegate/internal/redact"
)

// scanText runs the default scanner over a single chunk at the given base
// offset.
func scanText(text string, base int) []redact.Entity {
	s := redact.NewPatternScanner()
	c := chunkAt(text, 0)
	c.Text = text
	return s.Scan(c, base)
}

func findLabel(entities []redact.Entity, label redact.Label) (redact.Entity, bool) {
	for _, e := range entities {
		if e.Label == label {
			return e, true
		}
	}
	return redact.Entity{}, false
}

func TestPatternScanner_DetectsStructuredFormats(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		text  string
		label redact.Label
		want  string
	}{
		{"dashed phone", "call me at 555-123-4567 today", redact.LabelPhone, "555-123-4567"},
		{"parenthesised phone", "reach (555) 123-4567 anytime", redact.LabelPhone, "(555) 123-4567"},
		{"email", "send it to jane.doe@example.org please", redact.LabelEmail, "jane.doe@example.org"},
		{"ssn shape", "ssn is 123-45-6789 on file", redact.LabelNationalID, "123-45-6789"},
		{"dob slash", "born 03/14/1980 in spring", redact.LabelDateOfBirth, "03/14/1980"},
		{"age phrase", "patient is 42 years old now", redact.LabelAge, "42 years old"},
		{"street address", "lives at 12 Elm Street nearby", redact.LabelAddress, "12 Elm Street"},
		{"mrn", "MRN: A12345 noted", redact.LabelRecordNumber, "MRN: A12345"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, ok := findLabel(scanText(tc.text, 0), tc.label)
			if !ok {
				t.Fatalf("no %s entity found in %q", tc.label, tc.text)
			}
			if got.Text != tc.want {
				t.Errorf("matched %q, want %q", got.Text, tc.want)
			}
			if got.Method != redact.MethodPattern {
				t.Errorf("method = %q, want pattern", got.Method)
			}
		})
	}
}

func TestPatternScanner_RebasesOffsets(t *testing.T) {
	t.Parallel()
	const base = 1000
	text := "number 555-123-4567 here"

	entities := scanText(text, base)
	e, ok := findLabel(entities, redact.LabelPhone)
	if !ok {
		t.Fatal("no phone entity found")
	}
	if want := base + strings.Index(text, "555"); e.Start != want {
		t.Errorf("Start = %d, want %d", e.Start, want)
	}
	if e.End != e.Start+len("555-123-4567") {
		t.Errorf("End = %d, want %d", e.End, e.Start+len("555-123-4567"))
	}
}

func TestPatternScanner_FixedConfidences(t *testing.T) {
	t.Parallel()
	if e, ok := findLabel(scanText("mail bob@example.com now", 0), redact.LabelEmail); !ok || e.Confidence != 0.95 {
		t.Errorf("email confidence = %v (found=%v), want 0.95", e.Confidence, ok)
	}
	if e, ok := findLabel(scanText("dial 555-123-4567 now", 0), redact.LabelPhone); !ok || e.Confidence != 0.80 {
		t.Errorf("phone confidence = %v (found=%v), want 0.80", e.Confidence, ok)
	}
}

func TestPatternScanner_ResultIsNonOverlapping(t *testing.T) {
	t.Parallel()
	// A dashed phone number matches both phone rules over the same span;
	// the scan must resolve the overlap before returning.
	entities := scanText("call 555-123-4567 or write to 90210", 0)
	for i := range entities {
		for j := i + 1; j < len(entities); j++ {
			if entities[i].Overlaps(entities[j]) {
				t.Fatalf("entities %d and %d overlap: [%d,%d) vs [%d,%d)",
					i, j, entities[i].Start, entities[i].End, entities[j].Start, entities[j].End)
			}
		}
	}
	if _, ok := findLabel(entities, redact.LabelPhone); !ok {
		t.Error("phone entity missing after overlap resolution")
	}
}

func TestPatternScanner_SkipsOversizeChunk(t *testing.T) {
	t.Parallel()
	s := redact.NewPatternScanner(redact.WithMaxChunkLen(64))
	c := chunkAt(strings.Repeat("a 555-123-4567 ", 100), 0)

	if got := s.Scan(c, 0); got != nil {
		t.Errorf("oversize chunk returned %d entities, want none", len(got))
	}
}

func TestPatternScanner_DegenerateInputYieldsNothing(t *testing.T) {
	t.Parallel()
	// A long delimiter-free run must complete and produce no findings.
	c := chunkAt(strings.Repeat("x", 32<<10), 0)
	if got := redact.NewPatternScanner().Scan(c, 0); len(got) != 0 {
		t.Errorf("degenerate chunk returned %d entities, want 0", len(got))
	}
}

func TestPatternScanner_CleanTextYieldsNothing(t *testing.T) {
	t.Parallel()
	if got := scanText("we talked about coping strategies for a while", 0); len(got) != 0 {
		t.Errorf("clean text returned %d entities, want 0", len(got))
	}
}
