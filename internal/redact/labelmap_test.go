package redact_test

import (
	"testing"

	"github.com/scribegate/scribegate/internal/redact"
)

func TestLabelMapper_ExactAndNormalized(t *testing.T) {
	t.Parallel()
	m := redact.NewLabelMapper()

	tests := []struct {
		guess string
		want  redact.Label
	}{
		{"person", redact.LabelPerson},
		{"PERSON", redact.LabelPerson},
		{"Date-Of-Birth", redact.LabelDateOfBirth},
		{"date_of_birth", redact.LabelDateOfBirth},
		{"  phone  ", redact.LabelPhone},
	}
	for _, tc := range tests {
		got, ok := m.Map(tc.guess)
		if !ok || got != tc.want {
			t.Errorf("Map(%q) = %q, %v; want %q, true", tc.guess, got, ok, tc.want)
		}
	}
}

func TestLabelMapper_Aliases(t *testing.T) {
	t.Parallel()
	m := redact.NewLabelMapper()

	tests := []struct {
		guess string
		want  redact.Label
	}{
		{"PER", redact.LabelPerson},
		{"ORG", redact.LabelOrganization},
		{"GPE", redact.LabelAddress},
		{"LOC", redact.LabelAddress},
		{"DATE", redact.LabelDateOfBirth},
		{"CARDINAL", redact.LabelAge},
		{"FAC", redact.LabelInstitution},
		{"SSN", redact.LabelNationalID},
		{"social security number", redact.LabelNationalID},
		{"MRN", redact.LabelRecordNumber},
		{"phone number", redact.LabelPhone},
		{"E-Mail", redact.LabelEmail},
		{"username", redact.LabelHandle},
	}
	for _, tc := range tests {
		got, ok := m.Map(tc.guess)
		if !ok || got != tc.want {
			t.Errorf("Map(%q) = %q, %v; want %q, true", tc.guess, got, ok, tc.want)
		}
	}
}

func TestLabelMapper_FuzzyFold(t *testing.T) {
	t.Parallel()
	m := redact.NewLabelMapper()

	// Near-miss typos should still land on the right label.
	tests := []struct {
		guess string
		want  redact.Label
	}{
		{"persn", redact.LabelPerson},
		{"emial", redact.LabelEmail},
		{"organizaton", redact.LabelOrganization},
	}
	for _, tc := range tests {
		got, ok := m.Map(tc.guess)
		if !ok || got != tc.want {
			t.Errorf("Map(%q) = %q, %v; want %q, true", tc.guess, got, ok, tc.want)
		}
	}
}

func TestLabelMapper_UnmappableDropped(t *testing.T) {
	t.Parallel()
	m := redact.NewLabelMapper()

	for _, guess := range []string{"", "   ", "NORP", "EVENT", "xyzzy", "work of art"} {
		if got, ok := m.Map(guess); ok {
			t.Errorf("Map(%q) = %q, true; want unmapped", guess, got)
		}
	}
}

func TestLabelMapper_ThresholdOption(t *testing.T) {
	t.Parallel()
	strict := redact.NewLabelMapper(redact.WithFuzzyThreshold(0.999))

	if got, ok := strict.Map("persn"); ok {
		t.Errorf("strict Map(persn) = %q, true; want unmapped at threshold 0.999", got)
	}
	// Exact names still resolve regardless of threshold.
	if _, ok := strict.Map("person"); !ok {
		t.Error("strict Map(person) failed; exact matches must not be affected")
	}
}
