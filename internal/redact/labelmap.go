package redact

import (
	"sort"
	"strings"

	"github.com/antzucaro/matchr"
)

// defaultFuzzyThreshold is the minimum Jaro-Winkler similarity for the
// fuzzy pass. Below it a guess stays unmapped rather than landing on a
// wrong label.
const defaultFuzzyThreshold = 0.85

// LabelMapper folds free-text label guesses from the contextual detector
// onto the closed label set. Resolution order: exact match after
// normalization, then an alias table of tags upstream models actually
// emit, then Jaro-Winkler similarity against every known name. A guess
// that clears none of the three is unmapped; callers count those and
// drop the finding without surfacing it.
//
// A LabelMapper is read-only after construction and safe for concurrent
// use across sessions.
type LabelMapper struct {
	byName    map[string]Label
	names     []string
	threshold float64
}

// LabelMapOption configures a LabelMapper.
type LabelMapOption func(*LabelMapper)

// WithFuzzyThreshold overrides the minimum similarity for fuzzy folding.
func WithFuzzyThreshold(t float64) LabelMapOption {
	return func(m *LabelMapper) {
		if t > 0 && t <= 1 {
			m.threshold = t
		}
	}
}

// NewLabelMapper returns a mapper over the closed label set.
func NewLabelMapper(opts ...LabelMapOption) *LabelMapper {
	m := &LabelMapper{
		byName:    make(map[string]Label),
		threshold: defaultFuzzyThreshold,
	}
	for _, l := range Labels() {
		m.byName[string(l)] = l
	}
	for alias, l := range labelAliases {
		m.byName[alias] = l
	}
	m.names = make([]string, 0, len(m.byName))
	for name := range m.byName {
		m.names = append(m.names, name)
	}
	// Deterministic iteration keeps fuzzy tie-breaks stable.
	sort.Strings(m.names)

	for _, opt := range opts {
		opt(m)
	}
	return m
}

// labelAliases maps normalized tag names seen from NER models and LLM
// output onto the closed set. Tags with no safe destination (e.g. NORP,
// EVENT) are deliberately absent so they fall through as unmapped.
var labelAliases = map[string]Label{
	"per":                    LabelPerson,
	"name":                   LabelPerson,
	"patient":                LabelPerson,
	"patient-name":           LabelPerson,
	"doctor":                 LabelPerson,
	"clinician":              LabelPerson,
	"provider":               LabelPerson,
	"org":                    LabelOrganization,
	"company":                LabelOrganization,
	"employer":               LabelOrganization,
	"gpe":                    LabelAddress,
	"loc":                    LabelAddress,
	"location":               LabelAddress,
	"city":                   LabelAddress,
	"street":                 LabelAddress,
	"street-address":         LabelAddress,
	"zip":                    LabelAddress,
	"zip-code":               LabelAddress,
	"postal-code":            LabelAddress,
	"date":                   LabelDateOfBirth,
	"time":                   LabelDateOfBirth,
	"dob":                    LabelDateOfBirth,
	"birthdate":              LabelDateOfBirth,
	"birth-date":             LabelDateOfBirth,
	"cardinal":               LabelAge,
	"ordinal":                LabelAge,
	"years-old":              LabelAge,
	"fac":                    LabelInstitution,
	"facility":               LabelInstitution,
	"hospital":               LabelInstitution,
	"clinic":                 LabelInstitution,
	"practice":               LabelInstitution,
	"ssn":                    LabelNationalID,
	"social-security":        LabelNationalID,
	"social-security-number": LabelNationalID,
	"national-identifier":    LabelNationalID,
	"mrn":                    LabelRecordNumber,
	"medical-record":         LabelRecordNumber,
	"medical-record-number":  LabelRecordNumber,
	"record-id":              LabelRecordNumber,
	"chart-number":           LabelRecordNumber,
	"phone-number":           LabelPhone,
	"telephone":              LabelPhone,
	"tel":                    LabelPhone,
	"mobile":                 LabelPhone,
	"cell":                   LabelPhone,
	"fax":                    LabelPhone,
	"e-mail":                 LabelEmail,
	"email-address":          LabelEmail,
	"mail":                   LabelEmail,
	"username":               LabelHandle,
	"user-name":              LabelHandle,
	"screen-name":            LabelHandle,
	"account":                LabelHandle,
	"social-media":           LabelHandle,
	"social-media-handle":    LabelHandle,
}

// Map resolves a guess to a label. ok is false when the guess cannot be
// folded onto the closed set.
func (m *LabelMapper) Map(guess string) (label Label, ok bool) {
	norm := normalizeGuess(guess)
	if norm == "" {
		return "", false
	}
	if l, found := m.byName[norm]; found {
		return l, true
	}

	best := ""
	bestScore := 0.0
	for _, name := range m.names {
		if score := matchr.JaroWinkler(norm, name, false); score > bestScore {
			bestScore = score
			best = name
		}
	}
	if bestScore >= m.threshold {
		return m.byName[best], true
	}
	return "", false
}

// normalizeGuess lowercases a guess and collapses every run of
// non-alphanumeric characters to a single hyphen, so "Email_Address",
// "email address" and "EMAIL-ADDRESS" all normalize identically.
func normalizeGuess(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	pending := false
	for _, r := range s {
		alnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if !alnum {
			pending = true
			continue
		}
		if pending && b.Len() > 0 {
			b.WriteByte('-')
		}
		pending = false
		b.WriteRune(r)
	}
	return b.String()
}
