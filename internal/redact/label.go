package redact

import "strings"

// Label classifies a detected span of protected health information.
// The set is closed: detectors may guess label names freely, but every
// stored entity carries exactly one of these values. Guesses that cannot
// be folded onto the set are counted and dropped (see [LabelMapper]).
type Label string

const (
	LabelPerson       Label = "person"
	LabelPhone        Label = "phone"
	LabelEmail        Label = "email"
	LabelAddress      Label = "address"
	LabelDateOfBirth  Label = "date-of-birth"
	LabelAge          Label = "age"
	LabelNationalID   Label = "national-id"
	LabelRecordNumber Label = "record-number"
	LabelOrganization Label = "organization"
	LabelInstitution  Label = "institution"
	LabelHandle       Label = "handle"
)

// labelPrecedence ranks labels for overlap resolution inside a single
// pattern scan: when two rules claim intersecting spans, the span with
// the higher-precedence label is kept. More directly identifying labels
// outrank softer ones.
var labelPrecedence = map[Label]int{
	LabelNationalID:   10,
	LabelRecordNumber: 9,
	LabelPhone:        8,
	LabelEmail:        7,
	LabelDateOfBirth:  6,
	LabelPerson:       5,
	LabelAddress:      4,
	LabelAge:          3,
	LabelOrganization: 2,
	LabelInstitution:  2,
	LabelHandle:       1,
}

// Labels returns every valid label, highest precedence first.
func Labels() []Label {
	return []Label{
		LabelNationalID,
		LabelRecordNumber,
		LabelPhone,
		LabelEmail,
		LabelDateOfBirth,
		LabelPerson,
		LabelAddress,
		LabelAge,
		LabelOrganization,
		LabelInstitution,
		LabelHandle,
	}
}

// IsValid reports whether l belongs to the closed label set.
func (l Label) IsValid() bool {
	_, ok := labelPrecedence[l]
	return ok
}

// Precedence returns the overlap-resolution rank of l. Unknown labels
// rank below every valid one.
func (l Label) Precedence() int {
	return labelPrecedence[l]
}

// Placeholder returns the token that replaces a span of this label in
// redacted output, e.g. "[PHONE]" or "[DATE_OF_BIRTH]".
func (l Label) Placeholder() string {
	return "[" + strings.ToUpper(strings.ReplaceAll(string(l), "-", "_")) + "]"
}
