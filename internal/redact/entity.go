package redact

import (
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Channel identifies which audio feed a chunk was transcribed from.
type Channel string

const (
	// ChannelPrimary is the clinician-side feed.
	ChannelPrimary Channel = "primary"
	// ChannelSecondary is the patient-side feed.
	ChannelSecondary Channel = "secondary"
	// ChannelMixed is a single combined feed.
	ChannelMixed Channel = "mixed"
)

// IsValid reports whether c is a known channel.
func (c Channel) IsValid() bool {
	switch c {
	case ChannelPrimary, ChannelSecondary, ChannelMixed:
		return true
	}
	return false
}

// Method records which detection lane produced an entity.
type Method string

const (
	// MethodPattern marks findings from the inline regex lane.
	MethodPattern Method = "pattern"
	// MethodContextual marks findings from the background model lane.
	MethodContextual Method = "contextual"
)

// Chunk is one transcribed fragment handed to the engine. Chunks are
// immutable once ingested. T0 and T1 are media timestamps relative to
// session start; IngestedAt is arrival wall-clock time and must never
// decrease within a session.
type Chunk struct {
	ID         string
	SessionID  string
	Channel    Channel
	Text       string
	T0         time.Duration
	T1         time.Duration
	IngestedAt time.Time
}

// Context records one sighting of an entity: which chunk it appeared in,
// a short window of surrounding text for reviewer orientation, and the
// chunk's channel and media timestamps.
type Context struct {
	ChunkID     string
	Surrounding string
	Channel     Channel
	T0          time.Duration
	T1          time.Duration
}

// Entity is one detected span of PHI within a session buffer.
// Start and End are byte offsets into the buffer, half-open [Start, End).
// They stay valid for the whole session because the buffer only ever
// grows at the end.
//
// The ID is assigned when the entity first enters an index and never
// changes afterwards; merging may adjust span, confidence or contexts,
// but an ID is never reassigned to an unrelated span.
type Entity struct {
	ID         string
	Label      Label
	Text       string
	Start      int
	End        int
	Confidence float64
	Method     Method
	Contexts   []Context
}

// newEntityID returns a fresh unique entity identifier.
func newEntityID() string {
	return uuid.NewString()
}

// Overlaps reports whether the spans of e and other intersect.
func (e Entity) Overlaps(other Entity) bool {
	return e.Start < other.End && other.Start < e.End
}

// contains reports whether e's span wholly contains other's.
func (e Entity) contains(other Entity) bool {
	return e.Start <= other.Start && other.End <= e.End
}

// clone returns a copy of e with its own contexts slice, so callers can
// hand out entities without exposing index internals to mutation.
func (e Entity) clone() Entity {
	c := e
	c.Contexts = make([]Context, len(e.Contexts))
	copy(c.Contexts, e.Contexts)
	return c
}

// cloneEntities deep-copies a whole entity list.
func cloneEntities(entities []Entity) []Entity {
	out := make([]Entity, len(entities))
	for i, e := range entities {
		out[i] = e.clone()
	}
	return out
}

// surroundRadius is how many bytes of source text are kept on each side
// of a span when recording a sighting context.
const surroundRadius = 40

// surroundingWindow returns the span text plus up to surroundRadius
// bytes on each side, widened to rune boundaries so the window never
// splits a character.
func surroundingWindow(text string, start, end int) string {
	lo := start - surroundRadius
	if lo < 0 {
		lo = 0
	}
	hi := end + surroundRadius
	if hi > len(text) {
		hi = len(text)
	}
	for lo > 0 && !utf8.RuneStart(text[lo]) {
		lo--
	}
	for hi < len(text) && !utf8.RuneStart(text[hi]) {
		hi++
	}
	return text[lo:hi]
}
