package redact

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// DiffSpan describes one masked span in a snapshot preview: where it sits in
// the original text, what was there, and what replaces it.
type DiffSpan struct {
	// EntityID is the stable ID of the masked entity.
	EntityID string

	// Label is the entity's canonical label.
	Label Label

	// Start and End are byte offsets into the original buffer text.
	Start int
	End   int

	// Original is the span as it appeared in the buffer.
	Original string

	// Placeholder is the replacement token, e.g. "[PERSON]".
	Placeholder string
}

// Snapshot is an immutable, reviewable view of a session at a single buffer
// version. Every detected entity is masked in the preview; the reviewer
// selects which masks survive at apply time.
//
// Snapshots are never mutated after construction. Building one never blocks
// ingestion beyond the copy of the buffer and index.
type Snapshot struct {
	// ID uniquely identifies this snapshot. A fresh ID is minted on every
	// build, even when the buffer has not changed since the last one.
	ID string

	// SessionID names the session this snapshot was taken from.
	SessionID string

	// BufferVersion is the buffer version the snapshot was built at.
	BufferVersion uint64

	// TakenAt is the build time in UTC.
	TakenAt time.Time

	// Degraded reports that contextual detection was unavailable or failing
	// when the snapshot was built, so coverage may be pattern-lane only.
	Degraded bool

	// Entities is the full entity index at build time, sorted by Start.
	Entities []Entity

	// PreviewDiff lists every masked span in document order.
	PreviewDiff []DiffSpan

	// OriginalLength and RedactedLength are byte lengths of the buffer text
	// and the fully masked preview.
	OriginalLength int
	RedactedLength int

	// RedactedText is the preview with every entity masked.
	RedactedText string

	// Source is the raw buffer text the snapshot was built from. Retained so
	// selective apply works against historical snapshots; never serialized.
	Source string
}

// newSnapshot builds a snapshot from a consistent read of a session's buffer
// and entity index. The caller passes already-merged entities; they are
// defensively cloned so later index updates cannot leak in.
func newSnapshot(sessionID string, version uint64, text string, entities []Entity, degraded bool) *Snapshot {
	ents := cloneEntities(entities)
	sort.Slice(ents, func(i, j int) bool { return ents[i].Start < ents[j].Start })

	diff := make([]DiffSpan, 0, len(ents))
	for _, e := range ents {
		diff = append(diff, DiffSpan{
			EntityID:    e.ID,
			Label:       e.Label,
			Start:       e.Start,
			End:         e.End,
			Original:    e.Text,
			Placeholder: e.Label.Placeholder(),
		})
	}

	redacted := spliceEntities(text, ents)

	return &Snapshot{
		ID:             uuid.NewString(),
		SessionID:      sessionID,
		BufferVersion:  version,
		TakenAt:        time.Now().UTC(),
		Degraded:       degraded,
		Entities:       ents,
		PreviewDiff:    diff,
		OriginalLength: len(text),
		RedactedLength: len(redacted),
		RedactedText:   redacted,
		Source:         text,
	}
}

// Entity returns the entity with the given ID, if the snapshot contains it.
func (s *Snapshot) Entity(id string) (Entity, bool) {
	for _, e := range s.Entities {
		if e.ID == id {
			return e.clone(), true
		}
	}
	return Entity{}, false
}
