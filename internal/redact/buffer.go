package redact

import (
	"sort"
	"strings"
	"time"
)

// ChunkSpan records where one chunk's text landed in the buffer.
type ChunkSpan struct {
	Chunk Chunk
	Start int
	End   int
}

// Buffer is the per-session transcript: chunk texts joined by single
// spaces in arrival order. The buffer only ever grows at the end, so any
// offset handed out stays valid for the session's lifetime. Version
// increments exactly once per successful append.
//
// Buffer is not safe for concurrent use; [Session] serializes access.
type Buffer struct {
	text       strings.Builder
	version    uint64
	spans      []ChunkSpan
	lastIngest time.Time
}

// Append validates chunk and appends its text to the buffer. It rejects,
// with a [ValidationError]:
//
//   - empty or whitespace-only text
//   - t1 earlier than t0
//   - an ingest timestamp older than the last appended chunk's
//     (out-of-order chunks are rejected, never reordered)
//
// On success it returns the new buffer version and the byte offset at
// which the chunk's text begins, so chunk-local match offsets can be
// mapped into buffer offsets.
func (b *Buffer) Append(chunk Chunk) (version uint64, base int, err error) {
	if strings.TrimSpace(chunk.Text) == "" {
		return 0, 0, validationf("text", "chunk text is empty")
	}
	if chunk.T1 < chunk.T0 {
		return 0, 0, validationf("t1", "chunk ends before it starts (t0=%s t1=%s)", chunk.T0, chunk.T1)
	}
	if !b.lastIngest.IsZero() && chunk.IngestedAt.Before(b.lastIngest) {
		return 0, 0, validationf("ingest_timestamp", "chunk %s arrived out of order", chunk.ID)
	}

	if b.text.Len() > 0 {
		b.text.WriteByte(' ')
	}
	base = b.text.Len()
	b.text.WriteString(chunk.Text)
	b.spans = append(b.spans, ChunkSpan{Chunk: chunk, Start: base, End: b.text.Len()})
	b.version++
	b.lastIngest = chunk.IngestedAt
	return b.version, base, nil
}

// Version returns the current buffer version. Zero means nothing has
// been appended yet.
func (b *Buffer) Version() uint64 {
	return b.version
}

// Len returns the buffer length in bytes.
func (b *Buffer) Len() int {
	return b.text.Len()
}

// Text returns a copy of the full transcript. Callers scan the copy so
// no lock is held while detection runs.
func (b *Buffer) Text() string {
	return b.text.String()
}

// ChunkCount returns how many chunks have been appended.
func (b *Buffer) ChunkCount() int {
	return len(b.spans)
}

// LastIngest returns the ingest timestamp of the most recent chunk, or the
// zero time when the buffer is empty.
func (b *Buffer) LastIngest() time.Time {
	return b.lastIngest
}

// ChunkAt returns the span of the chunk whose text covers the given
// buffer offset. Offsets that fall on a joining space resolve to the
// following chunk; offsets past the end report false.
func (b *Buffer) ChunkAt(offset int) (ChunkSpan, bool) {
	i := sort.Search(len(b.spans), func(i int) bool {
		return b.spans[i].End > offset
	})
	if i >= len(b.spans) {
		return ChunkSpan{}, false
	}
	return b.spans[i], true
}
