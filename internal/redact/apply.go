package redact

import "sort"

// Apply produces the redacted output for snap with exactly the accepted
// entities masked and every other span left verbatim. It is pure and
// idempotent: the snapshot is not modified, and repeated calls with the same
// arguments return byte-identical output.
//
// Every accepted ID must name an entity in the snapshot. An unknown ID fails
// the whole call with a *ValidationError and no partial output. Duplicate
// IDs are collapsed. An empty accepted list returns the original text
// unchanged.
func Apply(snap *Snapshot, acceptedIDs []string) (string, error) {
	byID := make(map[string]int, len(snap.Entities))
	for i, e := range snap.Entities {
		byID[e.ID] = i
	}

	picked := make(map[string]struct{}, len(acceptedIDs))
	accepted := make([]Entity, 0, len(acceptedIDs))
	for _, id := range acceptedIDs {
		idx, ok := byID[id]
		if !ok {
			return "", validationf("accepted_entity_ids", "unknown entity id %q", id)
		}
		if _, dup := picked[id]; dup {
			continue
		}
		picked[id] = struct{}{}
		accepted = append(accepted, snap.Entities[idx])
	}

	for _, e := range accepted {
		if e.Start < 0 || e.End > len(snap.Source) || e.Start >= e.End {
			return "", ErrStaleSnapshot
		}
	}

	return spliceEntities(snap.Source, accepted), nil
}

// spliceEntities replaces each entity span in text with its label
// placeholder. Spans must not overlap (the merge maintains that invariant);
// splicing runs in descending start order so earlier offsets stay valid as
// the text shrinks or grows. Out-of-range spans are clamped.
func spliceEntities(text string, entities []Entity) string {
	if len(entities) == 0 {
		return text
	}

	spans := make([]Entity, len(entities))
	copy(spans, entities)
	sort.Slice(spans, func(i, j int) bool { return spans[i].Start > spans[j].Start })

	out := text
	for _, e := range spans {
		start := min(max(e.Start, 0), len(out))
		end := min(max(e.End, start), len(out))
		out = out[:start] + e.Label.Placeholder() + out[end:]
	}
	return out
}
