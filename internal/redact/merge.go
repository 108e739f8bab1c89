package redact

// Merge folds the findings of one detection pass into an existing entity
// list and returns the result. Neither input is mutated, and the output
// depends only on the two lists, never on which lane ran first or how
// many passes preceded this one.
//
// Rules, applied per incoming entity against the accumulated result:
//
//   - no span overlap: the entity is appended as-is. Its ID, assigned
//     when the lane created it, becomes permanent here.
//   - wholly contained within a same-label entity: dropped as a
//     duplicate sighting; its contexts fold into the survivor.
//   - otherwise overlapping: the newcomer must beat every overlapped
//     entity to displace any of them. Higher confidence beats lower; on
//     a tie the contextual lane beats the pattern lane; a full tie keeps
//     what is already indexed.
//   - a displaced same-label entity hands its ID to the winning span, so
//     reviewers tracking an entity keep tracking it across refinements.
//     Displaced entities of other labels are superseded outright.
//
// The result is pairwise non-overlapping whenever the existing list was.
func Merge(existing, incoming []Entity) []Entity {
	result := cloneEntities(existing)
	for _, in := range incoming {
		result = mergeOne(result, in)
	}
	return result
}

// mergeOne merges a single incoming entity into result and returns the
// updated list. result may be mutated and reused.
func mergeOne(result []Entity, in Entity) []Entity {
	in = in.clone()

	var overlapped []int
	for i := range result {
		if in.Overlaps(result[i]) {
			overlapped = append(overlapped, i)
		}
	}
	if len(overlapped) == 0 {
		return append(result, in)
	}

	// Duplicate sighting: wholly inside a same-label entity.
	for _, i := range overlapped {
		if result[i].Label == in.Label && result[i].contains(in) {
			result[i].Contexts = mergeContexts(result[i].Contexts, in.Contexts)
			return result
		}
	}

	// If any overlapped entity holds its ground, the newcomer is dropped.
	// A same-label survivor still absorbs the sighting's contexts.
	for _, i := range overlapped {
		if !beats(in, result[i]) {
			for _, j := range overlapped {
				if result[j].Label == in.Label {
					result[j].Contexts = mergeContexts(result[j].Contexts, in.Contexts)
					break
				}
			}
			return result
		}
	}

	// Newcomer wins every overlap. The first same-label loser keeps its
	// ID and position, adopting the winning span; the rest are removed.
	keep := -1
	for _, i := range overlapped {
		if result[i].Label == in.Label {
			keep = i
			break
		}
	}
	if keep >= 0 {
		in.ID = result[keep].ID
		in.Contexts = mergeContexts(result[keep].Contexts, in.Contexts)
		result[keep] = in
	}

	drop := make(map[int]bool, len(overlapped))
	for _, i := range overlapped {
		if i != keep {
			drop[i] = true
		}
	}
	out := make([]Entity, 0, len(result)+1)
	for i := range result {
		if !drop[i] {
			out = append(out, result[i])
		}
	}
	if keep < 0 {
		out = append(out, in)
	}
	return out
}

// beats reports whether the incoming entity displaces the existing one
// on overlap: higher confidence wins, a tie goes to the contextual lane,
// and a full tie keeps the existing entity.
func beats(in, ex Entity) bool {
	if in.Confidence != ex.Confidence {
		return in.Confidence > ex.Confidence
	}
	return in.Method == MethodContextual && ex.Method != MethodContextual
}

// mergeContexts unions src into dst, skipping sightings already present.
func mergeContexts(dst, src []Context) []Context {
	for _, c := range src {
		seen := false
		for _, d := range dst {
			if d == c {
				seen = true
				break
			}
		}
		if !seen {
			dst = append(dst, c)
		}
	}
	return dst
}
