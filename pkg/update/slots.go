package update

// Relationship arrays are slotted: instance-level relationships refer to
// node-level relationships by position, so removal nulls a slot instead of
// shifting its neighbors, and insertion beyond the current length grows the
// array with nil placeholders. Slots are compacted only at finalize, once no
// step can reference them by index anymore.

// growSlots extends rels with nil placeholders until index is addressable.
func growSlots(rels []map[string]any, index int) []map[string]any {
	for len(rels) <= index {
		rels = append(rels, nil)
	}
	return rels
}

// compactSlots drops nil slots, preserving the order of the rest.
func compactSlots(rels []map[string]any) []map[string]any {
	out := make([]map[string]any, 0, len(rels))
	for _, rel := range rels {
		if rel != nil {
			out = append(out, rel)
		}
	}
	return out
}
