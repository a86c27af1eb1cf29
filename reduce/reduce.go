// Package reduce implements the pure function that folds consecutive
// operations on the same entity into an equivalent, shorter sequence.
package reduce

import "github.com/opsync/opsync/operation"

// Many applies the squash rules pairwise, left to right, carrying a rolling
// "current" operation. It is pure, idempotent under repeated application on
// already-reduced input, and preserves the relative timestamp ordering of
// any emitted operations.
//
// Operations need not be pre-grouped by entity: Many treats a change of
// (EntityType, EntityID) — and any operation whose kind is Custom — as a
// boundary that flushes the current operation unmodified and starts a new
// one, so callers may feed it either a single entity's operations or a
// mixed slice.
func Many(ops []operation.Operation) []operation.Operation {
	if len(ops) == 0 {
		return nil
	}

	out := make([]operation.Operation, 0, len(ops))
	current := ops[0]
	haveCurrent := true

	for _, next := range ops[1:] {
		if !haveCurrent {
			current = next
			haveCurrent = true
			continue
		}

		if !sameEntity(current, next) || isCustom(current) || isCustom(next) {
			out = append(out, current)
			current = next
			continue
		}

		reduced, cancelled, reducible := pair(current, next)
		if !reducible {
			out = append(out, current)
			current = next
			continue
		}
		if cancelled {
			haveCurrent = false
			continue
		}
		current = reduced
	}

	if haveCurrent {
		out = append(out, current)
	}
	return out
}

func sameEntity(a, b operation.Operation) bool {
	return a.EntityType == b.EntityType && a.EntityID == b.EntityID
}

func isCustom(op operation.Operation) bool {
	return op.OpKind.Kind == operation.KindCustom
}

// pair applies the squash rule for a single (A, B) adjacency. cancelled is
// true when both operations vanish (Create followed by Delete); reducible is
// false when no rule applies and the caller must flush A and start over
// at B instead.
func pair(a, b operation.Operation) (result operation.Operation, cancelled, reducible bool) {
	switch {
	case a.OpKind.Kind == operation.KindCreate && b.OpKind.Kind == operation.KindUpdate:
		merged := a
		merged.Payload = operation.Merge(a.Payload, b.Payload)
		merged.Timestamp = b.Timestamp
		return merged, false, true

	case a.OpKind.Kind == operation.KindCreate && b.OpKind.Kind == operation.KindDelete:
		return operation.Operation{}, true, true

	case a.OpKind.Kind == operation.KindUpdate && b.OpKind.Kind == operation.KindUpdate:
		merged := a
		merged.Payload = operation.Merge(a.Payload, b.Payload)
		merged.Timestamp = b.Timestamp
		return merged, false, true

	case a.OpKind.Kind == operation.KindUpdate && b.OpKind.Kind == operation.KindDelete:
		return b, false, true

	default:
		// No rule defined for this adjacency (e.g. Delete followed by
		// Create). Not reduced.
		return operation.Operation{}, false, false
	}
}
