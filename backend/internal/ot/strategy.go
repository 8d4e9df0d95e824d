package ot

// Strategy picks a winner when the transform rules alone cannot resolve a
// conflict (overlapping deletes, insert inside a delete, update/update).
type Strategy uint8

const (
	// LastWriteWins keeps the operation with the later timestamp.
	LastWriteWins Strategy = iota
	// Merge shallow-merges two update payloads, later keys winning.
	Merge
	// Manual defers: resolution comes from outside, nothing is dropped
	// silently.
	Manual
)

func (s Strategy) String() string {
	switch s {
	case LastWriteWins:
		return "last-write-wins"
	case Merge:
		return "merge"
	case Manual:
		return "manual"
	}
	return "unknown"
}

// Resolve applies a strategy to a conflicting pair. The second return is
// false when the strategy declines to decide (Manual); the first
// operation is then returned unchanged and the caller must escalate
// rather than drop the other side.
func Resolve(s Strategy, a, b Operation) (Operation, bool) {
	switch s {
	case LastWriteWins:
		return laterOf(a, b), true
	case Merge:
		if a.Type == OpUpdate && b.Type == OpUpdate {
			am, bm := a.ContentMap(), b.ContentMap()
			if am != nil && bm != nil {
				first, second := a, b
				if b.Timestamp.Before(a.Timestamp) {
					first, second = b, a
				}
				merged := make(map[string]any, len(am)+len(bm))
				for k, v := range first.ContentMap() {
					merged[k] = v
				}
				for k, v := range second.ContentMap() {
					merged[k] = v
				}
				out := second
				out.Content = merged
				return out, true
			}
		}
		// Non-object payloads have nothing to merge.
		return laterOf(a, b), true
	default:
		return a, false
	}
}

func laterOf(a, b Operation) Operation {
	switch {
	case a.Timestamp.After(b.Timestamp):
		return a
	case b.Timestamp.After(a.Timestamp):
		return b
	case a.UserID < b.UserID:
		// Equal timestamps: user id keeps the pick deterministic.
		return a
	default:
		return b
	}
}
