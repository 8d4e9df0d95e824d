package ot

import "time"

// compressWindow is how far apart two operations may be and still merge.
const compressWindow = time.Second

// Compress merges runs of same-type, same-user operations emitted within
// one second of each other: adjacent inserts concatenate their content,
// deletes at the same position sum their lengths. A wire-size
// optimization only; the result applies identically to the original run.
func Compress(ops []Operation) []Operation {
	if len(ops) < 2 {
		return ops
	}
	out := make([]Operation, 0, len(ops))
	out = append(out, ops[0])

	for _, op := range ops[1:] {
		last := &out[len(out)-1]
		if mergeable(*last, op) {
			switch op.Type {
			case OpInsert:
				last.Content = last.Text() + op.Text()
				last.Length = last.SpanLength()
			case OpDelete:
				last.Length += op.Length
			}
			last.Timestamp = op.Timestamp
			continue
		}
		out = append(out, op)
	}
	return out
}

func mergeable(a, b Operation) bool {
	if a.Type != b.Type || a.UserID != b.UserID || a.DocumentID != b.DocumentID {
		return false
	}
	if b.Timestamp.Sub(a.Timestamp) > compressWindow {
		return false
	}
	switch a.Type {
	case OpInsert:
		// b continues typing where a left off.
		return b.Position == a.Position+a.SpanLength()
	case OpDelete:
		// Repeated forward deletes collapse the same position.
		return b.Position == a.Position
	default:
		return false
	}
}
