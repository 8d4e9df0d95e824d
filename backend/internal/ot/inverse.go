package ot

import (
	"fmt"

	"github.com/google/uuid"
)

// Inverse synthesizes the operation that undoes op. previous is the
// pre-image captured before op mutated the document: the deleted text for
// a Delete, the replaced value for an Update, the prior attributes for a
// Format. Insert needs no pre-image.
func Inverse(op Operation, previous any) (Operation, error) {
	inv := op
	inv.ID = uuid.NewString()

	switch op.Type {
	case OpInsert:
		inv.Type = OpDelete
		inv.Length = op.SpanLength()
		inv.Content = nil
	case OpDelete:
		if previous == nil {
			return Operation{}, fmt.Errorf("inverse of delete %s: deleted content not captured", op.ID)
		}
		inv.Type = OpInsert
		inv.Content = previous
		inv.Length = 0
	case OpUpdate:
		if previous == nil {
			return Operation{}, fmt.Errorf("inverse of update %s: previous value not captured", op.ID)
		}
		inv.Content = previous
	case OpMove:
		// Move carries the source in Position and the target in Length;
		// undoing swaps them.
		inv.Position, inv.Length = op.Length, op.Position
	case OpFormat:
		prev, ok := previous.(map[string]any)
		if !ok {
			return Operation{}, fmt.Errorf("inverse of format %s: previous attributes not captured", op.ID)
		}
		inv.Attributes = prev
	default:
		return Operation{}, fmt.Errorf("inverse: unknown operation type %q", op.Type)
	}
	return inv, nil
}
