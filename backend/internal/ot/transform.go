package ot

// TransformResult carries both adjusted operations plus two flags.
// Conflict is informational: a tie-break or boundary adjustment occurred
// but the rules settled it and both operations still apply. Unresolved
// marks the cases the rules cannot settle (equal-position deletes, an
// insert landing inside a deleted range, overlapping structured updates);
// only those need a resolution strategy.
type TransformResult struct {
	Op1        Operation
	Op2        Operation
	Conflict   bool
	Unresolved bool
}

// Transform rewrites two concurrent operations into a pair that can be
// applied in either order with the same outcome. Pure and deterministic:
// position ties between inserts are broken by comparing user ids
// lexicographically, so every replica reaches the same answer without a
// central sequencer.
func Transform(op1, op2 Operation) TransformResult {
	switch {
	case op1.Type == OpInsert && op2.Type == OpInsert:
		return transformInsertInsert(op1, op2)
	case op1.Type == OpDelete && op2.Type == OpDelete:
		return transformDeleteDelete(op1, op2)
	case op1.Type == OpInsert && op2.Type == OpDelete:
		return transformInsertDelete(op1, op2)
	case op1.Type == OpDelete && op2.Type == OpInsert:
		r := transformInsertDelete(op2, op1)
		return TransformResult{Op1: r.Op2, Op2: r.Op1, Conflict: r.Conflict, Unresolved: r.Unresolved}
	case op1.Type == OpUpdate && op2.Type == OpUpdate:
		return transformUpdateUpdate(op1, op2)
	default:
		// Move/Format against anything else: no positional interaction.
		return TransformResult{Op1: op1, Op2: op2}
	}
}

func transformInsertInsert(op1, op2 Operation) TransformResult {
	a, b := op1, op2
	switch {
	case op1.Position < op2.Position:
		b.Position += op1.SpanLength()
	case op1.Position > op2.Position:
		a.Position += op2.SpanLength()
	default:
		// Same position: the lexicographically larger user id shifts
		// right past the other's insert. The tie-break settles the pair,
		// so this is never escalated.
		if op1.UserID > op2.UserID {
			a.Position += op2.SpanLength()
		} else {
			b.Position += op1.SpanLength()
		}
		return TransformResult{Op1: a, Op2: b, Conflict: true}
	}
	return TransformResult{Op1: a, Op2: b}
}

// transformUpdateUpdate flags structural updates that touch the same
// target. Object updates with disjoint key sets commute and both apply;
// everything else at the same position needs a strategy to pick a winner
// or merge. Positions are untouched either way.
func transformUpdateUpdate(op1, op2 Operation) TransformResult {
	if op1.Position != op2.Position {
		return TransformResult{Op1: op1, Op2: op2}
	}
	m1, m2 := op1.ContentMap(), op2.ContentMap()
	if m1 != nil && m2 != nil {
		disjoint := true
		for k := range m1 {
			if _, ok := m2[k]; ok {
				disjoint = false
				break
			}
		}
		if disjoint {
			return TransformResult{Op1: op1, Op2: op2}
		}
	}
	return TransformResult{Op1: op1, Op2: op2, Conflict: true, Unresolved: true}
}

func transformDeleteDelete(op1, op2 Operation) TransformResult {
	a, b := op1, op2
	switch {
	case op1.Position < op2.Position:
		b.Position -= op1.Length
	case op1.Position > op2.Position:
		a.Position -= op2.Length
	default:
		// Both sides deleting the same range: leave positions alone and
		// let a resolution strategy decide.
		return TransformResult{Op1: a, Op2: b, Conflict: true, Unresolved: true}
	}
	return TransformResult{Op1: a, Op2: b}
}

// transformInsertDelete adjusts an insert (ins) against a concurrent
// delete (del). The deleted range is [Position, Position+Length): an
// insert at exactly the exclusive end sits outside it and shifts left.
func transformInsertDelete(ins, del Operation) TransformResult {
	i, d := ins, del
	switch {
	case ins.Position <= del.Position:
		d.Position += ins.SpanLength()
	case ins.Position >= del.Position+del.Length:
		i.Position -= del.Length
	default:
		// Insert lands inside the deleted range.
		return TransformResult{Op1: i, Op2: d, Conflict: true, Unresolved: true}
	}
	return TransformResult{Op1: i, Op2: d}
}

// TransformAgainst folds op through a window of already-committed
// concurrent operations in encounter order, returning the causally
// repositioned operation and whether any step flagged a conflict. The
// committed side of each pair is immutable, so only the incoming
// operation is rewritten.
func TransformAgainst(op Operation, window []Operation) (Operation, bool) {
	conflict := false
	for _, h := range window {
		r := Transform(op, h)
		op = r.Op1
		conflict = conflict || r.Conflict
	}
	return op, conflict
}
