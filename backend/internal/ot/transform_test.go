package ot

import (
	"testing"
)

func insertOp(user string, pos int, text string) Operation {
	op := New(OpInsert, "doc", DocText, user, 0)
	op.Position = pos
	op.Content = text
	op.Length = len([]rune(text))
	return op
}

func deleteOp(user string, pos, length int) Operation {
	op := New(OpDelete, "doc", DocText, user, 0)
	op.Position = pos
	op.Length = length
	return op
}

// applyText is the reference string application used to check
// convergence of transformed pairs.
func applyText(t *testing.T, s string, op Operation) string {
	t.Helper()
	r := []rune(s)
	switch op.Type {
	case OpInsert:
		p := op.Position
		if p > len(r) {
			p = len(r)
		}
		return string(r[:p]) + op.Text() + string(r[p:])
	case OpDelete:
		p, end := op.Position, op.Position+op.Length
		if end > len(r) {
			end = len(r)
		}
		return string(r[:p]) + string(r[end:])
	}
	t.Fatalf("applyText: unsupported op type %q", op.Type)
	return ""
}

func TestTransform_InsertInsert_Disjoint(t *testing.T) {
	a := insertOp("alice", 2, "xx")
	b := insertOp("bob", 7, "yy")

	r := Transform(a, b)
	if r.Conflict {
		t.Fatalf("Conflict = true, want false")
	}
	if r.Op1.Position != 2 {
		t.Fatalf("Op1.Position = %d, want 2", r.Op1.Position)
	}
	if r.Op2.Position != 9 {
		t.Fatalf("Op2.Position = %d, want 9", r.Op2.Position)
	}
}

func TestTransform_InsertInsert_TieBreak(t *testing.T) {
	a := insertOp("alice", 0, "Hello")
	b := insertOp("bob", 0, "Bye")

	r := Transform(a, b)
	if !r.Conflict {
		t.Fatalf("Conflict = false, want true on position tie")
	}
	// The lexicographically larger user id shifts right.
	if r.Op1.Position != 0 {
		t.Fatalf("alice position = %d, want 0", r.Op1.Position)
	}
	if r.Op2.Position != 5 {
		t.Fatalf("bob position = %d, want 5", r.Op2.Position)
	}

	// Either application order converges with the smaller user id's
	// insert landing first.
	want := "HelloBye"
	got1 := applyText(t, applyText(t, "", a), r.Op2)
	got2 := applyText(t, applyText(t, "", b), r.Op1)
	if got1 != want || got2 != want {
		t.Fatalf("converged to %q / %q, want %q", got1, got2, want)
	}
}

func TestTransform_InsertInsert_TieBreak_Symmetric(t *testing.T) {
	a := insertOp("bob", 0, "Bye")
	b := insertOp("alice", 0, "Hello")

	r := Transform(a, b)
	if r.Op1.Position != 5 {
		t.Fatalf("bob position = %d, want 5", r.Op1.Position)
	}
	if r.Op2.Position != 0 {
		t.Fatalf("alice position = %d, want 0", r.Op2.Position)
	}
}

func TestTransform_DeleteDelete_Disjoint(t *testing.T) {
	a := deleteOp("alice", 0, 5)
	b := deleteOp("bob", 6, 5)

	r := Transform(a, b)
	if r.Conflict {
		t.Fatalf("Conflict = true, want false")
	}
	if r.Op1.Position != 0 {
		t.Fatalf("Op1.Position = %d, want 0", r.Op1.Position)
	}
	if r.Op2.Position != 1 {
		t.Fatalf("Op2.Position = %d, want 1", r.Op2.Position)
	}

	want := " "
	got1 := applyText(t, applyText(t, "Hello World", a), r.Op2)
	got2 := applyText(t, applyText(t, "Hello World", b), r.Op1)
	if got1 != want || got2 != want {
		t.Fatalf("converged to %q / %q, want %q", got1, got2, want)
	}
}

func TestTransform_DeleteDelete_Overlap(t *testing.T) {
	a := deleteOp("alice", 3, 4)
	b := deleteOp("bob", 3, 2)

	r := Transform(a, b)
	if !r.Conflict {
		t.Fatalf("Conflict = false, want true for same-position deletes")
	}
	if r.Op1.Position != 3 || r.Op2.Position != 3 {
		t.Fatalf("positions = %d/%d, want unchanged 3/3", r.Op1.Position, r.Op2.Position)
	}
}

func TestTransform_InsertDelete(t *testing.T) {
	cases := []struct {
		name         string
		ins          Operation
		del          Operation
		wantInsPos   int
		wantDelPos   int
		wantConflict bool
	}{
		{
			name:       "insert before delete shifts delete right",
			ins:        insertOp("alice", 1, "ab"),
			del:        deleteOp("bob", 4, 3),
			wantInsPos: 1,
			wantDelPos: 6,
		},
		{
			name:       "insert at delete start shifts delete right",
			ins:        insertOp("alice", 4, "ab"),
			del:        deleteOp("bob", 4, 3),
			wantInsPos: 4,
			wantDelPos: 6,
		},
		{
			name:       "insert after delete end shifts insert left",
			ins:        insertOp("alice", 9, "ab"),
			del:        deleteOp("bob", 2, 3),
			wantInsPos: 6,
			wantDelPos: 2,
		},
		{
			name:         "insert inside delete range conflicts",
			ins:          insertOp("alice", 4, "ab"),
			del:          deleteOp("bob", 2, 4),
			wantInsPos:   4,
			wantDelPos:   2,
			wantConflict: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := Transform(tc.ins, tc.del)
			if r.Conflict != tc.wantConflict {
				t.Fatalf("Conflict = %v, want %v", r.Conflict, tc.wantConflict)
			}
			if r.Op1.Position != tc.wantInsPos {
				t.Fatalf("insert position = %d, want %d", r.Op1.Position, tc.wantInsPos)
			}
			if r.Op2.Position != tc.wantDelPos {
				t.Fatalf("delete position = %d, want %d", r.Op2.Position, tc.wantDelPos)
			}
		})
	}
}

func TestTransform_DeleteInsert_Symmetric(t *testing.T) {
	del := deleteOp("alice", 4, 3)
	ins := insertOp("bob", 1, "ab")

	r := Transform(del, ins)
	if r.Conflict {
		t.Fatalf("Conflict = true, want false")
	}
	if r.Op1.Position != 6 {
		t.Fatalf("delete position = %d, want 6", r.Op1.Position)
	}
	if r.Op2.Position != 1 {
		t.Fatalf("insert position = %d, want 1", r.Op2.Position)
	}
}

func TestTransform_Deterministic(t *testing.T) {
	a := insertOp("alice", 3, "foo")
	b := deleteOp("bob", 1, 1)

	r1 := Transform(a, b)
	r2 := Transform(a, b)
	if r1.Op1.Position != r2.Op1.Position || r1.Op2.Position != r2.Op2.Position || r1.Conflict != r2.Conflict {
		t.Fatalf("Transform not deterministic: %+v vs %+v", r1, r2)
	}
}

func TestTransform_Convergence(t *testing.T) {
	base := "collaborative"
	cases := []struct {
		name string
		a, b Operation
	}{
		{"insert/insert disjoint", insertOp("alice", 2, "XY"), insertOp("bob", 8, "Z")},
		{"insert/insert same position", insertOp("alice", 5, "AA"), insertOp("bob", 5, "BBB")},
		{"delete/delete disjoint", deleteOp("alice", 1, 3), deleteOp("bob", 8, 2)},
		{"insert/delete disjoint", insertOp("alice", 1, "Q"), deleteOp("bob", 6, 4)},
		{"delete/insert disjoint", deleteOp("alice", 2, 2), insertOp("bob", 9, "WW")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := Transform(tc.a, tc.b)
			got1 := applyText(t, applyText(t, base, tc.a), r.Op2)
			got2 := applyText(t, applyText(t, base, tc.b), r.Op1)
			if got1 != got2 {
				t.Fatalf("diverged: %q vs %q", got1, got2)
			}
		})
	}
}

func TestTransformAgainst_FoldsWindow(t *testing.T) {
	// Two committed inserts ahead of the incoming op.
	h1 := insertOp("bob", 0, "ab")
	h2 := insertOp("carol", 0, "cd")
	in := insertOp("alice", 1, "X")

	out, conflict := TransformAgainst(in, []Operation{h1, h2})
	if conflict {
		t.Fatalf("conflict = true, want false")
	}
	if out.Position != 5 {
		t.Fatalf("position = %d, want 5", out.Position)
	}
}

func TestTransform_UpdateUpdate(t *testing.T) {
	mk := func(user string, content map[string]any) Operation {
		op := New(OpUpdate, "doc", DocJSON, user, 0)
		op.Content = content
		return op
	}

	// Disjoint key sets commute, no conflict.
	r := Transform(mk("user-a", map[string]any{"title": "x"}), mk("user-b", map[string]any{"owner": "y"}))
	if r.Conflict {
		t.Fatalf("disjoint key updates flagged as conflict")
	}

	// Overlapping keys need a strategy.
	r = Transform(mk("user-a", map[string]any{"title": "x"}), mk("user-b", map[string]any{"title": "y"}))
	if !r.Conflict {
		t.Fatalf("overlapping key updates not flagged")
	}

	// Non-object payloads at the same position always conflict.
	a := New(OpUpdate, "doc", DocText, "user-a", 0)
	a.Content = "x"
	b := New(OpUpdate, "doc", DocText, "user-b", 0)
	b.Content = "y"
	if r := Transform(a, b); !r.Conflict {
		t.Fatalf("same-position scalar updates not flagged")
	}
}

func TestTransform_UnresolvedOnlyForUndecidedPairs(t *testing.T) {
	// A position tie is settled by the user-id rule: flagged, not escalated.
	r := Transform(insertOp("alice", 0, "Hello"), insertOp("bob", 0, "Bye"))
	if !r.Conflict || r.Unresolved {
		t.Fatalf("tie-break: Conflict=%v Unresolved=%v, want true/false", r.Conflict, r.Unresolved)
	}

	// Equal-position deletes have no deterministic answer.
	r = Transform(deleteOp("alice", 3, 4), deleteOp("bob", 3, 2))
	if !r.Unresolved {
		t.Fatalf("same-position deletes not marked unresolved")
	}

	// An insert inside a deleted range has no deterministic answer.
	r = Transform(insertOp("alice", 4, "ab"), deleteOp("bob", 2, 4))
	if !r.Unresolved {
		t.Fatalf("insert inside delete not marked unresolved")
	}
	// The swapped pair carries the same verdict.
	r = Transform(deleteOp("bob", 2, 4), insertOp("alice", 4, "ab"))
	if !r.Unresolved {
		t.Fatalf("delete vs inner insert not marked unresolved")
	}
}

func TestTransform_InsertAtDeleteEndShiftsLeft(t *testing.T) {
	// Deleted range is [2,5); position 5 sits just past it.
	r := Transform(insertOp("alice", 5, "ab"), deleteOp("bob", 2, 3))
	if r.Conflict || r.Unresolved {
		t.Fatalf("boundary insert flagged: Conflict=%v Unresolved=%v", r.Conflict, r.Unresolved)
	}
	if r.Op1.Position != 2 {
		t.Fatalf("insert position = %d, want 2", r.Op1.Position)
	}

	got1 := applyText(t, applyText(t, "abcdefg", insertOp("alice", 5, "XY")), r.Op2)
	got2 := applyText(t, applyText(t, "abcdefg", deleteOp("bob", 2, 3)), Transform(insertOp("alice", 5, "XY"), deleteOp("bob", 2, 3)).Op1)
	if got1 != got2 {
		t.Fatalf("diverged: %q vs %q", got1, got2)
	}
}
