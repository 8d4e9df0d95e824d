package ot

import (
	"testing"
	"time"
)

func TestCompress_MergesTypingRun(t *testing.T) {
	base := time.Now()
	a := insertOp("alice", 0, "He")
	a.Timestamp = base
	b := insertOp("alice", 2, "llo")
	b.Timestamp = base.Add(200 * time.Millisecond)
	c := insertOp("alice", 5, "!")
	c.Timestamp = base.Add(400 * time.Millisecond)

	out := Compress([]Operation{a, b, c})
	if len(out) != 1 {
		t.Fatalf("len = %d, want 1", len(out))
	}
	if got := out[0].Text(); got != "Hello!" {
		t.Fatalf("content = %q, want %q", got, "Hello!")
	}
	if out[0].Position != 0 {
		t.Fatalf("position = %d, want 0", out[0].Position)
	}
}

func TestCompress_SumsForwardDeletes(t *testing.T) {
	base := time.Now()
	a := deleteOp("alice", 4, 1)
	a.Timestamp = base
	b := deleteOp("alice", 4, 2)
	b.Timestamp = base.Add(100 * time.Millisecond)

	out := Compress([]Operation{a, b})
	if len(out) != 1 {
		t.Fatalf("len = %d, want 1", len(out))
	}
	if out[0].Length != 3 {
		t.Fatalf("length = %d, want 3", out[0].Length)
	}
}

func TestCompress_RespectsWindow(t *testing.T) {
	base := time.Now()
	a := insertOp("alice", 0, "He")
	a.Timestamp = base
	b := insertOp("alice", 2, "llo")
	b.Timestamp = base.Add(2 * time.Second)

	out := Compress([]Operation{a, b})
	if len(out) != 2 {
		t.Fatalf("len = %d, want 2: ops a second apart must not merge", len(out))
	}
}

func TestCompress_KeepsDifferentUsersApart(t *testing.T) {
	base := time.Now()
	a := insertOp("alice", 0, "He")
	a.Timestamp = base
	b := insertOp("bob", 2, "llo")
	b.Timestamp = base.Add(100 * time.Millisecond)

	out := Compress([]Operation{a, b})
	if len(out) != 2 {
		t.Fatalf("len = %d, want 2", len(out))
	}
}

func TestCompress_NonAdjacentInsertsKept(t *testing.T) {
	base := time.Now()
	a := insertOp("alice", 0, "He")
	a.Timestamp = base
	b := insertOp("alice", 9, "llo")
	b.Timestamp = base.Add(100 * time.Millisecond)

	out := Compress([]Operation{a, b})
	if len(out) != 2 {
		t.Fatalf("len = %d, want 2", len(out))
	}
}
