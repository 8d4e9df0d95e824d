package collab

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
)

// TextCRDT is the pluggable text-structure backend for text/code
// documents. The sync service computes a causally correct position via
// operational transform, then delegates the mutation here so that
// replicas converge even under reordered delivery.
type TextCRDT interface {
	Insert(pos int, text string)
	Delete(pos, n int)
	Format(pos, n int, attrs map[string]any)
	String() string
	ReplicaID() string
}

var crdtCounter atomic.Uint64

// crdtChar is one element of the replicated sequence. Deleted characters
// become tombstones so element ids stay stable.
type crdtChar struct {
	id      string
	r       rune
	deleted bool
	attrs   map[string]any
}

// seqText is an RGA-style replicated sequence: every character gets a
// unique "replica:counter" id and deletion tombstones instead of
// removal.
type seqText struct {
	replica string
	counter uint64
	chars   []crdtChar
}

// NewTextCRDT builds an empty replica with its own replica id.
func NewTextCRDT() TextCRDT {
	return &seqText{replica: fmt.Sprintf("r%d-%s", crdtCounter.Add(1), uuid.NewString()[:8])}
}

func (t *seqText) ReplicaID() string { return t.replica }

func (t *seqText) nextID() string {
	t.counter++
	return fmt.Sprintf("%s:%d", t.replica, t.counter)
}

// index maps a visible position to a slice index in chars, skipping
// tombstones. pos == visible length maps to len(chars).
func (t *seqText) index(pos int) int {
	if pos <= 0 {
		return 0
	}
	seen := 0
	for i, c := range t.chars {
		if c.deleted {
			continue
		}
		if seen == pos {
			return i
		}
		seen++
	}
	return len(t.chars)
}

func (t *seqText) Insert(pos int, text string) {
	at := t.index(pos)
	ins := make([]crdtChar, 0, len(text))
	for _, r := range text {
		ins = append(ins, crdtChar{id: t.nextID(), r: r})
	}
	t.chars = append(t.chars[:at], append(ins, t.chars[at:]...)...)
}

func (t *seqText) Delete(pos, n int) {
	i := t.index(pos)
	for ; i < len(t.chars) && n > 0; i++ {
		if t.chars[i].deleted {
			continue
		}
		t.chars[i].deleted = true
		n--
	}
}

func (t *seqText) Format(pos, n int, attrs map[string]any) {
	i := t.index(pos)
	for ; i < len(t.chars) && n > 0; i++ {
		if t.chars[i].deleted {
			continue
		}
		if t.chars[i].attrs == nil {
			t.chars[i].attrs = make(map[string]any, len(attrs))
		}
		for k, v := range attrs {
			t.chars[i].attrs[k] = v
		}
		n--
	}
}

func (t *seqText) String() string {
	var b strings.Builder
	for _, c := range t.chars {
		if !c.deleted {
			b.WriteRune(c.r)
		}
	}
	return b.String()
}
