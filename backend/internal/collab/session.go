package collab

import (
	"sync"

	"syncServer/backend/internal/ot"
)

// SyncMode governs how a session's submissions are acknowledged.
type SyncMode uint8

const (
	// Optimistic emits a local update event before the server commit and
	// keeps the operation in the pending queue until acknowledged.
	Optimistic SyncMode = iota
	// Pessimistic waits for the commit; nothing is queued.
	Pessimistic
	// Eventual buffers offline edits for the periodic flusher.
	Eventual
)

func (m SyncMode) String() string {
	switch m {
	case Optimistic:
		return "optimistic"
	case Pessimistic:
		return "pessimistic"
	case Eventual:
		return "eventual"
	}
	return "unknown"
}

type pendingOp struct {
	op       ot.Operation
	attempts int
}

// syncSession is the per-user, per-document editing session. pending
// holds unacknowledged operations; the background flusher drains it.
type syncSession struct {
	mu      sync.Mutex
	userID  string
	docID   string
	mode    SyncMode
	pending []pendingOp
	acked   map[string]struct{}
}

func newSyncSession(userID, docID string, mode SyncMode) *syncSession {
	return &syncSession{
		userID: userID,
		docID:  docID,
		mode:   mode,
		acked:  make(map[string]struct{}),
	}
}

func (s *syncSession) enqueue(op ot.Operation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.acked[op.ID]; ok {
		return
	}
	for _, p := range s.pending {
		if p.op.ID == op.ID {
			return
		}
	}
	s.pending = append(s.pending, pendingOp{op: op})
}

// ack marks an operation confirmed and drops it from the queue.
func (s *syncSession) ack(opID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acked[opID] = struct{}{}
	for i, p := range s.pending {
		if p.op.ID == opID {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return
		}
	}
}

// snapshotPending copies the queue for the flusher to iterate without
// holding the session lock across resubmission.
func (s *syncSession) snapshotPending() []pendingOp {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]pendingOp, len(s.pending))
	copy(out, s.pending)
	return out
}

// bumpAttempts records a failed resubmission. The operation is dropped
// from the queue once it has burned maxAttempts tries; returns true when
// that happened.
func (s *syncSession) bumpAttempts(opID string, maxAttempts int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.pending {
		if s.pending[i].op.ID != opID {
			continue
		}
		s.pending[i].attempts++
		if maxAttempts > 0 && s.pending[i].attempts >= maxAttempts {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return true
		}
		return false
	}
	return false
}

func sessionKey(userID, docID string) string {
	return userID + "\x00" + docID
}
