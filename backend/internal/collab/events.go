package collab

import (
	"context"
	"time"

	"github.com/google/uuid"

	"syncServer/backend/internal/ot"
)

// Namespace for every event this engine emits.
const EventNamespace = "/collaboration"

// Event names.
const (
	EventSyncOperation    = "sync-operation"
	EventLockUpdate       = "lock-update"
	EventOperationApplied = "operation-applied"
	EventOperationFailed  = "operation-failed"
	EventOptimisticUpdate = "optimistic-update"
	EventConflictPending  = "conflict-pending"
)

// Event is the envelope handed to the broadcast collaborator and to the
// local event hook.
type Event struct {
	ID        string    `json:"id"`
	Namespace string    `json:"namespace"`
	Event     string    `json:"event"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

func newEvent(name string, data any) Event {
	return Event{
		ID:        uuid.NewString(),
		Namespace: EventNamespace,
		Event:     name,
		Data:      data,
		Timestamp: time.Now(),
	}
}

// OperationEventData is the payload of sync-operation and
// operation-applied events.
type OperationEventData struct {
	Operation ot.Operation `json:"operation"`
	Version   uint64       `json:"version"`
}

// LockEventData is the payload of lock-update events.
type LockEventData struct {
	DocumentID string         `json:"documentId"`
	UserID     string         `json:"userId"`
	Granted    bool           `json:"granted"`
	Released   bool           `json:"released,omitempty"`
	Locks      []DocumentLock `json:"locks"`
}

// Broadcaster delivers an event to a single user. Delivery is
// best-effort: the engine tolerates failures and relies on periodic sync
// for correctness, not on delivery guarantees.
type Broadcaster interface {
	SendToUser(ctx context.Context, userID string, evt Event) error
}

// SnapshotRow mirrors the persisted per-document state row.
type SnapshotRow struct {
	DocumentID   string
	DocumentType ot.DocumentType
	Version      uint64
	Content      any
	Checksum     string
	UpdatedAt    time.Time
}

// OperationLog is the persistence collaborator: one state row per
// document plus an append-only log row per applied operation, both
// written in a single transaction by SaveApplied.
type OperationLog interface {
	LoadState(ctx context.Context, docID string) (*SnapshotRow, error)
	RecentOperations(ctx context.Context, docID string, limit int) ([]ot.Operation, error)
	OperationsUpTo(ctx context.Context, docID string, version uint64) ([]ot.Operation, error)
	SaveApplied(ctx context.Context, row SnapshotRow, op ot.Operation, version uint64) error
}
