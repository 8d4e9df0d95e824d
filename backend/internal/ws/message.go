package ws

import (
	"encoding/json"

	"syncServer/backend/internal/cache"
	"syncServer/backend/internal/collab"
	"syncServer/backend/internal/ot"
)

// ClientMessage is the inbound JSON frame. Type selects which of the
// optional fields matter.
type ClientMessage struct {
	Type string `json:"type"` // subscribe | unsubscribe | operation | lock | unlock | cursor | heartbeat | snapshot

	DocID   string          `json:"docId"`
	DocType ot.DocumentType `json:"docType,omitempty"`
	Mode    string          `json:"mode,omitempty"` // optimistic | pessimistic | eventual

	// operation
	Op        *ot.Operation `json:"op,omitempty"`
	ClientID  string        `json:"clientId,omitempty"`
	ClientSeq uint64        `json:"clientSeq,omitempty"`

	// lock / unlock
	Start     int  `json:"start,omitempty"`
	End       int  `json:"end,omitempty"`
	Exclusive bool `json:"exclusive,omitempty"`

	// cursor
	Cursor json.RawMessage `json:"cursor,omitempty"`

	// snapshot
	Version uint64 `json:"version,omitempty"`
}

// ServerMessage is the outbound JSON frame.
type ServerMessage struct {
	Type     string          `json:"type"`
	DocID    string          `json:"docId,omitempty"`
	UserID   string          `json:"userId,omitempty"`
	Version  uint64          `json:"version,omitempty"`
	Event    *collab.Event   `json:"event,omitempty"`
	Content  any             `json:"content,omitempty"`
	Checksum string          `json:"checksum,omitempty"`
	Granted  *bool           `json:"granted,omitempty"`
	Members  []cache.Member  `json:"members,omitempty"`
	Cursor   json.RawMessage `json:"cursor,omitempty"`
	Error    string          `json:"error,omitempty"`
}

func parseMode(s string) collab.SyncMode {
	switch s {
	case "pessimistic":
		return collab.Pessimistic
	case "eventual":
		return collab.Eventual
	default:
		return collab.Optimistic
	}
}
