package ot

import (
	"time"

	"github.com/google/uuid"
)

type OpType string

const (
	OpInsert OpType = "insert"
	OpDelete OpType = "delete"
	OpUpdate OpType = "update"
	OpMove   OpType = "move"
	OpFormat OpType = "format"
)

type DocumentType string

const (
	DocText     DocumentType = "text"
	DocJSON     DocumentType = "json"
	DocBinary   DocumentType = "binary"
	DocWorkflow DocumentType = "workflow"
	DocCode     DocumentType = "code"
)

// HasCRDT reports whether documents of this type get a CRDT text backend.
func (t DocumentType) HasCRDT() bool {
	return t == DocText || t == DocCode
}

// Operation is the atomic, immutable change record. ParentVersion is the
// document version the author believed current when the operation was
// created; it anchors the transform window.
type Operation struct {
	ID            string         `json:"id"`
	Type          OpType         `json:"type"`
	DocumentID    string         `json:"documentId"`
	DocumentType  DocumentType   `json:"documentType"`
	UserID        string         `json:"userId"`
	Timestamp     time.Time      `json:"timestamp"`
	Position      int            `json:"position"`
	Length        int            `json:"length"`
	Content       any            `json:"content,omitempty"`
	Attributes    map[string]any `json:"attributes,omitempty"`
	ParentVersion uint64         `json:"parentVersion"`
	Checksum      string         `json:"checksum,omitempty"`
}

// New builds an operation with a fresh id and the current wall clock.
func New(t OpType, docID string, docType DocumentType, userID string, parentVersion uint64) Operation {
	return Operation{
		ID:            uuid.NewString(),
		Type:          t,
		DocumentID:    docID,
		DocumentType:  docType,
		UserID:        userID,
		Timestamp:     time.Now(),
		ParentVersion: parentVersion,
	}
}

// Text returns the content payload as a string, or "" when it is not one.
func (op Operation) Text() string {
	s, _ := op.Content.(string)
	return s
}

// ContentMap returns the content payload as an object, or nil.
func (op Operation) ContentMap() map[string]any {
	m, _ := op.Content.(map[string]any)
	return m
}

// DeleteKeys lists the object keys a delete targets on structured
// documents. Accepts a single string, a string slice, or a decoded JSON
// array.
func (op Operation) DeleteKeys() []string {
	switch c := op.Content.(type) {
	case string:
		return []string{c}
	case []string:
		return c
	case []any:
		keys := make([]string, 0, len(c))
		for _, v := range c {
			if s, ok := v.(string); ok {
				keys = append(keys, s)
			}
		}
		return keys
	}
	return nil
}

// SpanLength is the extent the operation occupies in the document: the
// rune count of the payload for inserts, the Length field otherwise.
func (op Operation) SpanLength() int {
	if op.Type == OpInsert {
		if n := len([]rune(op.Text())); n > 0 {
			return n
		}
	}
	return op.Length
}
