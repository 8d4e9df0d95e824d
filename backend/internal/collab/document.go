package collab

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"syncServer/backend/internal/ot"
)

// DocumentLock is a cooperative reservation over a span of the document.
type DocumentLock struct {
	UserID    string    `json:"userId"`
	Start     int       `json:"start"`
	End       int       `json:"end"`
	Exclusive bool      `json:"exclusive"`
	Timestamp time.Time `json:"timestamp"`
}

// Document is the read-only view handed out by the service.
type Document struct {
	ID           string          `json:"id"`
	Type         ot.DocumentType `json:"type"`
	Version      uint64          `json:"version"`
	Content      any             `json:"content"`
	Checksum     string          `json:"checksum"`
	LastModified time.Time       `json:"lastModified"`
}

// docState is the authoritative per-document aggregate. All fields are
// guarded by mu; the service takes it for the whole apply pipeline so
// version increments, window reads and persistence stay linearizable.
type docState struct {
	mu sync.Mutex

	id           string
	docType      ot.DocumentType
	version      uint64
	content      any
	checksum     string
	lastModified time.Time

	// Sliding window of recent applied operations, the transform
	// context. Older history lives only in the persistence layer.
	window []ot.Operation

	subscribers     map[string]struct{}
	locks           map[string]DocumentLock
	lastSeqByClient map[string]uint64

	// Present only for text/code documents.
	crdt TextCRDT
}

func newDocState(id string, docType ot.DocumentType) *docState {
	ds := &docState{
		id:              id,
		docType:         docType,
		content:         emptyContent(docType),
		subscribers:     make(map[string]struct{}),
		locks:           make(map[string]DocumentLock),
		lastSeqByClient: make(map[string]uint64),
	}
	if docType.HasCRDT() {
		ds.crdt = NewTextCRDT()
	}
	ds.checksum = checksumOf(ds.content)
	return ds
}

func emptyContent(t ot.DocumentType) any {
	switch t {
	case ot.DocJSON, ot.DocWorkflow:
		return map[string]any{}
	case ot.DocBinary:
		return []byte{}
	default:
		return ""
	}
}

// appendWindow appends op and evicts the oldest entry past the cap. The
// evicted entry is returned so a rollback can put it back.
func (d *docState) appendWindow(op ot.Operation, cap int) (evicted ot.Operation, ok bool) {
	d.window = append(d.window, op)
	if cap > 0 && len(d.window) > cap {
		evicted, ok = d.window[0], true
		copy(d.window, d.window[1:])
		d.window = d.window[:len(d.window)-1]
	}
	return evicted, ok
}

// concurrentSince returns the window operations whose parent version is
// at or past v, i.e. everything committed concurrently with an incoming
// operation anchored at v.
func (d *docState) concurrentSince(v uint64) []ot.Operation {
	out := make([]ot.Operation, 0, len(d.window))
	for _, h := range d.window {
		if h.ParentVersion >= v {
			out = append(out, h)
		}
	}
	return out
}

func (d *docState) snapshotView() Document {
	return Document{
		ID:           d.id,
		Type:         d.docType,
		Version:      d.version,
		Content:      cloneContent(d.content),
		Checksum:     d.checksum,
		LastModified: d.lastModified,
	}
}

// checksumOf hashes the materialized content. json.Marshal sorts object
// keys, so the hash is stable for structured documents.
func checksumOf(content any) string {
	var b []byte
	switch c := content.(type) {
	case string:
		b = []byte(c)
	case []byte:
		b = c
	default:
		b, _ = json.Marshal(c)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func cloneContent(content any) any {
	switch c := content.(type) {
	case string:
		return c
	case []byte:
		out := make([]byte, len(c))
		copy(out, c)
		return out
	case map[string]any:
		out := make(map[string]any, len(c))
		for k, v := range c {
			out[k] = cloneValue(v)
		}
		return out
	case []any:
		out := make([]any, len(c))
		for i, v := range c {
			out[i] = cloneValue(v)
		}
		return out
	default:
		return c
	}
}

func cloneValue(v any) any {
	switch vv := v.(type) {
	case map[string]any, []any, []byte:
		return cloneContent(vv)
	default:
		return v
	}
}

// applyToContent performs the direct structural mutation for op and
// returns the new content plus the pre-image needed to invert it (the
// deleted text for deletes, replaced values for updates). This is the
// path used both for live non-CRDT documents and for historical replay.
func applyToContent(content any, op ot.Operation) (next any, previous any, err error) {
	switch c := content.(type) {
	case string:
		return applyToText(c, op)
	case []byte:
		return applyToBinary(c, op)
	case map[string]any:
		return applyToObject(c, op)
	case []any:
		return applyToArray(c, op)
	default:
		return nil, nil, fmt.Errorf("apply %s: unsupported content type %T", op.Type, content)
	}
}

func applyToText(s string, op ot.Operation) (any, any, error) {
	r := []rune(s)
	switch op.Type {
	case ot.OpInsert:
		p := clamp(op.Position, len(r))
		out := string(r[:p]) + op.Text() + string(r[p:])
		return out, nil, nil
	case ot.OpDelete:
		p := clamp(op.Position, len(r))
		end := clamp(p+op.Length, len(r))
		removed := string(r[p:end])
		return string(r[:p]) + string(r[end:]), removed, nil
	case ot.OpUpdate:
		return op.Text(), s, nil
	case ot.OpFormat, ot.OpMove:
		// Formatting lives in the CRDT layer for text documents; plain
		// strings carry no attributes.
		return s, nil, nil
	default:
		return nil, nil, fmt.Errorf("apply: unknown operation type %q", op.Type)
	}
}

func applyToBinary(b []byte, op ot.Operation) (any, any, error) {
	payload, _ := op.Content.([]byte)
	switch op.Type {
	case ot.OpInsert:
		p := clamp(op.Position, len(b))
		out := make([]byte, 0, len(b)+len(payload))
		out = append(out, b[:p]...)
		out = append(out, payload...)
		out = append(out, b[p:]...)
		return out, nil, nil
	case ot.OpDelete:
		p := clamp(op.Position, len(b))
		end := clamp(p+op.Length, len(b))
		removed := make([]byte, end-p)
		copy(removed, b[p:end])
		out := make([]byte, 0, len(b)-(end-p))
		out = append(out, b[:p]...)
		out = append(out, b[end:]...)
		return out, removed, nil
	case ot.OpUpdate:
		return payload, b, nil
	default:
		return b, nil, nil
	}
}

func applyToObject(m map[string]any, op ot.Operation) (any, any, error) {
	switch op.Type {
	case ot.OpInsert, ot.OpUpdate:
		patch := op.ContentMap()
		if patch == nil {
			return nil, nil, fmt.Errorf("apply %s: object document needs an object payload", op.Type)
		}
		out := cloneContent(m).(map[string]any)
		prev := make(map[string]any, len(patch))
		for k, v := range patch {
			if old, ok := out[k]; ok {
				prev[k] = old
			}
			out[k] = v
		}
		return out, prev, nil
	case ot.OpDelete:
		out := cloneContent(m).(map[string]any)
		prev := make(map[string]any)
		for _, k := range op.DeleteKeys() {
			if old, ok := out[k]; ok {
				prev[k] = old
				delete(out, k)
			}
		}
		return out, prev, nil
	default:
		return m, nil, nil
	}
}

func applyToArray(a []any, op ot.Operation) (any, any, error) {
	switch op.Type {
	case ot.OpInsert:
		p := clamp(op.Position, len(a))
		out := make([]any, 0, len(a)+1)
		out = append(out, a[:p]...)
		out = append(out, op.Content)
		out = append(out, a[p:]...)
		return out, nil, nil
	case ot.OpDelete:
		p := clamp(op.Position, len(a))
		end := clamp(p+op.Length, len(a))
		removed := make([]any, end-p)
		copy(removed, a[p:end])
		out := make([]any, 0, len(a)-(end-p))
		out = append(out, a[:p]...)
		out = append(out, a[end:]...)
		return out, removed, nil
	case ot.OpUpdate:
		p := clamp(op.Position, len(a)-1)
		if len(a) == 0 {
			return a, nil, fmt.Errorf("apply update: empty array")
		}
		out := cloneContent(a).([]any)
		prev := out[p]
		out[p] = op.Content
		return out, prev, nil
	case ot.OpMove:
		// Position is the source index, Length the target index.
		if op.Position < 0 || op.Position >= len(a) {
			return a, nil, fmt.Errorf("apply move: source %d out of range", op.Position)
		}
		out := cloneContent(a).([]any)
		v := out[op.Position]
		out = append(out[:op.Position], out[op.Position+1:]...)
		t := clamp(op.Length, len(out))
		out = append(out[:t], append([]any{v}, out[t:]...)...)
		return out, nil, nil
	default:
		return a, nil, nil
	}
}

func clamp(v, max int) int {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}
