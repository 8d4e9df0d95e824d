package store

import (
	"bytes"
	"testing"

	"syncServer/backend/internal/ot"
)

func TestContentRoundTrip_Text(t *testing.T) {
	raw, err := encodeContent("Hello world")
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}
	got, err := decodeContent(ot.DocText, raw)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if got != "Hello world" {
		t.Fatalf("decoded = %v, want %q", got, "Hello world")
	}
}

func TestContentRoundTrip_Binary(t *testing.T) {
	payload := []byte{0x00, 0x01, 0xff}
	raw, err := encodeContent(payload)
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}
	got, err := decodeContent(ot.DocBinary, raw)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if !bytes.Equal(got.([]byte), payload) {
		t.Fatalf("decoded = %v, want %v", got, payload)
	}
}

func TestContentRoundTrip_Object(t *testing.T) {
	raw, err := encodeContent(map[string]any{"title": "draft", "n": 2})
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}
	got, err := decodeContent(ot.DocJSON, raw)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	m := got.(map[string]any)
	if m["title"] != "draft" || m["n"] != float64(2) {
		t.Fatalf("decoded = %v", m)
	}
}

func TestContentRoundTrip_Empty(t *testing.T) {
	raw, err := encodeContent(nil)
	if err != nil || raw != "" {
		t.Fatalf("encode nil = (%q, %v), want empty", raw, err)
	}
	got, err := decodeContent(ot.DocText, "")
	if err != nil || got != nil {
		t.Fatalf("decode empty = (%v, %v), want nil", got, err)
	}
}

func TestOpRowRoundTrip(t *testing.T) {
	op := ot.New(ot.OpInsert, "doc-1", ot.DocText, "user-a", 4)
	op.Position = 7
	op.Content = "abc"
	op.Attributes = map[string]any{"bold": true}

	row, err := opToRow(op, 5, "abc123")
	if err != nil {
		t.Fatalf("opToRow error: %v", err)
	}
	if row.Version != 5 || row.Checksum != "abc123" {
		t.Fatalf("row = %+v", row)
	}

	back, err := rowToOp(row)
	if err != nil {
		t.Fatalf("rowToOp error: %v", err)
	}
	if back.ID != op.ID || back.Type != op.Type || back.Position != 7 {
		t.Fatalf("round trip = %+v", back)
	}
	if back.Text() != "abc" {
		t.Fatalf("content = %v, want abc", back.Content)
	}
	if back.Attributes["bold"] != true {
		t.Fatalf("attributes = %v", back.Attributes)
	}
	if back.ParentVersion != 4 {
		t.Fatalf("parent version = %d, want 4", back.ParentVersion)
	}
}
