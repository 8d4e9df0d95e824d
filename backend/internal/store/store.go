// Package store persists document state and the append-only operation
// log in MySQL via gorm. The state row and the log row for one applied
// operation are always written in the same transaction, so there is no
// version for which persistence only half succeeded.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"syncServer/backend/internal/collab"
	"syncServer/backend/internal/ot"
)

// InitMySQL opens the database and migrates the two sync tables.
func InitMySQL(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	if err := db.AutoMigrate(&SyncState{}, &SyncOperation{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// Store implements collab.OperationLog on gorm.
type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// LoadState returns the state row for docID, or nil when the document
// has never been persisted.
func (s *Store) LoadState(ctx context.Context, docID string) (*collab.SnapshotRow, error) {
	var row SyncState
	err := s.db.WithContext(ctx).Where("document_id = ?", docID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	docType := ot.DocumentType(row.DocumentType)
	content, err := decodeContent(docType, row.Content)
	if err != nil {
		return nil, fmt.Errorf("decode content %s: %w", docID, err)
	}
	return &collab.SnapshotRow{
		DocumentID:   row.DocumentID,
		DocumentType: docType,
		Version:      row.Version,
		Content:      content,
		Checksum:     row.Checksum,
		UpdatedAt:    row.UpdatedAt,
	}, nil
}

// RecentOperations returns the newest limit operations in ascending
// version order, for rebuilding the in-memory transform window.
func (s *Store) RecentOperations(ctx context.Context, docID string, limit int) ([]ot.Operation, error) {
	var rows []SyncOperation
	err := s.db.WithContext(ctx).
		Where("document_id = ?", docID).
		Order("version DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	ops := make([]ot.Operation, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		op, err := rowToOp(rows[i])
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// OperationsUpTo returns every operation with version <= target in
// ascending order, the replay input for snapshot reconstruction.
func (s *Store) OperationsUpTo(ctx context.Context, docID string, version uint64) ([]ot.Operation, error) {
	var rows []SyncOperation
	err := s.db.WithContext(ctx).
		Where("document_id = ? AND version <= ?", docID, version).
		Order("version ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	ops := make([]ot.Operation, 0, len(rows))
	for _, r := range rows {
		op, err := rowToOp(r)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// SaveApplied upserts the state row and appends the operation row in a
// single transaction.
func (s *Store) SaveApplied(ctx context.Context, row collab.SnapshotRow, op ot.Operation, version uint64) error {
	state, err := stateToRow(row)
	if err != nil {
		return err
	}
	opRow, err := opToRow(op, version, row.Checksum)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(&state).Error; err != nil {
			return fmt.Errorf("save state %s: %w", row.DocumentID, err)
		}
		if err := tx.Create(&opRow).Error; err != nil {
			return fmt.Errorf("append operation %s: %w", op.ID, err)
		}
		return nil
	})
}

func stateToRow(row collab.SnapshotRow) (SyncState, error) {
	content, err := encodeContent(row.Content)
	if err != nil {
		return SyncState{}, err
	}
	return SyncState{
		DocumentID:   row.DocumentID,
		DocumentType: string(row.DocumentType),
		Version:      row.Version,
		Content:      content,
		Checksum:     row.Checksum,
		UpdatedAt:    row.UpdatedAt,
	}, nil
}

func opToRow(op ot.Operation, version uint64, checksum string) (SyncOperation, error) {
	content, err := encodeContent(op.Content)
	if err != nil {
		return SyncOperation{}, err
	}
	attrs := ""
	if op.Attributes != nil {
		b, err := json.Marshal(op.Attributes)
		if err != nil {
			return SyncOperation{}, err
		}
		attrs = string(b)
	}
	return SyncOperation{
		ID:            op.ID,
		DocumentID:    op.DocumentID,
		Type:          string(op.Type),
		UserID:        op.UserID,
		Timestamp:     op.Timestamp,
		Position:      op.Position,
		Length:        op.Length,
		Content:       content,
		Attributes:    attrs,
		ParentVersion: op.ParentVersion,
		Version:       version,
		Checksum:      checksum,
	}, nil
}

func rowToOp(r SyncOperation) (ot.Operation, error) {
	var content any
	if r.Content != "" {
		if err := json.Unmarshal([]byte(r.Content), &content); err != nil {
			return ot.Operation{}, fmt.Errorf("decode op %s content: %w", r.ID, err)
		}
	}
	var attrs map[string]any
	if r.Attributes != "" {
		if err := json.Unmarshal([]byte(r.Attributes), &attrs); err != nil {
			return ot.Operation{}, fmt.Errorf("decode op %s attributes: %w", r.ID, err)
		}
	}
	return ot.Operation{
		ID:            r.ID,
		Type:          ot.OpType(r.Type),
		DocumentID:    r.DocumentID,
		UserID:        r.UserID,
		Timestamp:     r.Timestamp,
		Position:      r.Position,
		Length:        r.Length,
		Content:       content,
		Attributes:    attrs,
		ParentVersion: r.ParentVersion,
		Checksum:      r.Checksum,
	}, nil
}

// encodeContent serializes any content shape to the JSON column.
func encodeContent(content any) (string, error) {
	if content == nil {
		return "", nil
	}
	b, err := json.Marshal(content)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// decodeContent reverses encodeContent with the document type steering
// the target shape ([]byte round-trips through base64 for binary docs).
func decodeContent(t ot.DocumentType, raw string) (any, error) {
	if raw == "" {
		return nil, nil
	}
	switch t {
	case ot.DocText, ot.DocCode:
		var s string
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			return nil, err
		}
		return s, nil
	case ot.DocBinary:
		var b []byte
		if err := json.Unmarshal([]byte(raw), &b); err != nil {
			return nil, err
		}
		return b, nil
	default:
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, err
		}
		return v, nil
	}
}
