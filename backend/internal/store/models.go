package store

import "time"

// SyncState is the per-document state row: the latest materialized
// content, its version and checksum.
type SyncState struct {
	DocumentID   string    `gorm:"column:document_id;primaryKey;size:64"`
	DocumentType string    `gorm:"column:document_type;size:16"`
	Version      uint64    `gorm:"column:version"`
	Content      string    `gorm:"column:content;type:longtext"`
	Checksum     string    `gorm:"column:checksum;size:64"`
	UpdatedAt    time.Time `gorm:"column:updated_at"`
}

func (SyncState) TableName() string { return "sync_states" }

// SyncOperation is one append-only log row per applied operation.
// (document_id, version) is indexed for windowed reads and replay.
type SyncOperation struct {
	ID            string    `gorm:"column:id;primaryKey;size:36"`
	DocumentID    string    `gorm:"column:document_id;size:64;index:idx_doc_version,priority:1"`
	Type          string    `gorm:"column:type;size:16"`
	UserID        string    `gorm:"column:user_id;size:64"`
	Timestamp     time.Time `gorm:"column:timestamp"`
	Position      int       `gorm:"column:position"`
	Length        int       `gorm:"column:length"`
	Content       string    `gorm:"column:content;type:longtext"`
	Attributes    string    `gorm:"column:attributes;type:text"`
	ParentVersion uint64    `gorm:"column:parent_version"`
	Version       uint64    `gorm:"column:version;index:idx_doc_version,priority:2"`
	Checksum      string    `gorm:"column:checksum;size:64"`
}

func (SyncOperation) TableName() string { return "sync_operations" }
