package domain

import (
	"time"

	"github.com/google/uuid"
)

// FolderStat tracks per-storage-folder capacity. Updated additively by the
// batch writer; reconciliation against the physical tree is an external
// audit concern.
type FolderStat struct {
	FolderID        uuid.UUID `gorm:"type:uuid;column:folder_id;primaryKey" json:"folder_id"`
	FileCount       int64     `gorm:"column:file_count;not null;default:0" json:"file_count"`
	TotalBytes      int64     `gorm:"column:total_bytes;not null;default:0" json:"total_bytes"`
	LastGeneratedAt time.Time `gorm:"column:last_generated_at" json:"last_generated_at"`
}

func (FolderStat) TableName() string { return "folder_stat" }

// FolderCollection records which collections write into a folder. Insert-only
// set semantics via the composite primary key.
type FolderCollection struct {
	FolderID     uuid.UUID `gorm:"type:uuid;column:folder_id;primaryKey" json:"folder_id"`
	CollectionID uuid.UUID `gorm:"type:uuid;column:collection_id;primaryKey" json:"collection_id"`
}

func (FolderCollection) TableName() string { return "folder_collection" }
