package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	SourceDirectory = "directory"
	SourceArchive   = "archive"
)

// Collection is the aggregate owning assets and their variant entries.
// Writers only ever touch it through additive, single-statement operations
// because batches for the same collection may run concurrently.
type Collection struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name       string    `gorm:"column:name;not null" json:"name"`
	SourceType string    `gorm:"column:source_type;not null;index" json:"source_type"` // directory|archive
	RootPath   string    `gorm:"column:root_path;not null" json:"root_path"`
	FolderID   uuid.UUID `gorm:"type:uuid;column:folder_id;not null;index" json:"folder_id"`
	// DirectAccess collections get alias variant entries pointing at the
	// source files instead of rendered output. Only valid for directory
	// sources; archive members cannot be served in place.
	DirectAccess bool      `gorm:"column:direct_access;not null;default:false" json:"direct_access"`
	AssetCount   int64     `gorm:"column:asset_count;not null;default:0" json:"asset_count"`
	CreatedAt    time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time `gorm:"not null" json:"updated_at"`
}

func (Collection) TableName() string { return "collection" }

func (c *Collection) ArchiveBacked() bool { return c.SourceType == SourceArchive }
