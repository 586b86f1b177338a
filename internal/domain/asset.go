package domain

import (
	"time"

	"github.com/google/uuid"
)

type Asset struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CollectionID uuid.UUID `gorm:"type:uuid;column:collection_id;not null;index" json:"collection_id"`
	Path         string    `gorm:"column:path;not null" json:"path"`
	ByteSize     int64     `gorm:"column:byte_size;not null;default:0" json:"byte_size"`
	Format       string    `gorm:"column:format" json:"format,omitempty"`
	CreatedAt    time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time `gorm:"not null" json:"updated_at"`
}

func (Asset) TableName() string { return "asset" }
