package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	VariantThumbnail = "thumbnail"
	VariantCache     = "cache"
)

// VariantEntry records one derived rendition of an asset. The composite
// unique index is what makes duplicate delivery harmless: a second insert for
// the same (asset, kind, width, height) is a conflict no-op, never an
// overwrite.
type VariantEntry struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CollectionID uuid.UUID `gorm:"type:uuid;column:collection_id;not null;index" json:"collection_id"`
	AssetID      uuid.UUID `gorm:"type:uuid;column:asset_id;not null;uniqueIndex:idx_variant_identity,priority:1" json:"asset_id"`
	Kind         string    `gorm:"column:kind;not null;uniqueIndex:idx_variant_identity,priority:2" json:"kind"` // thumbnail|cache
	Width        int       `gorm:"column:width;not null;uniqueIndex:idx_variant_identity,priority:3" json:"width"`
	Height       int       `gorm:"column:height;not null;uniqueIndex:idx_variant_identity,priority:4" json:"height"`
	Path         string    `gorm:"column:path;not null" json:"path"`
	ByteSize     int64     `gorm:"column:byte_size;not null;default:0" json:"byte_size"`
	Format       string    `gorm:"column:format" json:"format,omitempty"`
	// IsDirectReference means Path aliases the source asset itself and no
	// file was rendered. Directory-backed collections only.
	IsDirectReference bool      `gorm:"column:is_direct_reference;not null;default:false" json:"is_direct_reference"`
	GeneratedAt       time.Time `gorm:"column:generated_at;not null" json:"generated_at"`
}

func (VariantEntry) TableName() string { return "variant_entry" }
