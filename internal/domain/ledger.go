package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	JobTypeThumbnail = "thumbnail"
	JobTypeCache     = "cache"
	JobTypeBoth      = "both"
)

const (
	LedgerPending   = "pending"
	LedgerRunning   = "running"
	LedgerPaused    = "paused"
	LedgerFailed    = "failed"
	LedgerCompleted = "completed"
)

const (
	OutcomePending   = "pending"
	OutcomeCompleted = "completed"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
)

// VariantSettings is the typed settings snapshot stamped onto a ledger at
// orchestration time. It is serialized only at the persistence boundary.
type VariantSettings struct {
	ThumbWidth  int    `json:"thumb_width"`
	ThumbHeight int    `json:"thumb_height"`
	CacheWidth  int    `json:"cache_width"`
	CacheHeight int    `json:"cache_height"`
	Format      string `json:"format"`
	Quality     int    `json:"quality"`
}

func (s VariantSettings) Snapshot() datatypes.JSON {
	b, _ := json.Marshal(s)
	return datatypes.JSON(b)
}

func SettingsFromSnapshot(raw datatypes.JSON) (VariantSettings, error) {
	var s VariantSettings
	if len(raw) == 0 {
		return s, nil
	}
	err := json.Unmarshal(raw, &s)
	return s, err
}

// ProgressLedger is the durable progress record for one generation job.
// Counters are only ever mutated through single-statement increments keyed
// off a guarded ledger_asset row flip, so completed+skipped+failed never
// exceeds expected regardless of delivery duplication or worker concurrency.
type ProgressLedger struct {
	JobID             uuid.UUID      `gorm:"type:uuid;column:job_id;primaryKey" json:"job_id"`
	JobType           string         `gorm:"column:job_type;not null;index" json:"job_type"` // thumbnail|cache|both
	Status            string         `gorm:"column:status;not null;index" json:"status"`
	ExpectedCount     int64          `gorm:"column:expected_count;not null" json:"expected_count"`
	CompletedCount    int64          `gorm:"column:completed_count;not null;default:0" json:"completed_count"`
	SkippedCount      int64          `gorm:"column:skipped_count;not null;default:0" json:"skipped_count"`
	FailedCount       int64          `gorm:"column:failed_count;not null;default:0" json:"failed_count"`
	TotalBytesWritten int64          `gorm:"column:total_bytes_written;not null;default:0" json:"total_bytes_written"`
	LastProgressAt    time.Time      `gorm:"column:last_progress_at;not null" json:"last_progress_at"`
	Settings          datatypes.JSON `gorm:"column:settings" json:"settings,omitempty"`
	CreatedAt         time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt         time.Time      `gorm:"not null" json:"updated_at"`
}

func (ProgressLedger) TableName() string { return "progress_ledger" }

func (l *ProgressLedger) ProcessedCount() int64 {
	return l.CompletedCount + l.SkippedCount + l.FailedCount
}

// LedgerAsset is one expected asset of a job. Rows are created in bulk with
// outcome=pending when the ledger is created; recording an outcome is a
// guarded pending->terminal flip, which is what makes outcome recording
// idempotent per (job, asset) and makes the unresolved set a plain query.
type LedgerAsset struct {
	JobID        uuid.UUID `gorm:"type:uuid;column:job_id;primaryKey" json:"job_id"`
	AssetID      uuid.UUID `gorm:"type:uuid;column:asset_id;primaryKey" json:"asset_id"`
	CollectionID uuid.UUID `gorm:"type:uuid;column:collection_id;not null;index" json:"collection_id"`
	Outcome      string    `gorm:"column:outcome;not null;index" json:"outcome"` // pending|completed|skipped|failed
	ErrorClass   string    `gorm:"column:error_class" json:"error_class,omitempty"`
	Bytes        int64     `gorm:"column:bytes;not null;default:0" json:"bytes"`
	UpdatedAt    time.Time `gorm:"not null" json:"updated_at"`
}

func (LedgerAsset) TableName() string { return "ledger_asset" }
