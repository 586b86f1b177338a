package repos

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/avastel/mediavault-backend/internal/domain"
	"github.com/avastel/mediavault-backend/internal/platform/logger"
)

type ProgressLedgerRepo interface {
	// Create persists the ledger and its expected asset rows in one
	// transaction. Returns ErrAlreadyExists on an idempotent re-invocation
	// for the same job id.
	Create(ctx context.Context, tx *gorm.DB, ledger *domain.ProgressLedger, assets []*domain.LedgerAsset) error
	GetByID(ctx context.Context, tx *gorm.DB, jobID uuid.UUID) (*domain.ProgressLedger, error)
	List(ctx context.Context, tx *gorm.DB, jobType string, status string, limit int) ([]*domain.ProgressLedger, error)
	// RecordOutcome flips the (job, asset) row from pending to a terminal
	// outcome and bumps the matching ledger counter. Returns false without
	// touching anything when the asset was already processed, which is what
	// absorbs duplicate delivery from the broker.
	RecordOutcome(ctx context.Context, tx *gorm.DB, jobID uuid.UUID, assetID uuid.UUID, outcome string, bytes int64, errorClass string) (bool, error)
	// Heartbeat refreshes last_progress_at without touching counters.
	Heartbeat(ctx context.Context, tx *gorm.DB, jobID uuid.UUID) error
	// TransitionIfComplete flips status to completed exactly once, guarded
	// so two writers finishing the last items simultaneously cannot both
	// transition.
	TransitionIfComplete(ctx context.Context, tx *gorm.DB, jobID uuid.UUID) (bool, error)
	// SetStatus is a compare-and-swap from any of the given statuses.
	SetStatus(ctx context.Context, tx *gorm.DB, jobID uuid.UUID, fromStatuses []string, to string) (bool, error)
	// ListIncomplete returns ledgers the recovery sweep may act on; failed
	// ledgers are excluded because they require operator action.
	ListIncomplete(ctx context.Context, tx *gorm.DB) ([]*domain.ProgressLedger, error)
	UnresolvedAssets(ctx context.Context, tx *gorm.DB, jobID uuid.UUID) ([]*domain.LedgerAsset, error)
	ErrorBreakdown(ctx context.Context, tx *gorm.DB, jobID uuid.UUID) (map[string]int64, error)
}

type progressLedgerRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewProgressLedgerRepo(db *gorm.DB, baseLog *logger.Logger) ProgressLedgerRepo {
	return &progressLedgerRepo{
		db:  db,
		log: baseLog.With("repo", "ProgressLedgerRepo"),
	}
}

func (r *progressLedgerRepo) Create(ctx context.Context, tx *gorm.DB, ledger *domain.ProgressLedger, assets []*domain.LedgerAsset) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if ledger == nil || ledger.JobID == uuid.Nil {
		return fmt.Errorf("ledger with job id required")
	}
	now := time.Now()
	if ledger.LastProgressAt.IsZero() {
		ledger.LastProgressAt = now
	}
	ledger.CreatedAt = now
	ledger.UpdatedAt = now
	return transaction.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		if err := txx.Create(ledger).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrAlreadyExists
			}
			return err
		}
		if len(assets) == 0 {
			return nil
		}
		for _, a := range assets {
			a.JobID = ledger.JobID
			if a.Outcome == "" {
				a.Outcome = domain.OutcomePending
			}
			a.UpdatedAt = now
		}
		return txx.Clauses(clause.OnConflict{DoNothing: true}).
			CreateInBatches(&assets, 500).Error
	})
}

func (r *progressLedgerRepo) GetByID(ctx context.Context, tx *gorm.DB, jobID uuid.UUID) (*domain.ProgressLedger, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if jobID == uuid.Nil {
		return nil, nil
	}
	var ledger domain.ProgressLedger
	err := transaction.WithContext(ctx).
		Where("job_id = ?", jobID).
		Limit(1).
		Find(&ledger).Error
	if err != nil {
		return nil, err
	}
	if ledger.JobID == uuid.Nil {
		return nil, nil
	}
	return &ledger, nil
}

func (r *progressLedgerRepo) List(ctx context.Context, tx *gorm.DB, jobType string, status string, limit int) ([]*domain.ProgressLedger, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	q := transaction.WithContext(ctx).Model(&domain.ProgressLedger{})
	if jobType != "" {
		q = q.Where("job_type = ?", jobType)
	}
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	var out []*domain.ProgressLedger
	if err := q.Order("created_at DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func counterColumn(outcome string) (string, error) {
	switch outcome {
	case domain.OutcomeCompleted:
		return "completed_count", nil
	case domain.OutcomeSkipped:
		return "skipped_count", nil
	case domain.OutcomeFailed:
		return "failed_count", nil
	default:
		return "", fmt.Errorf("unknown outcome %q", outcome)
	}
}

func (r *progressLedgerRepo) RecordOutcome(ctx context.Context, tx *gorm.DB, jobID uuid.UUID, assetID uuid.UUID, outcome string, bytes int64, errorClass string) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if jobID == uuid.Nil || assetID == uuid.Nil {
		return false, nil
	}
	column, err := counterColumn(outcome)
	if err != nil {
		return false, err
	}
	now := time.Now()
	recorded := false
	err = transaction.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		// Guarded pending->terminal flip. RowsAffected==0 means another
		// delivery of the same work item got here first; counters stay put.
		res := txx.Model(&domain.LedgerAsset{}).
			Where("job_id = ? AND asset_id = ? AND outcome = ?", jobID, assetID, domain.OutcomePending).
			Updates(map[string]interface{}{
				"outcome":     outcome,
				"error_class": errorClass,
				"bytes":       bytes,
				"updated_at":  now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		recorded = true
		return txx.Model(&domain.ProgressLedger{}).
			Where("job_id = ?", jobID).
			Updates(map[string]interface{}{
				column:                gorm.Expr(column+" + 1"),
				"total_bytes_written": gorm.Expr("total_bytes_written + ?", bytes),
				"last_progress_at":    now,
				"updated_at":          now,
			}).Error
	})
	if err != nil {
		return false, err
	}
	return recorded, nil
}

func (r *progressLedgerRepo) Heartbeat(ctx context.Context, tx *gorm.DB, jobID uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if jobID == uuid.Nil {
		return nil
	}
	now := time.Now()
	return transaction.WithContext(ctx).
		Model(&domain.ProgressLedger{}).
		Where("job_id = ? AND status = ?", jobID, domain.LedgerRunning).
		Updates(map[string]interface{}{
			"last_progress_at": now,
			"updated_at":       now,
		}).Error
}

func (r *progressLedgerRepo) TransitionIfComplete(ctx context.Context, tx *gorm.DB, jobID uuid.UUID) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if jobID == uuid.Nil {
		return false, nil
	}
	now := time.Now()
	res := transaction.WithContext(ctx).
		Model(&domain.ProgressLedger{}).
		Where("job_id = ? AND status = ? AND completed_count + skipped_count + failed_count >= expected_count",
			jobID, domain.LedgerRunning).
		Updates(map[string]interface{}{
			"status":     domain.LedgerCompleted,
			"updated_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *progressLedgerRepo) SetStatus(ctx context.Context, tx *gorm.DB, jobID uuid.UUID, fromStatuses []string, to string) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if jobID == uuid.Nil || to == "" {
		return false, nil
	}
	now := time.Now()
	q := transaction.WithContext(ctx).
		Model(&domain.ProgressLedger{}).
		Where("job_id = ?", jobID)
	if len(fromStatuses) > 0 {
		q = q.Where("status IN ?", fromStatuses)
	}
	res := q.Updates(map[string]interface{}{
		"status":     to,
		"updated_at": now,
	})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *progressLedgerRepo) ListIncomplete(ctx context.Context, tx *gorm.DB) ([]*domain.ProgressLedger, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*domain.ProgressLedger
	err := transaction.WithContext(ctx).
		Where("status NOT IN ?", []string{domain.LedgerCompleted, domain.LedgerFailed}).
		Order("created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *progressLedgerRepo) UnresolvedAssets(ctx context.Context, tx *gorm.DB, jobID uuid.UUID) ([]*domain.LedgerAsset, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if jobID == uuid.Nil {
		return nil, nil
	}
	var out []*domain.LedgerAsset
	err := transaction.WithContext(ctx).
		Where("job_id = ? AND outcome = ?", jobID, domain.OutcomePending).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *progressLedgerRepo) ErrorBreakdown(ctx context.Context, tx *gorm.DB, jobID uuid.UUID) (map[string]int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if jobID == uuid.Nil {
		return map[string]int64{}, nil
	}
	type row struct {
		ErrorClass string
		N          int64
	}
	var rows []row
	err := transaction.WithContext(ctx).
		Model(&domain.LedgerAsset{}).
		Select("error_class, count(*) as n").
		Where("job_id = ? AND outcome = ?", jobID, domain.OutcomeFailed).
		Group("error_class").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, rw := range rows {
		out[rw.ErrorClass] = rw.N
	}
	return out, nil
}
