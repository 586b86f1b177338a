package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/avastel/mediavault-backend/internal/domain"
	"github.com/avastel/mediavault-backend/internal/platform/logger"
)

type FolderStatRepo interface {
	// Bump adds files/bytes to a folder's rollup and records the owning
	// collection. Pure upsert arithmetic; concurrent batch writers commute.
	Bump(ctx context.Context, tx *gorm.DB, folderID uuid.UUID, collectionID uuid.UUID, files int64, bytes int64) error
	Get(ctx context.Context, tx *gorm.DB, folderID uuid.UUID) (*domain.FolderStat, error)
	OwnerCollections(ctx context.Context, tx *gorm.DB, folderID uuid.UUID) ([]uuid.UUID, error)
}

type folderStatRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewFolderStatRepo(db *gorm.DB, baseLog *logger.Logger) FolderStatRepo {
	return &folderStatRepo{
		db:  db,
		log: baseLog.With("repo", "FolderStatRepo"),
	}
}

func (r *folderStatRepo) Bump(ctx context.Context, tx *gorm.DB, folderID uuid.UUID, collectionID uuid.UUID, files int64, bytes int64) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if folderID == uuid.Nil {
		return nil
	}
	now := time.Now()
	return transaction.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		err := txx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "folder_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"file_count":        gorm.Expr("file_count + ?", files),
				"total_bytes":       gorm.Expr("total_bytes + ?", bytes),
				"last_generated_at": now,
			}),
		}).Create(&domain.FolderStat{
			FolderID:        folderID,
			FileCount:       files,
			TotalBytes:      bytes,
			LastGeneratedAt: now,
		}).Error
		if err != nil {
			return err
		}
		if collectionID == uuid.Nil {
			return nil
		}
		return txx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&domain.FolderCollection{
				FolderID:     folderID,
				CollectionID: collectionID,
			}).Error
	})
}

func (r *folderStatRepo) Get(ctx context.Context, tx *gorm.DB, folderID uuid.UUID) (*domain.FolderStat, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if folderID == uuid.Nil {
		return nil, nil
	}
	var fs domain.FolderStat
	err := transaction.WithContext(ctx).
		Where("folder_id = ?", folderID).
		Limit(1).
		Find(&fs).Error
	if err != nil {
		return nil, err
	}
	if fs.FolderID == uuid.Nil {
		return nil, nil
	}
	return &fs, nil
}

func (r *folderStatRepo) OwnerCollections(ctx context.Context, tx *gorm.DB, folderID uuid.UUID) ([]uuid.UUID, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var rows []domain.FolderCollection
	err := transaction.WithContext(ctx).
		Where("folder_id = ?", folderID).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]uuid.UUID, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.CollectionID)
	}
	return out, nil
}
