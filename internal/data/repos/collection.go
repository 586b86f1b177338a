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

type CollectionRepo interface {
	Create(ctx context.Context, tx *gorm.DB, collection *domain.Collection) error
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*domain.Collection, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*domain.Collection, error)
	AddAssets(ctx context.Context, tx *gorm.DB, assets []*domain.Asset) error
	GetAssetsByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*domain.Asset, error)
	// UnsatisfiedAssets returns the assets of a collection lacking a valid
	// variant entry for the given kind and dimensions. This is the
	// orchestrator pre-filter; a fully satisfied collection comes back empty.
	UnsatisfiedAssets(ctx context.Context, tx *gorm.DB, collectionID uuid.UUID, kind string, width int, height int) ([]*domain.Asset, error)
	HasValidEntry(ctx context.Context, tx *gorm.DB, assetID uuid.UUID, kind string, width int, height int) (bool, error)
	// AppendVariantEntries inserts entries with ON CONFLICT DO NOTHING so a
	// concurrent or duplicate batch can never overwrite an existing entry.
	// Returns how many rows were actually inserted.
	AppendVariantEntries(ctx context.Context, tx *gorm.DB, entries []*domain.VariantEntry) (int64, error)
	ListVariantEntries(ctx context.Context, tx *gorm.DB, collectionID uuid.UUID, kind string) ([]*domain.VariantEntry, error)
}

type collectionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCollectionRepo(db *gorm.DB, baseLog *logger.Logger) CollectionRepo {
	return &collectionRepo{
		db:  db,
		log: baseLog.With("repo", "CollectionRepo"),
	}
}

func (r *collectionRepo) Create(ctx context.Context, tx *gorm.DB, collection *domain.Collection) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now()
	collection.CreatedAt = now
	collection.UpdatedAt = now
	return transaction.WithContext(ctx).Create(collection).Error
}

func (r *collectionRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*domain.Collection, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var c domain.Collection
	err := transaction.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&c).Error
	if err != nil {
		return nil, err
	}
	if c.ID == uuid.Nil {
		return nil, nil
	}
	return &c, nil
}

func (r *collectionRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*domain.Collection, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*domain.Collection
	if len(ids) == 0 {
		return out, nil
	}
	if err := transaction.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *collectionRepo) AddAssets(ctx context.Context, tx *gorm.DB, assets []*domain.Asset) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(assets) == 0 {
		return nil
	}
	now := time.Now()
	for _, a := range assets {
		a.CreatedAt = now
		a.UpdatedAt = now
	}
	return transaction.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		res := txx.Clauses(clause.OnConflict{DoNothing: true}).
			CreateInBatches(&assets, 500)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		// Rollup bump stays additive; concurrent ingests commute.
		return txx.Model(&domain.Collection{}).
			Where("id = ?", assets[0].CollectionID).
			Updates(map[string]interface{}{
				"asset_count": gorm.Expr("asset_count + ?", res.RowsAffected),
				"updated_at":  now,
			}).Error
	})
}

func (r *collectionRepo) GetAssetsByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*domain.Asset, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*domain.Asset
	if len(ids) == 0 {
		return out, nil
	}
	if err := transaction.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *collectionRepo) UnsatisfiedAssets(ctx context.Context, tx *gorm.DB, collectionID uuid.UUID, kind string, width int, height int) ([]*domain.Asset, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if collectionID == uuid.Nil {
		return nil, nil
	}
	var out []*domain.Asset
	err := transaction.WithContext(ctx).
		Where(`collection_id = ? AND NOT EXISTS (
			SELECT 1 FROM variant_entry ve
			WHERE ve.asset_id = asset.id AND ve.kind = ? AND ve.width = ? AND ve.height = ?
		)`, collectionID, kind, width, height).
		Order("created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *collectionRepo) HasValidEntry(ctx context.Context, tx *gorm.DB, assetID uuid.UUID, kind string, width int, height int) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if assetID == uuid.Nil {
		return false, nil
	}
	var n int64
	err := transaction.WithContext(ctx).
		Model(&domain.VariantEntry{}).
		Where("asset_id = ? AND kind = ? AND width = ? AND height = ?", assetID, kind, width, height).
		Count(&n).Error
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *collectionRepo) AppendVariantEntries(ctx context.Context, tx *gorm.DB, entries []*domain.VariantEntry) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(entries) == 0 {
		return 0, nil
	}
	now := time.Now()
	for _, e := range entries {
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		if e.GeneratedAt.IsZero() {
			e.GeneratedAt = now
		}
	}
	res := transaction.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(&entries, 500)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *collectionRepo) ListVariantEntries(ctx context.Context, tx *gorm.DB, collectionID uuid.UUID, kind string) ([]*domain.VariantEntry, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if collectionID == uuid.Nil {
		return nil, nil
	}
	q := transaction.WithContext(ctx).Where("collection_id = ?", collectionID)
	if kind != "" {
		q = q.Where("kind = ?", kind)
	}
	var out []*domain.VariantEntry
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
