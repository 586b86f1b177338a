package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/avastel/mediavault-backend/internal/domain"
)

func SeedCollection(tb testing.TB, ctx context.Context, tx *gorm.DB, sourceType string, directAccess bool) *domain.Collection {
	tb.Helper()
	c := &domain.Collection{
		ID:           uuid.New(),
		Name:         "collection",
		SourceType:   sourceType,
		RootPath:     "/media/" + uuid.NewString(),
		FolderID:     uuid.New(),
		DirectAccess: directAccess,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	if err := tx.WithContext(ctx).Create(c).Error; err != nil {
		tb.Fatalf("seed collection: %v", err)
	}
	return c
}

func SeedAssets(tb testing.TB, ctx context.Context, tx *gorm.DB, collectionID uuid.UUID, n int) []*domain.Asset {
	tb.Helper()
	out := make([]*domain.Asset, 0, n)
	now := time.Now()
	for i := 0; i < n; i++ {
		a := &domain.Asset{
			ID:           uuid.New(),
			CollectionID: collectionID,
			Path:         "/media/src/" + uuid.NewString() + ".jpg",
			ByteSize:     1024,
			Format:       "jpeg",
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := tx.WithContext(ctx).Create(a).Error; err != nil {
			tb.Fatalf("seed asset: %v", err)
		}
		out = append(out, a)
	}
	return out
}

func SeedVariantEntry(tb testing.TB, ctx context.Context, tx *gorm.DB, collectionID uuid.UUID, assetID uuid.UUID, kind string, width int, height int) *domain.VariantEntry {
	tb.Helper()
	e := &domain.VariantEntry{
		ID:           uuid.New(),
		CollectionID: collectionID,
		AssetID:      assetID,
		Kind:         kind,
		Width:        width,
		Height:       height,
		Path:         "/media/variants/" + uuid.NewString() + ".jpg",
		ByteSize:     256,
		Format:       "jpeg",
		GeneratedAt:  time.Now(),
	}
	if err := tx.WithContext(ctx).Create(e).Error; err != nil {
		tb.Fatalf("seed variant entry: %v", err)
	}
	return e
}

func SeedLedger(tb testing.TB, ctx context.Context, tx *gorm.DB, jobType string, status string, assetIDs []uuid.UUID, collectionID uuid.UUID) *domain.ProgressLedger {
	tb.Helper()
	now := time.Now()
	l := &domain.ProgressLedger{
		JobID:          uuid.New(),
		JobType:        jobType,
		Status:         status,
		ExpectedCount:  int64(len(assetIDs)),
		LastProgressAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := tx.WithContext(ctx).Create(l).Error; err != nil {
		tb.Fatalf("seed ledger: %v", err)
	}
	for _, id := range assetIDs {
		la := &domain.LedgerAsset{
			JobID:        l.JobID,
			AssetID:      id,
			CollectionID: collectionID,
			Outcome:      domain.OutcomePending,
			UpdatedAt:    now,
		}
		if err := tx.WithContext(ctx).Create(la).Error; err != nil {
			tb.Fatalf("seed ledger asset: %v", err)
		}
	}
	return l
}
