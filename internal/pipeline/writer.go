package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/avastel/mediavault-backend/internal/data/repos"
	"github.com/avastel/mediavault-backend/internal/domain"
	"github.com/avastel/mediavault-backend/internal/platform/logger"
	"github.com/avastel/mediavault-backend/internal/render"
)

// ItemRender pairs a work item with whatever variants were rendered for it.
// An empty Outputs map means every requested kind already had a valid entry.
type ItemRender struct {
	Item    WorkItem
	Outputs map[string]*render.Rendered
}

// PersistedBatch reports what one WriteBatch call put on disk and in the
// aggregate.
type PersistedBatch struct {
	BytesByAsset    map[uuid.UUID]int64
	FilesWritten    int64
	BytesWritten    int64
	EntriesInserted int64
}

// BatchWriter persists a whole batch: all rendered bytes first, then one
// additive aggregate update for the collection. Batches for different
// collections never contend; batches for the same collection commute because
// every store operation is an increment or an insert-if-absent.
type BatchWriter struct {
	log         *logger.Logger
	collections repos.CollectionRepo
	folderStats repos.FolderStatRepo
	variantRoot string
}

func NewBatchWriter(baseLog *logger.Logger, collections repos.CollectionRepo, folderStats repos.FolderStatRepo, variantRoot string) *BatchWriter {
	return &BatchWriter{
		log:         baseLog.With("component", "BatchWriter"),
		collections: collections,
		folderStats: folderStats,
		variantRoot: variantRoot,
	}
}

// WriteBatch writes every rendered variant in the batch to disk, appends all
// entries in one call, and bumps the folder rollup once. Any error aborts
// the whole batch; the caller leaves its messages unacknowledged so the
// broker redelivers them.
func (w *BatchWriter) WriteBatch(ctx context.Context, collection *domain.Collection, renders []*ItemRender) (*PersistedBatch, error) {
	out := &PersistedBatch{BytesByAsset: make(map[uuid.UUID]int64)}
	if len(renders) == 0 {
		return out, nil
	}
	now := time.Now()

	var entries []*domain.VariantEntry
	for _, ir := range renders {
		for kind, rendered := range ir.Outputs {
			path, err := w.writeVariant(collection.ID, ir.Item.AssetID, kind, rendered)
			if err != nil {
				return nil, err
			}
			size := int64(len(rendered.Bytes))
			entries = append(entries, &domain.VariantEntry{
				CollectionID: collection.ID,
				AssetID:      ir.Item.AssetID,
				Kind:         kind,
				Width:        rendered.Width,
				Height:       rendered.Height,
				Path:         path,
				ByteSize:     size,
				Format:       rendered.Format,
				GeneratedAt:  now,
			})
			out.FilesWritten++
			out.BytesWritten += size
			out.BytesByAsset[ir.Item.AssetID] += size
		}
	}

	if len(entries) > 0 {
		inserted, err := w.collections.AppendVariantEntries(ctx, nil, entries)
		if err != nil {
			return nil, err
		}
		out.EntriesInserted = inserted
		if err := w.folderStats.Bump(ctx, nil, collection.FolderID, collection.ID, out.FilesWritten, out.BytesWritten); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// writeVariant lands bytes via a temp file and rename so a crash mid-write
// never leaves a half-written variant at its final path.
func (w *BatchWriter) writeVariant(collectionID uuid.UUID, assetID uuid.UUID, kind string, rendered *render.Rendered) (string, error) {
	dir := filepath.Join(w.variantRoot, collectionID.String(), kind)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", dir, err)
	}
	name := fmt.Sprintf("%s_%dx%d.%s", assetID, rendered.Width, rendered.Height, rendered.Format)
	final := filepath.Join(dir, name)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, rendered.Bytes, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("rename %s: %w", final, err)
	}
	return final, nil
}
