package pipeline

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/avastel/mediavault-backend/internal/data/repos"
	"github.com/avastel/mediavault-backend/internal/data/repos/testutil"
	"github.com/avastel/mediavault-backend/internal/domain"
	"github.com/avastel/mediavault-backend/internal/render"
)

func newWriterHarness(t *testing.T) (*BatchWriter, repos.CollectionRepo, repos.FolderStatRepo, *gorm.DB) {
	t.Helper()
	tx := testutil.Tx(t, testutil.DB(t))
	log := testutil.Logger(t)
	collections := repos.NewCollectionRepo(tx, log)
	folderStats := repos.NewFolderStatRepo(tx, log)
	return NewBatchWriter(log, collections, folderStats, t.TempDir()), collections, folderStats, tx
}

func renderedFixture(payload string) *render.Rendered {
	return &render.Rendered{
		Bytes:  []byte(payload),
		Width:  256,
		Height: 192,
		Format: "jpeg",
	}
}

func TestWriteBatch_PersistsFilesEntriesAndRollup(t *testing.T) {
	writer, collections, folderStats, tx := newWriterHarness(t)
	ctx := context.Background()

	c := testutil.SeedCollection(t, ctx, tx, "directory", false)
	assets := testutil.SeedAssets(t, ctx, tx, c.ID, 2)

	renders := []*ItemRender{
		{
			Item:    WorkItem{CollectionID: c.ID, AssetID: assets[0].ID},
			Outputs: map[string]*render.Rendered{domain.VariantThumbnail: renderedFixture("thumb-0")},
		},
		{
			Item:    WorkItem{CollectionID: c.ID, AssetID: assets[1].ID},
			Outputs: map[string]*render.Rendered{domain.VariantThumbnail: renderedFixture("thumb-1")},
		},
	}

	persisted, err := writer.WriteBatch(ctx, c, renders)
	if err != nil {
		t.Fatalf("write batch: %v", err)
	}
	if persisted.FilesWritten != 2 {
		t.Fatalf("files_written = %d, want 2", persisted.FilesWritten)
	}
	if persisted.EntriesInserted != 2 {
		t.Fatalf("entries_inserted = %d, want 2", persisted.EntriesInserted)
	}
	if persisted.BytesByAsset[assets[0].ID] != int64(len("thumb-0")) {
		t.Fatalf("bytes for asset 0 = %d", persisted.BytesByAsset[assets[0].ID])
	}

	entries, err := collections.ListVariantEntries(ctx, nil, c.ID, domain.VariantThumbnail)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	for _, e := range entries {
		raw, err := os.ReadFile(e.Path)
		if err != nil {
			t.Fatalf("read variant: %v", err)
		}
		if int64(len(raw)) != e.ByteSize {
			t.Fatalf("entry byte_size %d does not match file %d", e.ByteSize, len(raw))
		}
	}

	fs, err := folderStats.Get(ctx, nil, c.FolderID)
	if err != nil {
		t.Fatalf("folder stat: %v", err)
	}
	if fs == nil || fs.FileCount != 2 {
		t.Fatalf("folder rollup not bumped: %+v", fs)
	}
}

func TestWriteBatch_DuplicateBatchCommutes(t *testing.T) {
	writer, _, folderStats, tx := newWriterHarness(t)
	ctx := context.Background()

	c := testutil.SeedCollection(t, ctx, tx, "directory", false)
	assets := testutil.SeedAssets(t, ctx, tx, c.ID, 1)
	renders := []*ItemRender{
		{
			Item:    WorkItem{CollectionID: c.ID, AssetID: assets[0].ID},
			Outputs: map[string]*render.Rendered{domain.VariantThumbnail: renderedFixture("thumb")},
		},
	}

	if _, err := writer.WriteBatch(ctx, c, renders); err != nil {
		t.Fatalf("first write: %v", err)
	}
	second, err := writer.WriteBatch(ctx, c, renders)
	if err != nil {
		t.Fatalf("second write: %v", err)
	}
	if second.EntriesInserted != 0 {
		t.Fatalf("duplicate batch inserted %d entries, want 0", second.EntriesInserted)
	}

	// The rollup still counts the rewrite; the entry set does not grow.
	fs, err := folderStats.Get(ctx, nil, c.FolderID)
	if err != nil {
		t.Fatalf("folder stat: %v", err)
	}
	if fs.FileCount != 2 {
		t.Fatalf("file_count = %d, want 2 (both physical writes)", fs.FileCount)
	}
}

func TestWriteBatch_EmptyIsNoOp(t *testing.T) {
	writer, _, _, tx := newWriterHarness(t)
	ctx := context.Background()
	c := testutil.SeedCollection(t, ctx, tx, "directory", false)

	persisted, err := writer.WriteBatch(ctx, c, nil)
	if err != nil {
		t.Fatalf("write batch: %v", err)
	}
	if persisted.FilesWritten != 0 || persisted.EntriesInserted != 0 {
		t.Fatalf("empty batch wrote something: %+v", persisted)
	}
}

func TestWriteVariant_PathLayout(t *testing.T) {
	writer, _, _, _ := newWriterHarness(t)

	collectionID := uuid.New()
	assetID := uuid.New()
	path, err := writer.writeVariant(collectionID, assetID, domain.VariantCache, renderedFixture("payload"))
	if err != nil {
		t.Fatalf("write variant: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("variant file missing: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind")
	}
}
