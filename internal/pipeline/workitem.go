package pipeline

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/avastel/mediavault-backend/internal/broker"
	"github.com/avastel/mediavault-backend/internal/domain"
	"github.com/avastel/mediavault-backend/internal/render"
)

// WorkItem is the immutable descriptor of one generation task. It exists
// only on the broker; the ledger row keyed by (job, asset) is its durable
// shadow. Kind mirrors the job type: a "both" item produces thumbnail and
// cache variants for its asset in one pass, so ledger accounting stays
// one-row-per-asset.
type WorkItem struct {
	JobID        uuid.UUID
	CollectionID uuid.UUID
	AssetID      uuid.UUID
	Kind         string
	SourcePath   string
	SourceBytes  int64
	InArchive    bool
	Settings     domain.VariantSettings
}

// StreamForKind maps a job kind to its broker destination. Items of "both"
// jobs ride the thumbnail stream; thumbnails are always part of their work.
func StreamForKind(kind string) string {
	if kind == domain.JobTypeCache {
		return broker.StreamCache
	}
	return broker.StreamThumbnail
}

// KindsFor expands a job type into the variant kinds it produces.
func KindsFor(jobType string) []string {
	switch jobType {
	case domain.JobTypeThumbnail:
		return []string{domain.VariantThumbnail}
	case domain.JobTypeCache:
		return []string{domain.VariantCache}
	default:
		return []string{domain.VariantThumbnail, domain.VariantCache}
	}
}

// ParamsFor resolves the output parameters for one variant kind from the
// job's settings snapshot.
func ParamsFor(kind string, s domain.VariantSettings) render.OutputParams {
	if kind == domain.VariantCache {
		return render.OutputParams{Width: s.CacheWidth, Height: s.CacheHeight, Format: s.Format, Quality: s.Quality}
	}
	return render.OutputParams{Width: s.ThumbWidth, Height: s.ThumbHeight, Format: s.Format, Quality: s.Quality}
}

func (w WorkItem) Values() map[string]interface{} {
	return map[string]interface{}{
		"job_id":        w.JobID.String(),
		"collection_id": w.CollectionID.String(),
		"asset_id":      w.AssetID.String(),
		"kind":          w.Kind,
		"source_path":   w.SourcePath,
		"source_bytes":  strconv.FormatInt(w.SourceBytes, 10),
		"in_archive":    strconv.FormatBool(w.InArchive),
		"thumb_w":       strconv.Itoa(w.Settings.ThumbWidth),
		"thumb_h":       strconv.Itoa(w.Settings.ThumbHeight),
		"cache_w":       strconv.Itoa(w.Settings.CacheWidth),
		"cache_h":       strconv.Itoa(w.Settings.CacheHeight),
		"format":        w.Settings.Format,
		"quality":       strconv.Itoa(w.Settings.Quality),
	}
}

func WorkItemFromMessage(msg broker.Message) (WorkItem, error) {
	var item WorkItem
	var err error
	if item.JobID, err = uuid.Parse(msg.Values["job_id"]); err != nil {
		return item, fmt.Errorf("work item job_id: %w", err)
	}
	if item.CollectionID, err = uuid.Parse(msg.Values["collection_id"]); err != nil {
		return item, fmt.Errorf("work item collection_id: %w", err)
	}
	if item.AssetID, err = uuid.Parse(msg.Values["asset_id"]); err != nil {
		return item, fmt.Errorf("work item asset_id: %w", err)
	}
	item.Kind = msg.Values["kind"]
	switch item.Kind {
	case domain.JobTypeThumbnail, domain.JobTypeCache, domain.JobTypeBoth:
	default:
		return item, fmt.Errorf("work item kind %q unknown", item.Kind)
	}
	item.SourcePath = msg.Values["source_path"]
	item.SourceBytes, _ = strconv.ParseInt(msg.Values["source_bytes"], 10, 64)
	item.InArchive, _ = strconv.ParseBool(msg.Values["in_archive"])
	item.Settings = domain.VariantSettings{
		ThumbWidth:  atoi(msg.Values["thumb_w"]),
		ThumbHeight: atoi(msg.Values["thumb_h"]),
		CacheWidth:  atoi(msg.Values["cache_w"]),
		CacheHeight: atoi(msg.Values["cache_h"]),
		Format:      msg.Values["format"],
		Quality:     atoi(msg.Values["quality"]),
	}
	return item, nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
