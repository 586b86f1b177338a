package pipeline

import (
	"testing"

	"github.com/google/uuid"

	"github.com/avastel/mediavault-backend/internal/broker"
	"github.com/avastel/mediavault-backend/internal/domain"
)

func TestWorkItem_ValuesRoundTrip(t *testing.T) {
	item := WorkItem{
		JobID:        uuid.New(),
		CollectionID: uuid.New(),
		AssetID:      uuid.New(),
		Kind:         domain.JobTypeBoth,
		SourcePath:   "/media/src/pic.jpg",
		SourceBytes:  4096,
		InArchive:    true,
		Settings:     testSettings,
	}

	values := make(map[string]string, len(item.Values()))
	for k, v := range item.Values() {
		values[k] = v.(string)
	}
	got, err := WorkItemFromMessage(broker.Message{ID: "1", Values: values})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != item {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, item)
	}
}

func TestWorkItemFromMessage_RejectsBadPayloads(t *testing.T) {
	valid := WorkItem{
		JobID:        uuid.New(),
		CollectionID: uuid.New(),
		AssetID:      uuid.New(),
		Kind:         domain.JobTypeThumbnail,
		SourcePath:   "/media/src/pic.jpg",
		Settings:     testSettings,
	}
	base := func() map[string]string {
		out := make(map[string]string)
		for k, v := range valid.Values() {
			out[k] = v.(string)
		}
		return out
	}

	broken := base()
	broken["job_id"] = "nope"
	if _, err := WorkItemFromMessage(broker.Message{Values: broken}); err == nil {
		t.Fatalf("bad job_id accepted")
	}

	broken = base()
	broken["kind"] = "original"
	if _, err := WorkItemFromMessage(broker.Message{Values: broken}); err == nil {
		t.Fatalf("unknown kind accepted")
	}
}

func TestStreamForKind(t *testing.T) {
	if got := StreamForKind(domain.JobTypeCache); got != broker.StreamCache {
		t.Fatalf("cache items belong on the cache stream, got %s", got)
	}
	if got := StreamForKind(domain.JobTypeThumbnail); got != broker.StreamThumbnail {
		t.Fatalf("thumbnail items belong on the thumbnail stream, got %s", got)
	}
	if got := StreamForKind(domain.JobTypeBoth); got != broker.StreamThumbnail {
		t.Fatalf("both items ride the thumbnail stream, got %s", got)
	}
}

func TestKindsFor(t *testing.T) {
	if got := KindsFor(domain.JobTypeThumbnail); len(got) != 1 || got[0] != domain.VariantThumbnail {
		t.Fatalf("KindsFor(thumbnail) = %v", got)
	}
	if got := KindsFor(domain.JobTypeCache); len(got) != 1 || got[0] != domain.VariantCache {
		t.Fatalf("KindsFor(cache) = %v", got)
	}
	if got := KindsFor(domain.JobTypeBoth); len(got) != 2 {
		t.Fatalf("KindsFor(both) = %v", got)
	}
}

func TestParamsFor(t *testing.T) {
	thumb := ParamsFor(domain.VariantThumbnail, testSettings)
	if thumb.Width != testSettings.ThumbWidth || thumb.Height != testSettings.ThumbHeight {
		t.Fatalf("thumbnail params = %+v", thumb)
	}
	cache := ParamsFor(domain.VariantCache, testSettings)
	if cache.Width != testSettings.CacheWidth || cache.Height != testSettings.CacheHeight {
		t.Fatalf("cache params = %+v", cache)
	}
}
