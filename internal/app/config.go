package app

import (
	"time"

	"github.com/avastel/mediavault-backend/internal/domain"
	"github.com/avastel/mediavault-backend/internal/platform/envutil"
)

// Config is the whole pipeline configuration as one typed record. Nothing
// downstream reads the environment directly.
type Config struct {
	Port        string
	VariantRoot string

	Settings domain.VariantSettings

	BatchMax     int
	BatchIdle    time.Duration
	PublishBatch int
	Parallelism  int
	MaxAttempts  int64
	ReclaimIdle  time.Duration

	MemoryBudgetBytes     int64
	MaxSourceBytes        int64
	MaxArchiveSourceBytes int64

	StaleTimeout   time.Duration
	FailMultiplier int
	SweepInterval  time.Duration
	SweepWallClock time.Duration
}

func LoadConfig() Config {
	return Config{
		Port:        envutil.String("PORT", "8080"),
		VariantRoot: envutil.String("VARIANT_ROOT", "./variants"),

		Settings: domain.VariantSettings{
			ThumbWidth:  envutil.Int("THUMB_WIDTH", 256),
			ThumbHeight: envutil.Int("THUMB_HEIGHT", 256),
			CacheWidth:  envutil.Int("CACHE_WIDTH", 1280),
			CacheHeight: envutil.Int("CACHE_HEIGHT", 1280),
			Format:      envutil.String("VARIANT_FORMAT", "jpeg"),
			Quality:     envutil.Int("VARIANT_QUALITY", 85),
		},

		BatchMax:     envutil.Int("VARIANT_BATCH_MAX", 50),
		BatchIdle:    envutil.DurationMS("VARIANT_BATCH_IDLE_MS", 2*time.Second),
		PublishBatch: envutil.Int("PUBLISH_BATCH_SIZE", 50),
		Parallelism:  envutil.Int("RENDER_PARALLELISM", 4),
		MaxAttempts:  envutil.Int64("DELIVERY_MAX_ATTEMPTS", 5),
		ReclaimIdle:  envutil.DurationMS("RECLAIM_IDLE_MS", time.Minute),

		MemoryBudgetBytes:     envutil.Int64("RENDER_MEMORY_BUDGET_BYTES", 256<<20),
		MaxSourceBytes:        envutil.Int64("MAX_SOURCE_BYTES", 64<<20),
		MaxArchiveSourceBytes: envutil.Int64("MAX_ARCHIVE_SOURCE_BYTES", 192<<20),

		StaleTimeout:   envutil.DurationMS("STALE_TIMEOUT_MS", 2*time.Minute),
		FailMultiplier: envutil.Int("STALE_FAIL_MULTIPLIER", 3),
		SweepInterval:  envutil.DurationMS("SWEEP_INTERVAL_MS", 5*time.Minute),
		SweepWallClock: envutil.DurationMS("SWEEP_WALL_CLOCK_MS", time.Minute),
	}
}
