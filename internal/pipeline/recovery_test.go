package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/avastel/mediavault-backend/internal/broker"
	"github.com/avastel/mediavault-backend/internal/data/repos/testutil"
	"github.com/avastel/mediavault-backend/internal/domain"
	"github.com/avastel/mediavault-backend/internal/observability"
)

func newSweepHarness(t *testing.T, cfg SweepConfig) (*RecoverySweep, *orchestratorHarness, *observability.Counters) {
	t.Helper()
	h := newOrchestratorHarness(t, 50)
	counters := observability.NewCounters()
	sweep := NewRecoverySweep(cfg, testutil.Logger(t), h.ledgers, h.orchestrator, counters)
	return sweep, h, counters
}

func backdateProgress(t *testing.T, tx *gorm.DB, jobID uuid.UUID, age time.Duration) {
	t.Helper()
	err := tx.Model(&domain.ProgressLedger{}).
		Where("job_id = ?", jobID).
		Update("last_progress_at", time.Now().Add(-age)).Error
	if err != nil {
		t.Fatalf("backdate: %v", err)
	}
}

func TestSweep_ResumesStaleLedger(t *testing.T) {
	staleTimeout := time.Minute
	sweep, h, _ := newSweepHarness(t, SweepConfig{StaleTimeout: staleTimeout, FailMultiplier: 3, WallClock: time.Minute})
	ctx := context.Background()

	c := testutil.SeedCollection(t, ctx, h.tx, "directory", false)
	assets := testutil.SeedAssets(t, ctx, h.tx, c.ID, 2)
	ledger := testutil.SeedLedger(t, ctx, h.tx, domain.JobTypeThumbnail, domain.LedgerRunning, []uuid.UUID{assets[0].ID, assets[1].ID}, c.ID)
	// Stale past T but under the escalation threshold: resumable.
	backdateProgress(t, h.tx, ledger.JobID, 2*staleTimeout)

	report, err := sweep.Run(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if report.Resumed != 1 {
		t.Fatalf("resumed = %d, want 1", report.Resumed)
	}
	if report.ReEmitted != 2 {
		t.Fatalf("re_emitted = %d, want 2", report.ReEmitted)
	}
	if got := h.bus.queuedCount(broker.StreamThumbnail); got != 2 {
		t.Fatalf("republished %d items, want 2", got)
	}
}

func TestSweep_EscalatesAbandonedLedger(t *testing.T) {
	staleTimeout := time.Minute
	sweep, h, counters := newSweepHarness(t, SweepConfig{StaleTimeout: staleTimeout, FailMultiplier: 3, WallClock: time.Minute})
	ctx := context.Background()

	c := testutil.SeedCollection(t, ctx, h.tx, "directory", false)
	assets := testutil.SeedAssets(t, ctx, h.tx, c.ID, 1)
	ledger := testutil.SeedLedger(t, ctx, h.tx, domain.JobTypeThumbnail, domain.LedgerRunning, []uuid.UUID{assets[0].ID}, c.ID)
	backdateProgress(t, h.tx, ledger.JobID, 4*staleTimeout)

	report, err := sweep.Run(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if report.Escalated != 1 {
		t.Fatalf("escalated = %d, want 1", report.Escalated)
	}
	if got := h.bus.queuedCount(broker.StreamThumbnail); got != 0 {
		t.Fatalf("escalated ledger must not re-emit, got %d", got)
	}

	got, err := h.ledgers.GetByID(ctx, nil, ledger.JobID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.LedgerFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if counters.Snapshot()["ledgers_escalated"] != 1 {
		t.Fatalf("ledgers_escalated counter not bumped")
	}
}

func TestSweep_LeavesFreshAndPausedAlone(t *testing.T) {
	sweep, h, _ := newSweepHarness(t, SweepConfig{StaleTimeout: time.Minute, FailMultiplier: 3, WallClock: time.Minute})
	ctx := context.Background()

	c := testutil.SeedCollection(t, ctx, h.tx, "directory", false)
	assets := testutil.SeedAssets(t, ctx, h.tx, c.ID, 2)
	// Fresh running ledger: someone is making progress.
	testutil.SeedLedger(t, ctx, h.tx, domain.JobTypeThumbnail, domain.LedgerRunning, []uuid.UUID{assets[0].ID}, c.ID)
	// Paused ledger: waits for an operator regardless of age.
	paused := testutil.SeedLedger(t, ctx, h.tx, domain.JobTypeThumbnail, domain.LedgerPaused, []uuid.UUID{assets[1].ID}, c.ID)
	backdateProgress(t, h.tx, paused.JobID, time.Hour)

	report, err := sweep.Run(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if report.Skipped != 2 {
		t.Fatalf("skipped = %d, want 2", report.Skipped)
	}
	if report.Resumed != 0 || report.Escalated != 0 {
		t.Fatalf("fresh/paused ledgers were touched: %+v", report)
	}
	if got := h.bus.queuedCount(broker.StreamThumbnail); got != 0 {
		t.Fatalf("published %d items, want 0", got)
	}
}

func TestSweep_ResumesPendingLedger(t *testing.T) {
	sweep, h, _ := newSweepHarness(t, SweepConfig{StaleTimeout: time.Minute, FailMultiplier: 3, WallClock: time.Minute})
	ctx := context.Background()

	c := testutil.SeedCollection(t, ctx, h.tx, "directory", false)
	assets := testutil.SeedAssets(t, ctx, h.tx, c.ID, 1)
	// A ledger that never started running (crash between create and publish).
	ledger := testutil.SeedLedger(t, ctx, h.tx, domain.JobTypeThumbnail, domain.LedgerPending, []uuid.UUID{assets[0].ID}, c.ID)

	report, err := sweep.Run(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if report.Resumed != 1 || report.ReEmitted != 1 {
		t.Fatalf("report = %+v, want 1 resumed / 1 re-emitted", report)
	}

	got, err := h.ledgers.GetByID(ctx, nil, ledger.JobID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.LedgerRunning {
		t.Fatalf("status = %s, want running after resume", got.Status)
	}
}

func TestStaleLedgers_ReadOnlyListing(t *testing.T) {
	sweep, h, _ := newSweepHarness(t, SweepConfig{StaleTimeout: time.Minute, FailMultiplier: 3, WallClock: time.Minute})
	ctx := context.Background()

	c := testutil.SeedCollection(t, ctx, h.tx, "directory", false)
	assets := testutil.SeedAssets(t, ctx, h.tx, c.ID, 2)
	stale := testutil.SeedLedger(t, ctx, h.tx, domain.JobTypeThumbnail, domain.LedgerRunning, []uuid.UUID{assets[0].ID}, c.ID)
	backdateProgress(t, h.tx, stale.JobID, time.Hour)
	testutil.SeedLedger(t, ctx, h.tx, domain.JobTypeThumbnail, domain.LedgerRunning, []uuid.UUID{assets[1].ID}, c.ID)

	out, err := sweep.StaleLedgers(ctx, 30*time.Minute)
	if err != nil {
		t.Fatalf("stale ledgers: %v", err)
	}
	if len(out) != 1 || out[0].JobID != stale.JobID {
		t.Fatalf("stale listing wrong: %d entries", len(out))
	}

	got, _ := h.ledgers.GetByID(ctx, nil, stale.JobID)
	if got.Status != domain.LedgerRunning {
		t.Fatalf("listing mutated the ledger")
	}
}
