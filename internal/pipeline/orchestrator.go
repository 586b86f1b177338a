package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/avastel/mediavault-backend/internal/broker"
	"github.com/avastel/mediavault-backend/internal/data/repos"
	"github.com/avastel/mediavault-backend/internal/domain"
	"github.com/avastel/mediavault-backend/internal/platform/logger"
	"github.com/avastel/mediavault-backend/internal/render"
)

// Orchestrator turns "generate variants for collections X" into a ledger and
// a stream of work items. The pre-filter is the dominant optimization: most
// regeneration requests target already-satisfied data and must cost nothing.
type Orchestrator struct {
	db           *gorm.DB
	log          *logger.Logger
	collections  repos.CollectionRepo
	ledgers      repos.ProgressLedgerRepo
	bus          broker.Broker
	settings     domain.VariantSettings
	publishBatch int
}

func NewOrchestrator(db *gorm.DB, baseLog *logger.Logger, collections repos.CollectionRepo, ledgers repos.ProgressLedgerRepo, bus broker.Broker, settings domain.VariantSettings, publishBatch int) *Orchestrator {
	if publishBatch <= 0 {
		publishBatch = 50
	}
	return &Orchestrator{
		db:           db,
		log:          baseLog.With("component", "Orchestrator"),
		collections:  collections,
		ledgers:      ledgers,
		bus:          bus,
		settings:     settings,
		publishBatch: publishBatch,
	}
}

// Generate pre-filters the target collections, creates the ledger, and emits
// work items for every asset still lacking a variant. Returns nil when the
// pre-filter leaves nothing to do; no ledger is created in that case.
//
// jobID may be passed by callers that need idempotent invocation; uuid.Nil
// means "mint one". Re-invoking with an existing jobID returns the existing
// ledger untouched; the recovery sweep owns re-emission for half-published
// jobs.
func (o *Orchestrator) Generate(ctx context.Context, jobID uuid.UUID, collectionIDs []uuid.UUID, jobType string) (*domain.ProgressLedger, error) {
	switch jobType {
	case domain.JobTypeThumbnail, domain.JobTypeCache, domain.JobTypeBoth:
	default:
		return nil, fmt.Errorf("unknown job type %q", jobType)
	}

	collections, err := o.collections.GetByIDs(ctx, nil, collectionIDs)
	if err != nil {
		return nil, err
	}

	var items []WorkItem
	var ledgerAssets []*domain.LedgerAsset
	for _, c := range collections {
		if c.DirectAccess && !c.ArchiveBacked() {
			// Direct-access collections never see the broker: alias entries
			// are written here, at orchestration time, and reach the same
			// end state at zero rendering cost.
			if err := o.writeDirectReferences(ctx, c, jobType); err != nil {
				return nil, err
			}
			continue
		}
		unsatisfied, err := o.unsatisfiedFor(ctx, c, jobType)
		if err != nil {
			return nil, err
		}
		for _, a := range unsatisfied {
			items = append(items, WorkItem{
				CollectionID: c.ID,
				AssetID:      a.ID,
				Kind:         jobType,
				SourcePath:   a.Path,
				SourceBytes:  a.ByteSize,
				InArchive:    c.ArchiveBacked(),
				Settings:     o.settings,
			})
			ledgerAssets = append(ledgerAssets, &domain.LedgerAsset{
				AssetID:      a.ID,
				CollectionID: c.ID,
				Outcome:      domain.OutcomePending,
			})
		}
	}

	if len(items) == 0 {
		o.log.Debug("All target collections satisfied, no ledger created", "job_type", jobType)
		return nil, nil
	}

	if jobID == uuid.Nil {
		jobID = uuid.New()
	}
	ledger := &domain.ProgressLedger{
		JobID:         jobID,
		JobType:       jobType,
		Status:        domain.LedgerRunning,
		ExpectedCount: int64(len(items)),
		Settings:      o.settings.Snapshot(),
	}

	// Ledger before any emission. If the process dies mid-publish, the sweep
	// resumes from the pending rows instead of re-running the pre-filter.
	if err := o.ledgers.Create(ctx, nil, ledger, ledgerAssets); err != nil {
		if errors.Is(err, repos.ErrAlreadyExists) {
			existing, gerr := o.ledgers.GetByID(ctx, nil, jobID)
			if gerr != nil {
				return nil, gerr
			}
			return existing, nil
		}
		return nil, err
	}

	for i := range items {
		items[i].JobID = jobID
	}
	if err := o.publishItems(ctx, items); err != nil {
		// Emission stopped partway; the ledger stands and the sweep will
		// re-emit whatever never got processed.
		o.log.Warn("Work item emission interrupted", "job_id", jobID, "error", err)
		return ledger, err
	}
	o.log.Info("Generation job published", "job_id", jobID, "job_type", jobType, "expected", ledger.ExpectedCount)
	return ledger, nil
}

// Resume re-emits work items for every unresolved asset of a ledger.
// Already-processed assets are never re-emitted. Assets deleted since the
// ledger was created are recorded failed so the job can still complete.
func (o *Orchestrator) Resume(ctx context.Context, jobID uuid.UUID) (int, error) {
	ledger, err := o.ledgers.GetByID(ctx, nil, jobID)
	if err != nil {
		return 0, err
	}
	if ledger == nil {
		return 0, fmt.Errorf("ledger %s not found", jobID)
	}
	if ledger.Status == domain.LedgerCompleted {
		return 0, nil
	}

	// Lift paused and pending ledgers back to running before anything else;
	// the completion transition only fires on a running ledger, including the
	// nothing-left-to-re-emit path below.
	if _, err := o.ledgers.SetStatus(ctx, nil, jobID, []string{domain.LedgerPending, domain.LedgerPaused}, domain.LedgerRunning); err != nil {
		return 0, err
	}

	unresolved, err := o.ledgers.UnresolvedAssets(ctx, nil, jobID)
	if err != nil {
		return 0, err
	}
	if len(unresolved) == 0 {
		_, err := o.ledgers.TransitionIfComplete(ctx, nil, jobID)
		return 0, err
	}

	settings, err := domain.SettingsFromSnapshot(ledger.Settings)
	if err != nil {
		settings = o.settings
	}

	assetIDs := make([]uuid.UUID, 0, len(unresolved))
	for _, la := range unresolved {
		assetIDs = append(assetIDs, la.AssetID)
	}
	assets, err := o.collections.GetAssetsByIDs(ctx, nil, assetIDs)
	if err != nil {
		return 0, err
	}
	byID := make(map[uuid.UUID]*domain.Asset, len(assets))
	for _, a := range assets {
		byID[a.ID] = a
	}
	collections, err := o.collections.GetByIDs(ctx, nil, collectionIDsOf(unresolved))
	if err != nil {
		return 0, err
	}
	archived := make(map[uuid.UUID]bool, len(collections))
	for _, c := range collections {
		archived[c.ID] = c.ArchiveBacked()
	}

	var items []WorkItem
	for _, la := range unresolved {
		a, ok := byID[la.AssetID]
		if !ok {
			// Source row is gone; terminal, and the ledger can still finish.
			if _, err := o.ledgers.RecordOutcome(ctx, nil, jobID, la.AssetID, domain.OutcomeFailed, 0, render.ClassSourceUnavailable); err != nil {
				return 0, err
			}
			continue
		}
		items = append(items, WorkItem{
			JobID:        jobID,
			CollectionID: la.CollectionID,
			AssetID:      a.ID,
			Kind:         ledger.JobType,
			SourcePath:   a.Path,
			SourceBytes:  a.ByteSize,
			InArchive:    archived[la.CollectionID],
			Settings:     settings,
		})
	}

	if _, err := o.ledgers.TransitionIfComplete(ctx, nil, jobID); err != nil {
		return 0, err
	}
	if len(items) == 0 {
		return 0, nil
	}

	if err := o.ledgers.Heartbeat(ctx, nil, jobID); err != nil {
		return 0, err
	}
	if err := o.publishItems(ctx, items); err != nil {
		return 0, err
	}
	o.log.Info("Ledger resumed", "job_id", jobID, "re_emitted", len(items))
	return len(items), nil
}

func (o *Orchestrator) unsatisfiedFor(ctx context.Context, c *domain.Collection, jobType string) ([]*domain.Asset, error) {
	seen := make(map[uuid.UUID]bool)
	var out []*domain.Asset
	for _, kind := range KindsFor(jobType) {
		params := ParamsFor(kind, o.settings)
		assets, err := o.collections.UnsatisfiedAssets(ctx, nil, c.ID, kind, params.Width, params.Height)
		if err != nil {
			return nil, err
		}
		for _, a := range assets {
			if !seen[a.ID] {
				seen[a.ID] = true
				out = append(out, a)
			}
		}
	}
	return out, nil
}

func (o *Orchestrator) writeDirectReferences(ctx context.Context, c *domain.Collection, jobType string) error {
	now := time.Now()
	for _, kind := range KindsFor(jobType) {
		params := ParamsFor(kind, o.settings)
		assets, err := o.collections.UnsatisfiedAssets(ctx, nil, c.ID, kind, params.Width, params.Height)
		if err != nil {
			return err
		}
		if len(assets) == 0 {
			continue
		}
		entries := make([]*domain.VariantEntry, 0, len(assets))
		for _, a := range assets {
			entries = append(entries, &domain.VariantEntry{
				CollectionID:      c.ID,
				AssetID:           a.ID,
				Kind:              kind,
				Width:             params.Width,
				Height:            params.Height,
				Path:              a.Path,
				ByteSize:          a.ByteSize,
				Format:            a.Format,
				IsDirectReference: true,
				GeneratedAt:       now,
			})
		}
		if _, err := o.collections.AppendVariantEntries(ctx, nil, entries); err != nil {
			return err
		}
		o.log.Debug("Direct reference entries written", "collection_id", c.ID, "kind", kind, "count", len(entries))
	}
	return nil
}

func (o *Orchestrator) publishItems(ctx context.Context, items []WorkItem) error {
	for start := 0; start < len(items); start += o.publishBatch {
		end := start + o.publishBatch
		if end > len(items) {
			end = len(items)
		}
		chunk := items[start:end]
		payloads := make([]map[string]interface{}, 0, len(chunk))
		for _, it := range chunk {
			payloads = append(payloads, it.Values())
		}
		if err := o.bus.PublishBatch(ctx, StreamForKind(chunk[0].Kind), payloads); err != nil {
			return err
		}
	}
	return nil
}

func collectionIDsOf(assets []*domain.LedgerAsset) []uuid.UUID {
	seen := make(map[uuid.UUID]bool)
	var out []uuid.UUID
	for _, a := range assets {
		if !seen[a.CollectionID] {
			seen[a.CollectionID] = true
			out = append(out, a.CollectionID)
		}
	}
	return out
}
