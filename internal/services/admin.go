package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/avastel/mediavault-backend/internal/data/repos"
	"github.com/avastel/mediavault-backend/internal/domain"
	"github.com/avastel/mediavault-backend/internal/pipeline"
	"github.com/avastel/mediavault-backend/internal/platform/logger"
)

// LedgerDetail is a ledger plus its failure breakdown; the counts are the
// only per-item error surface the pipeline exposes.
type LedgerDetail struct {
	Ledger         *domain.ProgressLedger `json:"ledger"`
	ErrorBreakdown map[string]int64       `json:"error_breakdown,omitempty"`
}

// AdminService is the administrative surface of the pipeline: ledger
// queries, resume, sweep and stale detection, and job submission. HTTP
// routing and auth live outside; this is the whole outward contract.
type AdminService interface {
	GetLedger(ctx context.Context, jobID uuid.UUID) (*LedgerDetail, error)
	ListLedgers(ctx context.Context, jobType string, status string, limit int) ([]*domain.ProgressLedger, error)
	Generate(ctx context.Context, collectionIDs []uuid.UUID, jobType string) (*domain.ProgressLedger, error)
	Resume(ctx context.Context, jobID uuid.UUID) (int, error)
	Pause(ctx context.Context, jobID uuid.UUID) error
	TriggerSweep(ctx context.Context) (pipeline.SweepReport, error)
	StaleLedgers(ctx context.Context, timeout time.Duration) ([]*domain.ProgressLedger, error)
}

type adminService struct {
	db           *gorm.DB
	log          *logger.Logger
	ledgers      repos.ProgressLedgerRepo
	orchestrator *pipeline.Orchestrator
	sweep        *pipeline.RecoverySweep
}

func NewAdminService(db *gorm.DB, baseLog *logger.Logger, ledgers repos.ProgressLedgerRepo, orchestrator *pipeline.Orchestrator, sweep *pipeline.RecoverySweep) AdminService {
	return &adminService{
		db:           db,
		log:          baseLog.With("service", "AdminService"),
		ledgers:      ledgers,
		orchestrator: orchestrator,
		sweep:        sweep,
	}
}

func (s *adminService) GetLedger(ctx context.Context, jobID uuid.UUID) (*LedgerDetail, error) {
	ledger, err := s.ledgers.GetByID(ctx, nil, jobID)
	if err != nil {
		return nil, err
	}
	if ledger == nil {
		return nil, fmt.Errorf("ledger %s not found", jobID)
	}
	detail := &LedgerDetail{Ledger: ledger}
	if ledger.FailedCount > 0 {
		breakdown, err := s.ledgers.ErrorBreakdown(ctx, nil, jobID)
		if err != nil {
			return nil, err
		}
		detail.ErrorBreakdown = breakdown
	}
	return detail, nil
}

func (s *adminService) ListLedgers(ctx context.Context, jobType string, status string, limit int) ([]*domain.ProgressLedger, error) {
	return s.ledgers.List(ctx, nil, jobType, status, limit)
}

func (s *adminService) Generate(ctx context.Context, collectionIDs []uuid.UUID, jobType string) (*domain.ProgressLedger, error) {
	return s.orchestrator.Generate(ctx, uuid.Nil, collectionIDs, jobType)
}

func (s *adminService) Resume(ctx context.Context, jobID uuid.UUID) (int, error) {
	return s.sweep.Resume(ctx, jobID)
}

// Pause takes a running ledger out of the sweep's reach. Work already on the
// broker still completes; nothing new is re-emitted until an explicit resume.
func (s *adminService) Pause(ctx context.Context, jobID uuid.UUID) error {
	ok, err := s.ledgers.SetStatus(ctx, nil, jobID, []string{domain.LedgerRunning, domain.LedgerPending}, domain.LedgerPaused)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("ledger %s is not pausable: %w", jobID, repos.ErrLedgerRace)
	}
	s.log.Info("Ledger paused", "job_id", jobID)
	return nil
}

func (s *adminService) TriggerSweep(ctx context.Context) (pipeline.SweepReport, error) {
	return s.sweep.Run(ctx)
}

func (s *adminService) StaleLedgers(ctx context.Context, timeout time.Duration) ([]*domain.ProgressLedger, error) {
	return s.sweep.StaleLedgers(ctx, timeout)
}
