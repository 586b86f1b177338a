package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/avastel/mediavault-backend/internal/data/repos"
	"github.com/avastel/mediavault-backend/internal/domain"
	"github.com/avastel/mediavault-backend/internal/observability"
	"github.com/avastel/mediavault-backend/internal/platform/logger"
)

type SweepConfig struct {
	// StaleTimeout is T: a running ledger without progress for T is stale.
	StaleTimeout time.Duration
	// FailMultiplier separates resumable from abandoned: stale-age >=
	// FailMultiplier*T flips the ledger to failed and stops automatic
	// retry. Policy, not law; configured, not hardcoded.
	FailMultiplier int
	// WallClock bounds one sweep run so it can never block startup.
	WallClock time.Duration
}

func (c *SweepConfig) applyDefaults() {
	if c.StaleTimeout <= 0 {
		c.StaleTimeout = 2 * time.Minute
	}
	if c.FailMultiplier <= 0 {
		c.FailMultiplier = 3
	}
	if c.WallClock <= 0 {
		c.WallClock = time.Minute
	}
}

type SweepReport struct {
	Examined  int `json:"examined"`
	Resumed   int `json:"resumed"`
	ReEmitted int `json:"re_emitted"`
	Escalated int `json:"escalated"`
	Skipped   int `json:"skipped"`
}

// RecoverySweep resumes incomplete ledgers after a crash and escalates the
// ones nobody is working on anymore. It runs once at startup and then on its
// own schedule.
type RecoverySweep struct {
	cfg          SweepConfig
	log          *logger.Logger
	ledgers      repos.ProgressLedgerRepo
	orchestrator *Orchestrator
	counters     *observability.Counters
}

func NewRecoverySweep(cfg SweepConfig, baseLog *logger.Logger, ledgers repos.ProgressLedgerRepo, orchestrator *Orchestrator, counters *observability.Counters) *RecoverySweep {
	cfg.applyDefaults()
	return &RecoverySweep{
		cfg:          cfg,
		log:          baseLog.With("component", "RecoverySweep"),
		ledgers:      ledgers,
		orchestrator: orchestrator,
		counters:     counters,
	}
}

// Run sweeps every incomplete ledger once. Completed ledgers are never
// touched; paused ledgers wait for an operator. The whole run is bounded by
// the configured wall clock.
func (s *RecoverySweep) Run(ctx context.Context) (SweepReport, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.WallClock)
	defer cancel()

	var report SweepReport
	incomplete, err := s.ledgers.ListIncomplete(ctx, nil)
	if err != nil {
		return report, err
	}

	for _, ledger := range incomplete {
		if ctx.Err() != nil {
			s.log.Warn("Sweep wall clock exhausted", "examined", report.Examined, "remaining", len(incomplete)-report.Examined)
			break
		}
		report.Examined++

		switch ledger.Status {
		case domain.LedgerPaused:
			report.Skipped++
			continue
		case domain.LedgerRunning:
			age := time.Since(ledger.LastProgressAt)
			if age < s.cfg.StaleTimeout {
				// Someone is making progress; leave it alone.
				report.Skipped++
				continue
			}
			if age >= time.Duration(s.cfg.FailMultiplier)*s.cfg.StaleTimeout {
				s.escalate(ctx, ledger, age, &report)
				continue
			}
		}

		n, err := s.orchestrator.Resume(ctx, ledger.JobID)
		if err != nil {
			s.log.Warn("Ledger resume failed", "job_id", ledger.JobID, "error", err)
			continue
		}
		report.Resumed++
		report.ReEmitted += n
	}

	if s.counters != nil {
		s.counters.IncSweepRun()
	}
	s.log.Info("Recovery sweep finished",
		"examined", report.Examined,
		"resumed", report.Resumed,
		"re_emitted", report.ReEmitted,
		"escalated", report.Escalated,
	)
	return report, nil
}

func (s *RecoverySweep) escalate(ctx context.Context, ledger *domain.ProgressLedger, age time.Duration, report *SweepReport) {
	ok, err := s.ledgers.SetStatus(ctx, nil, ledger.JobID, []string{domain.LedgerRunning}, domain.LedgerFailed)
	if err != nil {
		s.log.Warn("Stale escalation failed", "job_id", ledger.JobID, "error", err)
		return
	}
	if !ok {
		// Lost the CAS to a writer that just made progress; fine.
		return
	}
	report.Escalated++
	if s.counters != nil {
		s.counters.IncLedgerEscalated()
	}
	s.log.Error("Ledger abandoned past stale threshold, marked failed; operator action required",
		"job_id", ledger.JobID,
		"stale_age", age.String(),
		"processed", ledger.ProcessedCount(),
		"expected", ledger.ExpectedCount,
	)
}

// StaleLedgers lists running ledgers whose last progress is older than the
// caller-supplied timeout. Admin surface helper; it never mutates.
func (s *RecoverySweep) StaleLedgers(ctx context.Context, timeout time.Duration) ([]*domain.ProgressLedger, error) {
	if timeout <= 0 {
		timeout = s.cfg.StaleTimeout
	}
	running, err := s.ledgers.List(ctx, nil, "", domain.LedgerRunning, 0)
	if err != nil {
		return nil, err
	}
	cutoff := time.Now().Add(-timeout)
	var out []*domain.ProgressLedger
	for _, l := range running {
		if l.LastProgressAt.Before(cutoff) {
			out = append(out, l)
		}
	}
	return out, nil
}

// Resume delegates a single-ledger resume, used by the admin surface. Unlike
// the sweep it also lifts paused ledgers.
func (s *RecoverySweep) Resume(ctx context.Context, jobID uuid.UUID) (int, error) {
	return s.orchestrator.Resume(ctx, jobID)
}
