package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/avastel/mediavault-backend/internal/platform/logger"
)

// RunFunc is one supervised loop. Long-running funcs should return promptly
// once ctx is cancelled; a non-nil error triggers a restart with backoff.
type RunFunc func(ctx context.Context) error

type worker struct {
	name     string
	interval time.Duration // zero means long-running, restart-on-error
	run      RunFunc
}

// Supervisor owns every background loop in the process: each worker is
// named, restarted with backoff when it errors, and reports failures on a
// channel instead of dying silently.
type Supervisor struct {
	log     *logger.Logger
	workers []worker
	errs    chan error
	wg      sync.WaitGroup
	started bool
	mu      sync.Mutex
}

func NewSupervisor(baseLog *logger.Logger) *Supervisor {
	return &Supervisor{
		log:  baseLog.With("component", "Supervisor"),
		errs: make(chan error, 16),
	}
}

// Add registers a long-running worker (consume loops, drains).
func (s *Supervisor) Add(name string, run RunFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workers = append(s.workers, worker{name: name, run: run})
}

// AddPeriodic registers a worker invoked on a ticker (sweeps, audits).
func (s *Supervisor) AddPeriodic(name string, interval time.Duration, run RunFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workers = append(s.workers, worker{name: name, interval: interval, run: run})
}

// Errors exposes non-fatal worker failures for whoever wants to watch them.
// The channel is buffered and never blocks a worker.
func (s *Supervisor) Errors() <-chan error {
	return s.errs
}

func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	workers := s.workers
	s.mu.Unlock()

	for _, w := range workers {
		s.wg.Add(1)
		go s.supervise(ctx, w)
	}
}

// Wait blocks until every worker has stopped after ctx cancellation.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

func (s *Supervisor) supervise(ctx context.Context, w worker) {
	defer s.wg.Done()
	log := s.log.With("worker", w.name)
	backoff := time.Second

	if w.interval > 0 {
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := w.run(ctx); err != nil && ctx.Err() == nil {
					log.Warn("Periodic worker run failed", "error", err)
					s.report(w.name, err)
				}
			}
		}
	}

	for {
		err := w.run(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Warn("Worker exited with error, restarting", "error", err, "backoff", backoff.String())
			s.report(w.name, err)
		} else {
			log.Warn("Worker exited unexpectedly, restarting", "backoff", backoff.String())
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (s *Supervisor) report(name string, err error) {
	select {
	case s.errs <- fmt.Errorf("%s: %w", name, err):
	default:
	}
}
