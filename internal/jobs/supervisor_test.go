package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/avastel/mediavault-backend/internal/platform/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func TestSupervisor_RestartsFailedWorker(t *testing.T) {
	s := NewSupervisor(testLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var runs atomic.Int64
	s.Add("flaky", func(ctx context.Context) error {
		if runs.Add(1) == 1 {
			return errors.New("first run fails")
		}
		<-ctx.Done()
		return nil
	})
	s.Start(ctx)

	select {
	case err := <-s.Errors():
		if err == nil {
			t.Fatalf("expected a reported error")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("worker error never reported")
	}

	deadline := time.Now().Add(5 * time.Second)
	for runs.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if runs.Load() < 2 {
		t.Fatalf("worker not restarted after failure")
	}

	cancel()
	s.Wait()
}

func TestSupervisor_PeriodicWorkerTicks(t *testing.T) {
	s := NewSupervisor(testLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var runs atomic.Int64
	s.AddPeriodic("ticker", 10*time.Millisecond, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})
	s.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if runs.Load() < 3 {
		t.Fatalf("periodic worker ran %d times", runs.Load())
	}

	cancel()
	s.Wait()
}

func TestSupervisor_WaitReturnsAfterCancel(t *testing.T) {
	s := NewSupervisor(testLogger(t))
	ctx, cancel := context.WithCancel(context.Background())

	s.Add("blocker", func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})
	s.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		s.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Wait did not return after cancellation")
	}
}

func TestSupervisor_StartIsIdempotent(t *testing.T) {
	s := NewSupervisor(testLogger(t))
	ctx, cancel := context.WithCancel(context.Background())

	var runs atomic.Int64
	s.Add("once", func(ctx context.Context) error {
		runs.Add(1)
		<-ctx.Done()
		return nil
	})
	s.Start(ctx)
	s.Start(ctx)

	time.Sleep(50 * time.Millisecond)
	if runs.Load() != 1 {
		t.Fatalf("worker started %d times, want 1", runs.Load())
	}
	cancel()
	s.Wait()
}
