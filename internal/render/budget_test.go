package render

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/avastel/mediavault-backend/internal/platform/logger"
)

type stubRenderer struct {
	out *Rendered
	err error
}

func (s *stubRenderer) Render(ctx context.Context, src Source, params OutputParams) (*Rendered, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := *s.out
	return &out, nil
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func TestMemoryBudget_RejectsRequestsBeyondBudget(t *testing.T) {
	b := NewMemoryBudget(1024)
	err := b.Acquire(context.Background(), 2048)
	if !errors.Is(err, ErrSourceTooLarge) {
		t.Fatalf("expected ErrSourceTooLarge, got %v", err)
	}
}

func TestMemoryBudget_BlockedAcquireIsTransient(t *testing.T) {
	b := NewMemoryBudget(100)
	if err := b.Acquire(context.Background(), 100); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := b.Acquire(ctx, 50)
	if !errors.Is(err, ErrResourceExhausted) {
		t.Fatalf("expected ErrResourceExhausted, got %v", err)
	}
	if Terminal(err) {
		t.Fatalf("budget pressure must not be terminal")
	}

	b.Release(100)
	if err := b.Acquire(context.Background(), 50); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}

func TestBudgetedRenderer_SizeGuard(t *testing.T) {
	inner := &stubRenderer{out: &Rendered{Bytes: []byte{1}, Width: 1, Height: 1, Format: "jpeg"}}
	r := NewBudgetedRenderer(inner, NewMemoryBudget(1<<20), 100, 300, testLogger(t))

	_, err := r.Render(context.Background(), Source{Path: "x", ByteSize: 200}, OutputParams{})
	if !errors.Is(err, ErrSourceTooLarge) {
		t.Fatalf("plain source over limit: expected ErrSourceTooLarge, got %v", err)
	}
	if !Terminal(err) {
		t.Fatalf("size guard rejection must be terminal")
	}

	// The same size passes under the archive ceiling.
	out, err := r.Render(context.Background(), Source{Path: "x", ByteSize: 200, InArchive: true}, OutputParams{})
	if err != nil {
		t.Fatalf("archive source under limit: %v", err)
	}
	out.Release()

	_, err = r.Render(context.Background(), Source{Path: "x", ByteSize: 400, InArchive: true}, OutputParams{})
	if !errors.Is(err, ErrSourceTooLarge) {
		t.Fatalf("archive source over limit: expected ErrSourceTooLarge, got %v", err)
	}
}

func TestBudgetedRenderer_WeightReturnsWhenRenderFinishes(t *testing.T) {
	inner := &stubRenderer{err: ErrCorruptOrUnsupported}
	budget := NewMemoryBudget(100)
	r := NewBudgetedRenderer(inner, budget, 0, 0, testLogger(t))

	if _, err := r.Render(context.Background(), Source{Path: "x", ByteSize: 100}, OutputParams{}); !errors.Is(err, ErrCorruptOrUnsupported) {
		t.Fatalf("expected inner error, got %v", err)
	}
	// Weight came back on failure: a full-budget acquire succeeds.
	if err := budget.Acquire(context.Background(), 100); err != nil {
		t.Fatalf("budget leaked on render failure: %v", err)
	}
	budget.Release(100)

	inner.err = nil
	inner.out = &Rendered{Bytes: []byte{1, 2, 3}, Width: 1, Height: 1, Format: "jpeg"}
	out, err := r.Render(context.Background(), Source{Path: "x", ByteSize: 100}, OutputParams{})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	// The full weight is free while the output is still live.
	if err := budget.Acquire(context.Background(), 100); err != nil {
		t.Fatalf("weight still held by an unreleased output: %v", err)
	}
	budget.Release(100)
	out.Release()
	out.Release() // idempotent
}

func TestBudgetedRenderer_UnreleasedOutputsDoNotStarveLaterRenders(t *testing.T) {
	inner := &stubRenderer{out: &Rendered{Bytes: []byte{1}, Width: 1, Height: 1, Format: "jpeg"}}
	budget := NewMemoryBudget(100)
	r := NewBudgetedRenderer(inner, budget, 0, 0, testLogger(t))

	// Three 40-byte sources against a 100-byte budget, nothing released until
	// the end. A blocked acquire surfaces as ErrResourceExhausted when the
	// deadline fires instead of hanging the test.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	var outs []*Rendered
	for i := 0; i < 3; i++ {
		out, err := r.Render(ctx, Source{Path: "x", ByteSize: 40}, OutputParams{})
		if err != nil {
			t.Fatalf("render %d: %v", i, err)
		}
		outs = append(outs, out)
	}
	for _, o := range outs {
		o.Release()
	}
}

func TestClassify(t *testing.T) {
	cases := map[error]string{
		ErrSourceUnavailable:    ClassSourceUnavailable,
		ErrCorruptOrUnsupported: ClassCorruptOrUnsupported,
		ErrSourceTooLarge:       ClassResourceExhausted,
		ErrResourceExhausted:    ClassTransient,
	}
	for err, want := range cases {
		if got := Classify(err); got != want {
			t.Fatalf("Classify(%v) = %s, want %s", err, got, want)
		}
	}
}
