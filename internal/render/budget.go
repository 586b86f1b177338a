package render

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"

	"github.com/avastel/mediavault-backend/internal/platform/logger"
)

// MemoryBudget bounds how many source bytes may be decoding at once across
// the process. Acquire blocks when the budget is spent; that backpressure is
// what keeps a burst of large assets from growing the heap without bound.
type MemoryBudget struct {
	sem    *semaphore.Weighted
	budget int64
}

func NewMemoryBudget(budgetBytes int64) *MemoryBudget {
	if budgetBytes <= 0 {
		budgetBytes = 256 << 20
	}
	return &MemoryBudget{
		sem:    semaphore.NewWeighted(budgetBytes),
		budget: budgetBytes,
	}
}

func (b *MemoryBudget) Acquire(ctx context.Context, n int64) error {
	if n > b.budget {
		return fmt.Errorf("%w: %d bytes exceeds budget %d", ErrSourceTooLarge, n, b.budget)
	}
	if err := b.sem.Acquire(ctx, n); err != nil {
		return fmt.Errorf("%w: %v", ErrResourceExhausted, err)
	}
	return nil
}

func (b *MemoryBudget) Release(n int64) {
	b.sem.Release(n)
}

// BudgetedRenderer wraps a Renderer with the size guard and the memory
// budget. Ordering matters: the guard rejects before any bytes are loaded,
// and budget weight is held only while the inner render runs. Outputs are
// bounded by the target dimensions and are not budget-tracked; a batch may
// hold any number of unreleased outputs without blocking later acquires.
type BudgetedRenderer struct {
	inner           Renderer
	budget          *MemoryBudget
	maxSourceBytes  int64
	maxArchiveBytes int64
	log             *logger.Logger
}

func NewBudgetedRenderer(inner Renderer, budget *MemoryBudget, maxSourceBytes int64, maxArchiveBytes int64, baseLog *logger.Logger) *BudgetedRenderer {
	return &BudgetedRenderer{
		inner:           inner,
		budget:          budget,
		maxSourceBytes:  maxSourceBytes,
		maxArchiveBytes: maxArchiveBytes,
		log:             baseLog.With("component", "BudgetedRenderer"),
	}
}

func (r *BudgetedRenderer) Render(ctx context.Context, src Source, params OutputParams) (*Rendered, error) {
	limit := r.maxSourceBytes
	if src.InArchive {
		// Archive members already paid the extraction cost; a higher ceiling
		// applies before we give up on them.
		limit = r.maxArchiveBytes
	}
	if limit > 0 && src.ByteSize > limit {
		return nil, fmt.Errorf("%w: %d bytes (limit %d)", ErrSourceTooLarge, src.ByteSize, limit)
	}

	weight := src.ByteSize
	if weight <= 0 {
		weight = 1
	}
	if err := r.budget.Acquire(ctx, weight); err != nil {
		return nil, err
	}
	// Weight covers the decode and scale window only; unreleased outputs
	// never hold budget.
	defer r.budget.Release(weight)

	return r.inner.Render(ctx, src, params)
}
