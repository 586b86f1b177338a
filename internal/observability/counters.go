package observability

import "sync/atomic"

// Counters is the process-wide pipeline tally. Plain atomics; the admin
// surface serves a point-in-time snapshot and nothing subscribes to changes.
type Counters struct {
	itemsCompleted   atomic.Int64
	itemsSkipped     atomic.Int64
	itemsFailed      atomic.Int64
	batchesFlushed   atomic.Int64
	batchesAborted   atomic.Int64
	deadLettered     atomic.Int64
	dlqRepublished   atomic.Int64
	sweepsRun        atomic.Int64
	ledgersEscalated atomic.Int64
}

func NewCounters() *Counters { return &Counters{} }

func (c *Counters) IncCompleted() { c.itemsCompleted.Add(1) }
func (c *Counters) IncSkipped() { c.itemsSkipped.Add(1) }
func (c *Counters) IncFailed() { c.itemsFailed.Add(1) }
func (c *Counters) IncBatchFlushed() { c.batchesFlushed.Add(1) }
func (c *Counters) IncBatchAborted() { c.batchesAborted.Add(1) }
func (c *Counters) IncDeadLettered() { c.deadLettered.Add(1) }
func (c *Counters) IncDLQRepublished() { c.dlqRepublished.Add(1) }
func (c *Counters) IncSweepRun() { c.sweepsRun.Add(1) }
func (c *Counters) IncLedgerEscalated() { c.ledgersEscalated.Add(1) }

func (c *Counters) Snapshot() map[string]int64 {
	return map[string]int64{
		"items_completed":   c.itemsCompleted.Load(),
		"items_skipped":     c.itemsSkipped.Load(),
		"items_failed":      c.itemsFailed.Load(),
		"batches_flushed":   c.batchesFlushed.Load(),
		"batches_aborted":   c.batchesAborted.Load(),
		"dead_lettered":     c.deadLettered.Load(),
		"dlq_republished":   c.dlqRepublished.Load(),
		"sweeps_run":        c.sweepsRun.Load(),
		"ledgers_escalated": c.ledgersEscalated.Load(),
	}
}
