package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/avastel/mediavault-backend/internal/broker"
	"github.com/avastel/mediavault-backend/internal/data/repos"
	"github.com/avastel/mediavault-backend/internal/domain"
	"github.com/avastel/mediavault-backend/internal/observability"
	"github.com/avastel/mediavault-backend/internal/platform/logger"
	"github.com/avastel/mediavault-backend/internal/render"
)

type CollectorConfig struct {
	Stream      string
	Group       string
	Consumer    string
	MaxBatch    int
	IdleFlush   time.Duration
	ReclaimIdle time.Duration
	MaxAttempts int64
	Parallelism int
}

func (c *CollectorConfig) applyDefaults() {
	if c.MaxBatch <= 0 {
		c.MaxBatch = 50
	}
	if c.IdleFlush <= 0 {
		c.IdleFlush = 2 * time.Second
	}
	if c.ReclaimIdle <= 0 {
		c.ReclaimIdle = time.Minute
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.Parallelism <= 0 {
		c.Parallelism = 4
	}
}

type batchEntry struct {
	msg  broker.Message
	item WorkItem
}

type collectionBatch struct {
	collectionID uuid.UUID
	entries      []batchEntry
	firstAt      time.Time
}

// BatchCollector is one consumer loop: it drains a stream, groups work items
// by collection, and flushes bounded batches through the renderer and the
// batch writer. Messages are acknowledged only after the writer confirms
// persistence. It is an injectable instance with an explicit lifetime; there
// is deliberately no process-global batching state.
type BatchCollector struct {
	cfg         CollectorConfig
	log         *logger.Logger
	bus         broker.Broker
	renderer    render.Renderer
	writer      *BatchWriter
	ledgers     repos.ProgressLedgerRepo
	collections repos.CollectionRepo
	counters    *observability.Counters

	mu      sync.Mutex
	pending map[uuid.UUID]*collectionBatch
	flights sync.WaitGroup
	slots   chan struct{}
}

func NewBatchCollector(cfg CollectorConfig, baseLog *logger.Logger, bus broker.Broker, renderer render.Renderer, writer *BatchWriter, ledgers repos.ProgressLedgerRepo, collections repos.CollectionRepo, counters *observability.Counters) *BatchCollector {
	cfg.applyDefaults()
	return &BatchCollector{
		cfg:         cfg,
		log:         baseLog.With("component", "BatchCollector", "stream", cfg.Stream),
		bus:         bus,
		renderer:    renderer,
		writer:      writer,
		ledgers:     ledgers,
		collections: collections,
		counters:    counters,
		pending:     make(map[uuid.UUID]*collectionBatch),
		slots:       make(chan struct{}, cfg.Parallelism),
	}
}

// Run consumes until ctx is cancelled, then drains: buffered batches are
// flushed and in-flight flushes finish their current work before Run
// returns.
func (c *BatchCollector) Run(ctx context.Context) error {
	block := c.cfg.IdleFlush / 2
	if block < 100*time.Millisecond {
		block = 100 * time.Millisecond
	}
	for {
		if ctx.Err() != nil {
			c.drain()
			return nil
		}

		msgs, err := c.bus.Consume(ctx, c.cfg.Stream, c.cfg.Group, c.cfg.Consumer, int64(c.cfg.MaxBatch), block)
		if err != nil {
			if ctx.Err() != nil {
				c.drain()
				return nil
			}
			c.log.Warn("Consume failed, backing off", "error", err)
			select {
			case <-ctx.Done():
				c.drain()
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		c.ingest(ctx, msgs)

		reclaimed, err := c.bus.Reclaim(ctx, c.cfg.Stream, c.cfg.Group, c.cfg.Consumer, c.cfg.ReclaimIdle, int64(c.cfg.MaxBatch))
		if err != nil {
			c.log.Warn("Reclaim failed", "error", err)
		} else {
			c.ingest(ctx, reclaimed)
		}

		c.flushDue(false)
	}
}

func (c *BatchCollector) ingest(ctx context.Context, msgs []broker.Message) {
	for _, msg := range msgs {
		if msg.Attempts > c.cfg.MaxAttempts {
			// Retry budget spent; park it for the safety net instead of
			// looping forever.
			if err := c.bus.DeadLetter(ctx, msg, c.cfg.Group); err != nil {
				c.log.Warn("Dead-letter move failed", "message_id", msg.ID, "error", err)
			} else if c.counters != nil {
				c.counters.IncDeadLettered()
			}
			continue
		}
		item, err := WorkItemFromMessage(msg)
		if err != nil {
			// Malformed payloads can never succeed; keep them inspectable.
			c.log.Warn("Undecodable work item dead-lettered", "message_id", msg.ID, "error", err)
			if derr := c.bus.DeadLetter(ctx, msg, c.cfg.Group); derr != nil {
				c.log.Warn("Dead-letter move failed", "message_id", msg.ID, "error", derr)
			}
			continue
		}
		c.buffer(batchEntry{msg: msg, item: item})
	}
}

func (c *BatchCollector) buffer(e batchEntry) {
	c.mu.Lock()
	b, ok := c.pending[e.item.CollectionID]
	if !ok {
		b = &collectionBatch{collectionID: e.item.CollectionID, firstAt: time.Now()}
		c.pending[e.item.CollectionID] = b
	}
	b.entries = append(b.entries, e)
	full := len(b.entries) >= c.cfg.MaxBatch
	if full {
		delete(c.pending, e.item.CollectionID)
	}
	c.mu.Unlock()
	if full {
		c.dispatch(b)
	}
}

// flushDue flushes batches whose idle timer elapsed, or everything when
// force is set.
func (c *BatchCollector) flushDue(force bool) {
	now := time.Now()
	var due []*collectionBatch
	c.mu.Lock()
	for id, b := range c.pending {
		if force || now.Sub(b.firstAt) >= c.cfg.IdleFlush {
			due = append(due, b)
			delete(c.pending, id)
		}
	}
	c.mu.Unlock()
	for _, b := range due {
		c.dispatch(b)
	}
}

func (c *BatchCollector) drain() {
	c.flushDue(true)
	c.flights.Wait()
}

func (c *BatchCollector) dispatch(b *collectionBatch) {
	c.flights.Add(1)
	c.slots <- struct{}{}
	go func() {
		defer func() {
			<-c.slots
			c.flights.Done()
		}()
		// Flushing uses a fresh context: a shutdown signal must not abort a
		// batch that is already past rendering.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := c.processBatch(ctx, b); err != nil {
			c.log.Warn("Batch aborted, messages left for redelivery", "collection_id", b.collectionID, "items", len(b.entries), "error", err)
			if c.counters != nil {
				c.counters.IncBatchAborted()
			}
		}
	}()
}

type processedEntry struct {
	entry      batchEntry
	outputs    map[string]*render.Rendered
	outcome    string
	errorClass string
	transient  bool
}

func (c *BatchCollector) processBatch(ctx context.Context, b *collectionBatch) error {
	collection, err := c.collections.GetByID(ctx, nil, b.collectionID)
	if err != nil {
		return err
	}

	// Heartbeat each ledger up front so a long render phase reads as "slow
	// but alive", not stalled.
	for _, jobID := range distinctJobs(b.entries) {
		if err := c.ledgers.Heartbeat(ctx, nil, jobID); err != nil {
			c.log.Warn("Heartbeat failed", "job_id", jobID, "error", err)
		}
	}

	processed := make([]*processedEntry, 0, len(b.entries))
	for _, e := range b.entries {
		processed = append(processed, c.processItem(ctx, collection, e))
	}

	var renders []*ItemRender
	for _, p := range processed {
		if p.transient || p.outcome == domain.OutcomeFailed {
			continue
		}
		if len(p.outputs) > 0 {
			renders = append(renders, &ItemRender{Item: p.entry.item, Outputs: p.outputs})
		}
	}

	var persisted *PersistedBatch
	if collection != nil {
		persisted, err = c.writer.WriteBatch(ctx, collection, renders)
		if err != nil {
			for _, p := range processed {
				releaseOutputs(p.outputs)
			}
			return err
		}
	} else {
		persisted = &PersistedBatch{BytesByAsset: map[uuid.UUID]int64{}}
	}

	var ackIDs []string
	for _, p := range processed {
		releaseOutputs(p.outputs)
		if p.transient {
			// No outcome, no ack: redelivered once its pending idle elapses.
			continue
		}
		outcome := p.outcome
		if outcome == "" {
			if len(p.outputs) == 0 {
				outcome = domain.OutcomeSkipped
			} else {
				outcome = domain.OutcomeCompleted
			}
		}
		bytes := persisted.BytesByAsset[p.entry.item.AssetID]
		if _, err := c.ledgers.RecordOutcome(ctx, nil, p.entry.item.JobID, p.entry.item.AssetID, outcome, bytes, p.errorClass); err != nil {
			// Leave unacked; the retry is idempotent.
			c.log.Warn("RecordOutcome failed", "job_id", p.entry.item.JobID, "asset_id", p.entry.item.AssetID, "error", err)
			continue
		}
		c.count(outcome)
		ackIDs = append(ackIDs, p.entry.msg.ID)
	}

	if len(ackIDs) > 0 {
		if err := c.bus.Ack(ctx, c.cfg.Stream, c.cfg.Group, ackIDs...); err != nil {
			// Outcomes are durable; redelivery of acked-but-lost messages is
			// absorbed by RecordOutcome's no-op path.
			c.log.Warn("Ack failed", "count", len(ackIDs), "error", err)
		}
	}

	for _, jobID := range distinctJobs(b.entries) {
		if done, err := c.ledgers.TransitionIfComplete(ctx, nil, jobID); err != nil {
			c.log.Warn("TransitionIfComplete failed", "job_id", jobID, "error", err)
		} else if done {
			c.log.Info("Generation job completed", "job_id", jobID)
		}
	}

	if c.counters != nil {
		c.counters.IncBatchFlushed()
	}
	return nil
}

// processItem renders whatever kinds the item still lacks. A collection row
// that has vanished, or a source that cannot be read, is a terminal failure;
// momentary resource pressure leaves the message for redelivery.
func (c *BatchCollector) processItem(ctx context.Context, collection *domain.Collection, e batchEntry) *processedEntry {
	p := &processedEntry{entry: e, outputs: map[string]*render.Rendered{}}
	if collection == nil {
		p.outcome = domain.OutcomeFailed
		p.errorClass = render.ClassSourceUnavailable
		return p
	}
	for _, kind := range KindsFor(e.item.Kind) {
		params := ParamsFor(kind, e.item.Settings)
		exists, err := c.collections.HasValidEntry(ctx, nil, e.item.AssetID, kind, params.Width, params.Height)
		if err != nil {
			p.transient = true
			return p
		}
		if exists {
			// Duplicate delivery or a concurrent batch got here first:
			// short-circuit with zero render and zero disk I/O.
			continue
		}
		rendered, err := c.renderer.Render(ctx, render.Source{
			Path:      e.item.SourcePath,
			ByteSize:  e.item.SourceBytes,
			InArchive: e.item.InArchive,
		}, params)
		if err != nil {
			releaseOutputs(p.outputs)
			p.outputs = map[string]*render.Rendered{}
			if render.Terminal(err) {
				p.outcome = domain.OutcomeFailed
				p.errorClass = render.Classify(err)
			} else {
				p.transient = true
			}
			return p
		}
		p.outputs[kind] = rendered
	}
	return p
}

func (c *BatchCollector) count(outcome string) {
	if c.counters == nil {
		return
	}
	switch outcome {
	case domain.OutcomeCompleted:
		c.counters.IncCompleted()
	case domain.OutcomeSkipped:
		c.counters.IncSkipped()
	case domain.OutcomeFailed:
		c.counters.IncFailed()
	}
}

func releaseOutputs(outputs map[string]*render.Rendered) {
	for _, r := range outputs {
		r.Release()
	}
}

func distinctJobs(entries []batchEntry) []uuid.UUID {
	seen := make(map[uuid.UUID]bool)
	var out []uuid.UUID
	for _, e := range entries {
		if !seen[e.item.JobID] {
			seen[e.item.JobID] = true
			out = append(out, e.item.JobID)
		}
	}
	return out
}
