package broker

import (
	"context"
	"errors"
	"time"
)

// Stream names. Each variant kind gets its own destination so dead-lettering
// and queue caps apply per destination.
const (
	StreamThumbnail  = "mv:variants:thumbnail"
	StreamCache      = "mv:variants:cache"
	StreamDeadLetter = "mv:variants:dead"
)

// OriginField carries the original destination on dead-lettered messages so
// the safety net can route them back without guessing.
const OriginField = "origin_stream"

var (
	// ErrQueueFull is the reject-on-overflow guard: publishing is refused
	// rather than letting an unconsumed stream grow without bound.
	ErrQueueFull = errors.New("broker queue at capacity")
	// ErrUnroutable marks a dead-lettered message with no usable origin
	// mapping. It is never discarded; it stays put for manual inspection.
	ErrUnroutable = errors.New("dead-letter message has no origin destination")
)

// Message is one delivered stream entry. Attempts counts deliveries so
// consumers can decide when a message has exhausted its retries.
type Message struct {
	ID       string
	Stream   string
	Values   map[string]string
	Attempts int64
}

// Broker is the at-least-once delivery surface the pipeline runs on. The
// production implementation is Redis Streams with consumer groups; tests use
// an in-memory fake.
type Broker interface {
	// PublishBatch appends all payloads in a single round trip. Either the
	// whole batch is accepted or none of it is (ErrQueueFull).
	PublishBatch(ctx context.Context, stream string, payloads []map[string]interface{}) error
	// Consume blocks up to block for new messages on the group.
	Consume(ctx context.Context, stream string, group string, consumer string, count int64, block time.Duration) ([]Message, error)
	Ack(ctx context.Context, stream string, group string, ids ...string) error
	// Reclaim takes over messages another consumer left pending for longer
	// than minIdle. This is how unacked work gets redelivered after a crash.
	Reclaim(ctx context.Context, stream string, group string, consumer string, minIdle time.Duration, count int64) ([]Message, error)
	// DeadLetter moves a message to the dead-letter stream, stamping its
	// origin, and acks it on the source group. Publish happens first; a
	// crash in between yields a duplicate, never a loss.
	DeadLetter(ctx context.Context, msg Message, group string) error
	QueueLen(ctx context.Context, stream string) (int64, error)
}
