package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/avastel/mediavault-backend/internal/platform/envutil"
	"github.com/avastel/mediavault-backend/internal/platform/logger"
)

type redisBroker struct {
	log        *logger.Logger
	rdb        *goredis.Client
	maxLen     int64
	deadStream string
}

func NewRedisBroker(log *logger.Logger) (Broker, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	addr := envutil.String("REDIS_ADDR", "")
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	maxLen := envutil.Int64("QUEUE_MAX_LEN", 100000)

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &redisBroker{
		log:        log.With("service", "RedisBroker"),
		rdb:        rdb,
		maxLen:     maxLen,
		deadStream: StreamDeadLetter,
	}, nil
}

func (b *redisBroker) PublishBatch(ctx context.Context, stream string, payloads []map[string]interface{}) error {
	if len(payloads) == 0 {
		return nil
	}
	if b.maxLen > 0 {
		n, err := b.rdb.XLen(ctx, stream).Result()
		if err != nil && !errors.Is(err, goredis.Nil) {
			return err
		}
		if n+int64(len(payloads)) > b.maxLen {
			return ErrQueueFull
		}
	}
	pipe := b.rdb.Pipeline()
	for _, values := range payloads {
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: stream,
			Values: values,
		})
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (b *redisBroker) ensureGroup(ctx context.Context, stream string, group string) error {
	err := b.rdb.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

func (b *redisBroker) Consume(ctx context.Context, stream string, group string, consumer string, count int64, block time.Duration) ([]Message, error) {
	if err := b.ensureGroup(ctx, stream, group); err != nil {
		return nil, err
	}
	streams, err := b.rdb.XReadGroup(ctx, &goredis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []Message
	for _, s := range streams {
		for _, m := range s.Messages {
			out = append(out, Message{
				ID:       m.ID,
				Stream:   s.Stream,
				Values:   stringValues(m.Values),
				Attempts: 1,
			})
		}
	}
	return out, nil
}

func (b *redisBroker) Ack(ctx context.Context, stream string, group string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	return b.rdb.XAck(ctx, stream, group, ids...).Err()
}

func (b *redisBroker) Reclaim(ctx context.Context, stream string, group string, consumer string, minIdle time.Duration, count int64) ([]Message, error) {
	if err := b.ensureGroup(ctx, stream, group); err != nil {
		return nil, err
	}
	pending, err := b.rdb.XPendingExt(ctx, &goredis.XPendingExtArgs{
		Stream: stream,
		Group:  group,
		Idle:   minIdle,
		Start:  "-",
		End:    "+",
		Count:  count,
	}).Result()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return nil, err
	}
	if len(pending) == 0 {
		return nil, nil
	}
	retries := make(map[string]int64, len(pending))
	ids := make([]string, 0, len(pending))
	for _, p := range pending {
		retries[p.ID] = p.RetryCount
		ids = append(ids, p.ID)
	}
	claimed, err := b.rdb.XClaim(ctx, &goredis.XClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Messages: ids,
	}).Result()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return nil, err
	}
	out := make([]Message, 0, len(claimed))
	for _, m := range claimed {
		out = append(out, Message{
			ID:       m.ID,
			Stream:   stream,
			Values:   stringValues(m.Values),
			Attempts: retries[m.ID],
		})
	}
	return out, nil
}

func (b *redisBroker) DeadLetter(ctx context.Context, msg Message, group string) error {
	values := make(map[string]interface{}, len(msg.Values)+1)
	for k, v := range msg.Values {
		values[k] = v
	}
	values[OriginField] = msg.Stream
	// Publish first. If the ack below never happens the message is
	// redelivered and dead-lettered again; skip-if-exists downstream makes
	// the duplicate harmless.
	if err := b.rdb.XAdd(ctx, &goredis.XAddArgs{
		Stream: b.deadStream,
		Values: values,
	}).Err(); err != nil {
		return err
	}
	return b.rdb.XAck(ctx, msg.Stream, group, msg.ID).Err()
}

func (b *redisBroker) QueueLen(ctx context.Context, stream string) (int64, error) {
	n, err := b.rdb.XLen(ctx, stream).Result()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	return n, err
}

func stringValues(in map[string]interface{}) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = fmt.Sprint(v)
	}
	return out
}
