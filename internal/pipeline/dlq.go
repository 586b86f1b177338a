package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/avastel/mediavault-backend/internal/broker"
	"github.com/avastel/mediavault-backend/internal/observability"
	"github.com/avastel/mediavault-backend/internal/platform/logger"
)

type SafetyNetConfig struct {
	Group       string
	Consumer    string
	Block       time.Duration
	ReclaimIdle time.Duration
}

func (c *SafetyNetConfig) applyDefaults() {
	if c.Group == "" {
		c.Group = "safety-net"
	}
	if c.Block <= 0 {
		c.Block = 5 * time.Second
	}
	if c.ReclaimIdle <= 0 {
		c.ReclaimIdle = 5 * time.Minute
	}
}

// SafetyNet drains the dead-letter stream and puts messages back on their
// original destination. The discipline is strictly publish-then-acknowledge:
// no path can leave a message both unpublished and removed. It handles one
// message at a time so a mid-flight crash strands at most one entry, which
// the broker hands back after its pending idle elapses.
type SafetyNet struct {
	cfg      SafetyNetConfig
	log      *logger.Logger
	bus      broker.Broker
	counters *observability.Counters
}

func NewSafetyNet(cfg SafetyNetConfig, baseLog *logger.Logger, bus broker.Broker, counters *observability.Counters) *SafetyNet {
	cfg.applyDefaults()
	return &SafetyNet{
		cfg:      cfg,
		log:      baseLog.With("component", "SafetyNet"),
		bus:      bus,
		counters: counters,
	}
}

// Run drains continuously until ctx is cancelled.
func (s *SafetyNet) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		msgs, err := s.bus.Consume(ctx, broker.StreamDeadLetter, s.cfg.Group, s.cfg.Consumer, 1, s.cfg.Block)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Warn("Dead-letter consume failed, backing off", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		for _, msg := range msgs {
			s.handle(ctx, msg)
		}

		// Entries stranded by a crashed drain worker.
		reclaimed, err := s.bus.Reclaim(ctx, broker.StreamDeadLetter, s.cfg.Group, s.cfg.Consumer, s.cfg.ReclaimIdle, 1)
		if err != nil {
			s.log.Warn("Dead-letter reclaim failed", "error", err)
			continue
		}
		for _, msg := range reclaimed {
			s.handle(ctx, msg)
		}
	}
}

func (s *SafetyNet) handle(ctx context.Context, msg broker.Message) {
	origin, err := originOf(msg)
	if err != nil {
		// No guessing: the message stays dead-lettered and flagged until a
		// human decides.
		s.log.Error("Unroutable dead-letter message kept for inspection", "message_id", msg.ID, "error", err)
		return
	}

	values := make(map[string]interface{}, len(msg.Values))
	for k, v := range msg.Values {
		if k == broker.OriginField {
			continue
		}
		values[k] = v
	}

	if err := s.bus.PublishBatch(ctx, origin, []map[string]interface{}{values}); err != nil {
		// Not acknowledged; the message stays dead-lettered for the next
		// pass.
		s.log.Warn("Dead-letter republish failed", "message_id", msg.ID, "origin", origin, "error", err)
		return
	}
	if err := s.bus.Ack(ctx, broker.StreamDeadLetter, s.cfg.Group, msg.ID); err != nil {
		// Already republished; the eventual redelivery is a duplicate the
		// batch writer's skip-if-exists absorbs.
		s.log.Warn("Dead-letter ack failed after republish", "message_id", msg.ID, "error", err)
		return
	}
	if s.counters != nil {
		s.counters.IncDLQRepublished()
	}
	s.log.Info("Dead-letter message republished", "message_id", msg.ID, "origin", origin)
}

func originOf(msg broker.Message) (string, error) {
	origin := msg.Values[broker.OriginField]
	switch origin {
	case broker.StreamThumbnail, broker.StreamCache:
		return origin, nil
	case "":
		return "", fmt.Errorf("%w: missing %s", broker.ErrUnroutable, broker.OriginField)
	default:
		return "", fmt.Errorf("%w: unknown destination %q", broker.ErrUnroutable, origin)
	}
}
