package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/avastel/mediavault-backend/internal/broker"
	"github.com/avastel/mediavault-backend/internal/render"
)

// fakeBroker is an in-memory Broker with the same at-least-once contract as
// the Redis implementation: consumed messages stay pending until acked, and
// Reclaim hands back whatever idled past the threshold.
type fakeBroker struct {
	mu          sync.Mutex
	seq         int
	maxLen      int
	failPublish error

	queued  map[string][]broker.Message
	pending map[string]map[string]*pendingMsg // stream/group -> id -> msg
}

type pendingMsg struct {
	msg         broker.Message
	attempts    int64
	deliveredAt time.Time
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		queued:  make(map[string][]broker.Message),
		pending: make(map[string]map[string]*pendingMsg),
	}
}

func groupKey(stream, group string) string { return stream + "/" + group }

func (b *fakeBroker) PublishBatch(ctx context.Context, stream string, payloads []map[string]interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failPublish != nil {
		return b.failPublish
	}
	if b.maxLen > 0 && len(b.queued[stream])+len(payloads) > b.maxLen {
		return broker.ErrQueueFull
	}
	for _, p := range payloads {
		b.seq++
		values := make(map[string]string, len(p))
		for k, v := range p {
			values[k] = fmt.Sprint(v)
		}
		b.queued[stream] = append(b.queued[stream], broker.Message{
			ID:     strconv.Itoa(b.seq),
			Stream: stream,
			Values: values,
		})
	}
	return nil
}

func (b *fakeBroker) Consume(ctx context.Context, stream string, group string, consumer string, count int64, block time.Duration) ([]broker.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queued[stream]
	n := int64(len(q))
	if n > count {
		n = count
	}
	if n == 0 {
		return nil, nil
	}
	taken := q[:n]
	b.queued[stream] = q[n:]
	key := groupKey(stream, group)
	if b.pending[key] == nil {
		b.pending[key] = make(map[string]*pendingMsg)
	}
	out := make([]broker.Message, 0, n)
	for _, m := range taken {
		b.pending[key][m.ID] = &pendingMsg{msg: m, attempts: 1, deliveredAt: time.Now()}
		m.Attempts = 1
		out = append(out, m)
	}
	return out, nil
}

func (b *fakeBroker) Ack(ctx context.Context, stream string, group string, ids ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := groupKey(stream, group)
	for _, id := range ids {
		delete(b.pending[key], id)
	}
	return nil
}

func (b *fakeBroker) Reclaim(ctx context.Context, stream string, group string, consumer string, minIdle time.Duration, count int64) ([]broker.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []broker.Message
	for _, p := range b.pending[groupKey(stream, group)] {
		if int64(len(out)) >= count {
			break
		}
		if time.Since(p.deliveredAt) < minIdle {
			continue
		}
		p.attempts++
		p.deliveredAt = time.Now()
		m := p.msg
		m.Attempts = p.attempts
		out = append(out, m)
	}
	return out, nil
}

func (b *fakeBroker) DeadLetter(ctx context.Context, msg broker.Message, group string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	values := make(map[string]string, len(msg.Values)+1)
	for k, v := range msg.Values {
		values[k] = v
	}
	values[broker.OriginField] = msg.Stream
	b.seq++
	b.queued[broker.StreamDeadLetter] = append(b.queued[broker.StreamDeadLetter], broker.Message{
		ID:     strconv.Itoa(b.seq),
		Stream: broker.StreamDeadLetter,
		Values: values,
	})
	delete(b.pending[groupKey(msg.Stream, group)], msg.ID)
	return nil
}

func (b *fakeBroker) QueueLen(ctx context.Context, stream string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(len(b.queued[stream])), nil
}

func (b *fakeBroker) queuedCount(stream string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queued[stream])
}

func (b *fakeBroker) pendingCount(stream, group string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending[groupKey(stream, group)])
}

// agePending backdates delivery so Reclaim sees the messages as idle.
func (b *fakeBroker) agePending(stream, group string, by time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range b.pending[groupKey(stream, group)] {
		p.deliveredAt = p.deliveredAt.Add(-by)
	}
}

var errRenderBoom = errors.New("render boom")

// fakeRenderer renders canned bytes and fails for configured source paths.
type fakeRenderer struct {
	mu       sync.Mutex
	failures map[string]error
	calls    int
	released int
}

func newFakeRenderer() *fakeRenderer {
	return &fakeRenderer{failures: make(map[string]error)}
}

func (r *fakeRenderer) failWith(path string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[path] = err
}

func (r *fakeRenderer) Render(ctx context.Context, src render.Source, params render.OutputParams) (*render.Rendered, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if err := r.failures[src.Path]; err != nil {
		return nil, err
	}
	out := &render.Rendered{
		Bytes:  []byte("rendered-bytes"),
		Width:  params.Width,
		Height: params.Height,
		Format: "jpeg",
	}
	out.SetRelease(func() {
		r.mu.Lock()
		r.released++
		r.mu.Unlock()
	})
	return out, nil
}

func (r *fakeRenderer) renderCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func (r *fakeRenderer) releaseCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.released
}
