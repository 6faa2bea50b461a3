package amqphook_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ah "github.com/xraph/renderq/amqp_hook"
	"github.com/xraph/renderq/event"
	"github.com/xraph/renderq/id"
	"github.com/xraph/renderq/job"
)

// published is one captured publish call.
type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

// fakeChannel records publishes and can fail the first n of them.
type fakeChannel struct {
	mu        sync.Mutex
	declared  []string
	published []published
	failFirst int
	calls     int
	block     chan struct{}
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, _, _, _, _ bool, _ amqp.Table) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.declared = append(f.declared, name+"/"+kind)
	return nil
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failFirst {
		return errors.New("channel closed")
	}
	f.published = append(f.published, published{exchange, key, msg})
	return nil
}

func (f *fakeChannel) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeChannel) snapshot() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.published...)
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func transition(from, to job.State) event.Transition {
	created := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	return event.Transition{
		ID:           id.NewEventID(),
		JobID:        id.NewJobID(),
		JobKind:      "video",
		Priority:     job.PriorityUrgent,
		From:         from,
		To:           to,
		Attempt:      2,
		MaxAttempts:  3,
		JobCreatedAt: created,
		At:           created.Add(90 * time.Second),
	}
}

func startHook(t *testing.T, ch *fakeChannel, opts ...ah.Option) *ah.Extension {
	t.Helper()
	h := ah.New(ch, append([]ah.Option{ah.WithLogger(quietLogger())}, opts...)...)
	require.NoError(t, h.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = h.Stop(ctx)
	})
	return h
}

func TestAMQPHook_Name(t *testing.T) {
	assert.Equal(t, "amqp-hook", ah.New(&fakeChannel{}).Name())
}

func TestAMQPHook_DeclaresTopicExchange(t *testing.T) {
	ch := &fakeChannel{}
	startHook(t, ch, ah.WithExchange("render.events"))
	assert.Equal(t, []string{"render.events/topic"}, ch.declared)
}

func TestAMQPHook_PublishesTransition(t *testing.T) {
	ch := &fakeChannel{}
	h := startHook(t, ch)

	tr := transition(job.StateActive, job.StateCompleted)
	require.NoError(t, h.OnJobTransition(context.Background(), tr))

	require.Eventually(t, func() bool { return len(ch.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	got := ch.snapshot()[0]
	assert.Equal(t, ah.DefaultExchange, got.exchange)
	assert.Equal(t, "render.completed", got.key)
	assert.Equal(t, "application/json", got.msg.ContentType)
	assert.Equal(t, amqp.Persistent, got.msg.DeliveryMode)
	assert.Equal(t, tr.ID.String(), got.msg.MessageId)

	var body map[string]any
	require.NoError(t, json.Unmarshal(got.msg.Body, &body))
	assert.Equal(t, tr.JobID.String(), body["job_id"])
	assert.Equal(t, "urgent", body["priority"])
	assert.Equal(t, "active", body["from_state"])
	assert.Equal(t, "completed", body["to_state"])
	assert.EqualValues(t, 90000, body["latency_ms"])
}

func TestAMQPHook_EventFilter(t *testing.T) {
	ch := &fakeChannel{}
	h := startHook(t, ch, ah.WithEvents(event.TypeDeadLettered))

	_ = h.OnJobTransition(context.Background(), transition(job.StateQueued, job.StateActive))
	_ = h.OnJobTransition(context.Background(), transition(job.StateFailed, job.StateDeadLettered))

	require.Eventually(t, func() bool { return len(ch.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	got := ch.snapshot()
	require.Len(t, got, 1)
	assert.Equal(t, "render.dead_lettered", got[0].key)
}

func TestAMQPHook_RetriesFailedPublish(t *testing.T) {
	ch := &fakeChannel{failFirst: 2}
	h := startHook(t, ch, ah.WithPublishRetry(3, time.Millisecond))

	_ = h.OnJobTransition(context.Background(), transition(job.StateActive, job.StateFailed))

	require.Eventually(t, func() bool { return len(ch.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, ch.callCount())
}

func TestAMQPHook_CustomPayload(t *testing.T) {
	ch := &fakeChannel{}
	h := startHook(t, ch, ah.WithPayloadFunc(func(t event.Transition) ([]byte, error) {
		return []byte(t.JobID.String()), nil
	}))

	tr := transition("", job.StateQueued)
	_ = h.OnJobTransition(context.Background(), tr)

	require.Eventually(t, func() bool { return len(ch.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, tr.JobID.String(), string(ch.snapshot()[0].msg.Body))
}

func TestAMQPHook_NeverBlocks(t *testing.T) {
	ch := &fakeChannel{block: make(chan struct{})}
	defer close(ch.block)
	h := startHook(t, ch, ah.WithBufferSize(2))

	start := time.Now()
	for range 50 {
		require.NoError(t, h.OnJobTransition(context.Background(), transition("", job.StateQueued)))
	}
	assert.Less(t, time.Since(start), 200*time.Millisecond)
}

func TestAMQPHook_StopDrainsBuffer(t *testing.T) {
	ch := &fakeChannel{}
	h := ah.New(ch, ah.WithLogger(quietLogger()))

	// Buffered before Start; published by Start's goroutine or Stop's drain.
	for range 5 {
		_ = h.OnJobTransition(context.Background(), transition("", job.StateQueued))
	}
	require.NoError(t, h.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.Stop(ctx))
	assert.Len(t, ch.snapshot(), 5)
}
