package amqphook

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/xraph/renderq/backoff"
	"github.com/xraph/renderq/event"
	"github.com/xraph/renderq/ext"
)

// Compile-time interface checks.
var (
	_ ext.Extension       = (*Extension)(nil)
	_ ext.JobTransitioned = (*Extension)(nil)
	_ ext.Shutdown        = (*Extension)(nil)
)

// Channel is the subset of *amqp.Channel the extension uses.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Dial connects to a RabbitMQ broker and opens a channel. The caller owns
// the connection and closes it on shutdown.
func Dial(url string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.DialConfig(url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
	})
	if err != nil {
		return nil, nil, errors.Wrap(err, "amqphook: dial")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, errors.Wrap(err, "amqphook: open channel")
	}
	return conn, ch, nil
}

// Extension publishes job transitions to a topic exchange.
type Extension struct {
	channel    Channel
	exchange   string
	enabled    map[event.Type]bool // nil = all enabled
	payload    PayloadFunc
	bufferSize int
	retries    int
	retryDelay time.Duration
	timeout    time.Duration
	logger     *slog.Logger

	queue chan event.Transition

	mu      sync.Mutex
	cancel  context.CancelFunc
	stop    chan struct{}
	done    chan struct{}
	running bool
}

// New creates an Extension publishing through ch. Call Start before events
// are published; until then they are buffered.
func New(ch Channel, opts ...Option) *Extension {
	h := &Extension{
		channel:    ch,
		exchange:   DefaultExchange,
		payload:    defaultPayload,
		bufferSize: 1024,
		retries:    3,
		retryDelay: 100 * time.Millisecond,
		timeout:    5 * time.Second,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.queue = make(chan event.Transition, max(h.bufferSize, 1))
	return h
}

// Name implements ext.Extension.
func (h *Extension) Name() string { return "amqp-hook" }

// Start declares the exchange and starts the publisher goroutine.
func (h *Extension) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return nil
	}

	err := h.channel.ExchangeDeclare(
		h.exchange, // name
		"topic",    // type
		true,       // durable
		false,      // auto-deleted
		false,      // internal
		false,      // no-wait
		nil,        // arguments
	)
	if err != nil {
		return errors.Wrapf(err, "amqphook: declare exchange %q", h.exchange)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h.cancel = cancel
	h.done = make(chan struct{})
	h.stop = make(chan struct{})
	h.running = true
	go h.run(runCtx)

	h.logger.Info("amqp hook started", slog.String("exchange", h.exchange))
	return nil
}

// Stop publishes what is already buffered, until ctx ends, then stops.
func (h *Extension) Stop(ctx context.Context) error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return nil
	}
	h.running = false
	close(h.stop)
	cancel, done := h.cancel, h.done
	h.mu.Unlock()

	select {
	case <-done:
		cancel()
		return nil
	case <-ctx.Done():
		cancel()
		<-done
		return ctx.Err()
	}
}

// OnShutdown implements ext.Shutdown.
func (h *Extension) OnShutdown(ctx context.Context) error {
	return h.Stop(ctx)
}

// OnJobTransition implements ext.JobTransitioned. It never blocks.
func (h *Extension) OnJobTransition(_ context.Context, t event.Transition) error {
	if h.enabled != nil && !h.enabled[t.Type()] {
		return nil
	}
	select {
	case h.queue <- t:
	default:
		h.logger.Warn("amqp hook buffer full, dropping event",
			slog.String("event_id", t.ID.String()),
			slog.String("event_type", string(t.Type())),
		)
	}
	return nil
}

func (h *Extension) run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-h.stop:
			h.drain(ctx)
			return
		case t := <-h.queue:
			h.publish(ctx, t)
		}
	}
}

// drain publishes buffered events until the buffer is empty or ctx ends.
func (h *Extension) drain(ctx context.Context) {
	for ctx.Err() == nil {
		select {
		case t := <-h.queue:
			h.publish(ctx, t)
		default:
			return
		}
	}
}

// publish sends one event, retrying with exponential backoff.
func (h *Extension) publish(ctx context.Context, t event.Transition) {
	body, err := h.payload(t)
	if err != nil {
		h.logger.Error("amqp hook payload failed",
			slog.String("event_id", t.ID.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    t.ID.String(),
		Type:         string(t.Type()),
		Timestamp:    t.At,
		Body:         body,
	}
	key := RoutingKey(t)
	delays := backoff.NewExponential(h.retryDelay, 30*h.retryDelay)

	for attempt := 0; ; attempt++ {
		pubCtx, cancel := context.WithTimeout(ctx, h.timeout)
		err = h.channel.PublishWithContext(pubCtx,
			h.exchange, // exchange
			key,        // routing key
			false,      // mandatory
			false,      // immediate
			msg,
		)
		cancel()
		if err == nil {
			return
		}
		if attempt >= h.retries || ctx.Err() != nil {
			break
		}

		h.logger.Warn("amqp publish failed, retrying",
			slog.String("event_id", t.ID.String()),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
		timer := time.NewTimer(delays.Delay(attempt + 1))
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-timer.C:
		}
	}

	h.logger.Error("amqp publish failed, dropping event",
		slog.String("event_id", t.ID.String()),
		slog.String("routing_key", key),
		slog.String("error", err.Error()),
	)
}
