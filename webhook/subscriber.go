package webhook

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/time/rate"

	"github.com/xraph/renderq"
	"github.com/xraph/renderq/backoff"
	"github.com/xraph/renderq/event"
	"github.com/xraph/renderq/id"
)

// subscriber owns one subscription: its queue, breaker, limiter and the
// goroutine that delivers to it serially.
type subscriber struct {
	d       *Dispatcher
	mu      sync.Mutex
	sub     *Subscription
	breaker *Breaker
	limiter *rate.Limiter
	backoff backoff.Strategy
	history *history

	queue  chan event.Transition
	cancel context.CancelFunc
	done   chan struct{}
}

func newSubscriber(d *Dispatcher, sub *Subscription, h *history) *subscriber {
	s := &subscriber{
		d:       d,
		sub:     sub.Clone(),
		breaker: NewBreaker(d.config.FailureThreshold, d.config.Cooldown, d.config.MaxCooldown, d.now),
		backoff: &backoff.Bounded{Base: d.config.BaseDelay, Max: d.config.MaxDelay, Jitter: d.config.Jitter},
		history: h,
		queue:   make(chan event.Transition, d.config.QueueSize),
		done:    make(chan struct{}),
	}
	s.breaker.Load(sub)
	if d.config.RateLimit > 0 {
		burst := max(d.config.RateBurst, 1)
		s.limiter = rate.NewLimiter(rate.Limit(d.config.RateLimit), burst)
	}
	return s
}

func (s *subscriber) id() id.SubscriptionID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sub.ID
}

func (s *subscriber) snapshot() *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sub.Clone()
}

func (s *subscriber) accepts(t event.Type) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sub.Active && s.sub.Accepts(t)
}

// enqueue never blocks; a full queue drops the event.
func (s *subscriber) enqueue(t event.Transition) bool {
	select {
	case s.queue <- t:
		return true
	default:
		s.history.drop()
		return false
	}
}

func (s *subscriber) start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	go s.run(ctx)
}

// stop cancels the delivery goroutine and waits for it, or for ctx.
func (s *subscriber) stop(ctx context.Context) {
	s.cancel()
	select {
	case <-s.done:
	case <-ctx.Done():
	}
}

func (s *subscriber) run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-s.queue:
			s.deliver(ctx, t)
		}
	}
}

// deliver sends one event, retrying with backoff until it is delivered,
// its attempts are spent or ctx ends.
func (s *subscriber) deliver(ctx context.Context, t event.Transition) {
	body, err := NewPayload(t).Encode()
	if err != nil {
		s.d.logger.Error("webhook payload encode failed",
			slog.String("event_id", t.ID.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	maxAttempts := s.d.config.MaxAttempts
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := s.attempt(ctx, t, body, attempt)
		if err == nil {
			return
		}
		if ctx.Err() != nil {
			return
		}
		if attempt == maxAttempts {
			s.d.logger.Warn("webhook delivery exhausted, dropping event",
				slog.String("subscription_id", s.id().String()),
				slog.String("event_id", t.ID.String()),
				slog.String("event_type", string(t.Type())),
				slog.Int("attempts", attempt),
				slog.String("error", err.Error()),
			)
			return
		}

		timer := time.NewTimer(s.backoff.Delay(attempt - 1))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// attempt performs one delivery attempt and records its outcome.
func (s *subscriber) attempt(ctx context.Context, t event.Transition, body []byte, n int) error {
	sub := s.snapshot()
	a := Attempt{
		ID:             id.NewDeliveryID(),
		SubscriptionID: sub.ID,
		EventID:        t.ID,
		EventType:      t.Type(),
		Attempt:        n,
		At:             s.d.now().UTC(),
	}

	if err := s.breaker.Allow(); err != nil {
		a.Outcome = OutcomeSkipped
		a.Error = err.Error()
		s.history.record(a)
		return err
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			// Only ctx ends a limiter wait here; the trial never ran.
			s.breaker.Load(sub)
			return err
		}
	}

	start := time.Now()
	status, err := s.send(ctx, sub, a, body)
	a.Duration = time.Since(start)
	a.StatusCode = status

	if err != nil {
		if ctx.Err() != nil {
			s.breaker.Load(sub)
			return err
		}
		a.Outcome = OutcomeFailed
		a.Error = err.Error()
		s.breaker.Failure()
	} else {
		a.Outcome = OutcomeDelivered
		s.breaker.Success()
	}
	s.history.record(a)
	s.persist(ctx, a.At)

	if err == nil {
		s.d.logger.Debug("webhook delivered",
			slog.String("subscription_id", sub.ID.String()),
			slog.String("event_type", string(a.EventType)),
			slog.Int("status", status),
			slog.Duration("duration", a.Duration),
		)
	}
	return err
}

func (s *subscriber) send(ctx context.Context, sub *Subscription, a Attempt, body []byte) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.d.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		return 0, errors.Wrap(err, "build request")
	}
	for k, v := range sub.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", s.d.config.UserAgent)
	req.Header.Set(HeaderSignature, Sign(sub.Secret, body))
	req.Header.Set(HeaderEvent, string(a.EventType))
	req.Header.Set(HeaderDelivery, a.ID.String())
	req.Header.Set(HeaderTimestamp, a.At.Format(time.RFC3339Nano))

	resp, err := s.d.doer.Do(req)
	if err != nil {
		return 0, errors.Mark(errors.Wrap(err, "webhook request"), renderq.ErrDeliveryFailure)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, errors.Wrapf(renderq.ErrDeliveryFailure, "status %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

// persist writes the breaker state back to the store. A deleted
// subscription is not an error.
func (s *subscriber) persist(ctx context.Context, at time.Time) {
	s.mu.Lock()
	prev := s.sub.Clone()
	s.breaker.Save(s.sub)
	s.sub.LastAttemptAt = &at
	s.sub.UpdatedAt = at
	changed := prev.CircuitState != s.sub.CircuitState || prev.FailureCount != s.sub.FailureCount
	cp := s.sub.Clone()
	s.mu.Unlock()

	if !changed {
		return
	}
	if prev.CircuitState != cp.CircuitState {
		s.d.logger.Warn("webhook circuit changed",
			slog.String("subscription_id", cp.ID.String()),
			slog.String("from", string(prev.CircuitState)),
			slog.String("to", string(cp.CircuitState)),
			slog.Int("failures", cp.FailureCount),
			slog.Duration("cooldown", cp.Cooldown),
		)
	}
	if err := s.d.store.UpdateSubscription(context.WithoutCancel(ctx), cp); err != nil &&
		!errors.Is(err, renderq.ErrSubscriptionNotFound) {
		s.d.logger.Error("failed to persist webhook circuit state",
			slog.String("subscription_id", cp.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}
