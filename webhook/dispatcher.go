package webhook

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/xraph/renderq"
	"github.com/xraph/renderq/event"
	"github.com/xraph/renderq/ext"
	"github.com/xraph/renderq/id"
)

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Compile-time checks.
var (
	_ ext.Extension       = (*Dispatcher)(nil)
	_ ext.JobTransitioned = (*Dispatcher)(nil)
)

// Dispatcher fans job transitions out to webhook subscriptions.
type Dispatcher struct {
	store  Store
	config Config
	doer   Doer
	logger *slog.Logger
	now    func() time.Time

	inbox chan event.Transition

	mu         sync.RWMutex
	subs       map[string]*subscriber
	histories  map[string]*history
	ctx        context.Context
	cancel     context.CancelFunc
	routerDone chan struct{}
	running    bool
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithConfig replaces the delivery configuration.
func WithConfig(c Config) Option {
	return func(d *Dispatcher) { d.config = c }
}

// WithDoer sets the HTTP transport.
func WithDoer(doer Doer) Option {
	return func(d *Dispatcher) { d.doer = doer }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithClock sets the clock used by circuit breakers.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// NewDispatcher creates a webhook dispatcher over store.
func NewDispatcher(store Store, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:     store,
		config:    DefaultConfig(),
		doer:      http.DefaultClient,
		logger:    slog.Default(),
		now:       time.Now,
		subs:      make(map[string]*subscriber),
		histories: make(map[string]*history),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.inbox = make(chan event.Transition, d.config.InboxSize)
	return d
}

// Name implements ext.Extension.
func (d *Dispatcher) Name() string { return "webhook" }

// OnJobTransition queues t for delivery without blocking. A full inbox
// drops the event.
func (d *Dispatcher) OnJobTransition(_ context.Context, t event.Transition) error {
	select {
	case d.inbox <- t:
	default:
		d.logger.Warn("webhook inbox full, dropping event",
			slog.String("event_id", t.ID.String()),
			slog.String("event_type", string(t.Type())),
			slog.String("job_id", t.JobID.String()),
		)
	}
	return nil
}

// Start loads the persisted subscriptions and starts delivering.
func (d *Dispatcher) Start(ctx context.Context) error {
	subs, err := d.store.ListSubscriptions(ctx)
	if err != nil {
		return errors.Wrap(err, "webhook: load subscriptions")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return nil
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	d.routerDone = make(chan struct{})

	for _, sub := range subs {
		d.addLocked(sub)
	}
	for _, s := range d.subs {
		s.start(d.ctx)
	}
	d.running = true
	go d.route(d.ctx)

	d.logger.Info("webhook dispatcher started", slog.Int("subscriptions", len(subs)))
	return nil
}

// Stop stops routing and every delivery goroutine. In-flight deliveries
// are cancelled; queued events are dropped.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	d.cancel()
	subs := make([]*subscriber, 0, len(d.subs))
	for key, s := range d.subs {
		subs = append(subs, s)
		delete(d.subs, key)
	}
	routerDone := d.routerDone
	d.mu.Unlock()

	select {
	case <-routerDone:
	case <-ctx.Done():
	}
	for _, s := range subs {
		s.stop(ctx)
	}
	d.logger.Info("webhook dispatcher stopped")
	return nil
}

func (d *Dispatcher) route(ctx context.Context) {
	defer close(d.routerDone)
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-d.inbox:
			d.fanOut(t)
		}
	}
}

func (d *Dispatcher) fanOut(t event.Transition) {
	typ := t.Type()

	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, s := range d.subs {
		if !s.accepts(typ) {
			continue
		}
		if !s.enqueue(t) {
			d.logger.Warn("webhook queue full, dropping event",
				slog.String("subscription_id", s.id().String()),
				slog.String("event_id", t.ID.String()),
				slog.String("event_type", string(typ)),
			)
		}
	}
}

// addLocked tracks sub and, while running, starts its delivery goroutine.
// d.mu must be held.
func (d *Dispatcher) addLocked(sub *Subscription) {
	key := sub.ID.String()
	if _, ok := d.subs[key]; ok {
		return
	}
	h, ok := d.histories[key]
	if !ok {
		h = newHistory(d.config.AttemptHistory)
		d.histories[key] = h
	}
	s := newSubscriber(d, sub, h)
	d.subs[key] = s
	if d.running {
		s.start(d.ctx)
	}
}

// Register validates and persists a new subscription and starts delivering
// to it. An empty secret is replaced by a random one; the returned
// subscription carries it.
func (d *Dispatcher) Register(ctx context.Context, rawURL, secret string, events []event.Type, headers map[string]string) (*Subscription, error) {
	if err := validateURL(rawURL); err != nil {
		return nil, err
	}
	for _, t := range events {
		if !t.Valid() {
			return nil, errors.Wrapf(renderq.ErrInvalidSubscription, "unknown event type %q", t)
		}
	}
	if secret == "" {
		var err error
		if secret, err = NewSecret(); err != nil {
			return nil, errors.Wrap(err, "webhook: generate secret")
		}
	}

	now := d.now().UTC()
	sub := &Subscription{
		Entity:       renderq.Entity{CreatedAt: now, UpdatedAt: now},
		ID:           id.NewSubscriptionID(),
		URL:          rawURL,
		Secret:       secret,
		Events:       slices.Clone(events),
		Headers:      headers,
		Active:       true,
		CircuitState: CircuitClosed,
		Cooldown:     d.config.Cooldown,
	}
	if err := d.store.CreateSubscription(ctx, sub); err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.addLocked(sub)
	d.mu.Unlock()

	d.logger.Info("webhook registered",
		slog.String("subscription_id", sub.ID.String()),
		slog.String("url", sub.URL),
	)
	return sub.Clone(), nil
}

// Unregister stops delivering to a subscription and deletes it.
func (d *Dispatcher) Unregister(ctx context.Context, subID id.SubscriptionID) error {
	if err := d.store.DeleteSubscription(ctx, subID); err != nil {
		return err
	}

	d.mu.Lock()
	key := subID.String()
	s, ok := d.subs[key]
	delete(d.subs, key)
	delete(d.histories, key)
	d.mu.Unlock()

	if ok && s.cancel != nil {
		s.stop(ctx)
	}
	d.logger.Info("webhook unregistered", slog.String("subscription_id", key))
	return nil
}

// Get returns a subscription with its live circuit state.
func (d *Dispatcher) Get(ctx context.Context, subID id.SubscriptionID) (*Subscription, error) {
	d.mu.RLock()
	s, ok := d.subs[subID.String()]
	d.mu.RUnlock()
	if ok {
		return s.snapshot(), nil
	}
	return d.store.GetSubscription(ctx, subID)
}

// List returns every subscription, oldest first.
func (d *Dispatcher) List(ctx context.Context) ([]*Subscription, error) {
	subs, err := d.store.ListSubscriptions(ctx)
	if err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	for i, sub := range subs {
		if s, ok := d.subs[sub.ID.String()]; ok {
			subs[i] = s.snapshot()
		}
	}
	return subs, nil
}

// Stats returns delivery statistics of a subscription.
func (d *Dispatcher) Stats(ctx context.Context, subID id.SubscriptionID) (Stats, error) {
	sub, err := d.Get(ctx, subID)
	if err != nil {
		return Stats{}, err
	}

	d.mu.RLock()
	h, ok := d.histories[subID.String()]
	d.mu.RUnlock()

	var st Stats
	if ok {
		st = h.snapshot()
	}
	st.SubscriptionID = sub.ID
	st.CircuitState = sub.CircuitState
	if st.LastAttemptAt == nil && sub.LastAttemptAt != nil {
		t := *sub.LastAttemptAt
		st.LastAttemptAt = &t
	}
	return st, nil
}

// Attempts returns the recent delivery attempts of a subscription, newest
// first.
func (d *Dispatcher) Attempts(subID id.SubscriptionID) ([]Attempt, error) {
	d.mu.RLock()
	h, ok := d.histories[subID.String()]
	d.mu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(renderq.ErrSubscriptionNotFound, "subscription %s", subID)
	}
	return h.attempts(), nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return errors.Wrapf(renderq.ErrInvalidSubscription, "url %q: %v", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.Wrapf(renderq.ErrInvalidSubscription, "url %q must be http or https", raw)
	}
	if u.Host == "" {
		return errors.Wrapf(renderq.ErrInvalidSubscription, "url %q has no host", raw)
	}
	return nil
}
