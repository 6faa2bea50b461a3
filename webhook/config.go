package webhook

import (
	"time"

	"github.com/cockroachdb/errors"

	"github.com/xraph/renderq"
)

// Config tunes delivery, retry and circuit breaking.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens a
	// subscription's circuit.
	FailureThreshold int

	// Cooldown is how long a freshly opened circuit stays open. Each failed
	// half-open trial doubles it, up to MaxCooldown.
	Cooldown    time.Duration
	MaxCooldown time.Duration

	// MaxAttempts is the delivery budget per event, first try included.
	MaxAttempts int

	// BaseDelay, MaxDelay and Jitter shape the retry backoff between
	// attempts of one event.
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Jitter    float64

	// Timeout bounds a single HTTP call.
	Timeout time.Duration

	// RateLimit is the sustained deliveries per second per subscription.
	// Zero disables rate limiting.
	RateLimit float64
	RateBurst int

	// QueueSize bounds each subscription's pending events; InboxSize bounds
	// events not yet routed. Full queues drop events.
	QueueSize int
	InboxSize int

	// AttemptHistory is how many recent attempts are kept per subscription.
	AttemptHistory int

	// UserAgent is sent with every delivery.
	UserAgent string
}

// DefaultConfig returns the default webhook configuration.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Cooldown:         time.Minute,
		MaxCooldown:      15 * time.Minute,
		MaxAttempts:      4,
		BaseDelay:        time.Second,
		MaxDelay:         5 * time.Minute,
		Jitter:           0.2,
		Timeout:          30 * time.Second,
		RateLimit:        100.0 / 60.0,
		RateBurst:        10,
		QueueSize:        256,
		InboxSize:        1024,
		AttemptHistory:   100,
		UserAgent:        "renderq-webhook/1.0",
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch {
	case c.FailureThreshold < 1:
		return errors.Wrapf(renderq.ErrInvalidConfig, "webhook failure threshold must be at least 1, got %d", c.FailureThreshold)
	case c.Cooldown <= 0 || c.MaxCooldown < c.Cooldown:
		return errors.Wrap(renderq.ErrInvalidConfig, "webhook max cooldown must be >= cooldown > 0")
	case c.MaxAttempts < 1:
		return errors.Wrapf(renderq.ErrInvalidConfig, "webhook max attempts must be at least 1, got %d", c.MaxAttempts)
	case c.Jitter < 0 || c.Jitter >= 1:
		return errors.Wrapf(renderq.ErrInvalidConfig, "webhook jitter must be in [0, 1), got %v", c.Jitter)
	case c.Timeout <= 0:
		return errors.Wrap(renderq.ErrInvalidConfig, "webhook timeout must be positive")
	case c.QueueSize < 1 || c.InboxSize < 1:
		return errors.Wrap(renderq.ErrInvalidConfig, "webhook queue sizes must be positive")
	}
	return nil
}
