package renderq

import (
	"time"

	"github.com/cockroachdb/errors"

	"github.com/xraph/renderq/backoff"
)

// Config holds configuration for the Orchestrator.
type Config struct {
	// Concurrency is the number of worker slots (render jobs executed at once).
	Concurrency int

	// PollInterval bounds how long an idle slot waits before re-checking the
	// store without a wake signal. It matters when several processes share a
	// SQL or Redis store.
	PollInterval time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration

	// HeartbeatInterval is how often active jobs send heartbeats.
	HeartbeatInterval time.Duration

	// StaleJobThreshold is how long an active job may go without a heartbeat
	// before it is considered lost and failed.
	StaleJobThreshold time.Duration

	// DefaultMaxAttempts applies to submissions that do not set one.
	DefaultMaxAttempts int

	// DefaultTimeout is the per-attempt execution deadline for submissions
	// that do not set one. Zero means no deadline.
	DefaultTimeout time.Duration

	// CancelGracePeriod is how long a slot waits for a cancelled task to
	// return before the slot is reclaimed anyway.
	CancelGracePeriod time.Duration

	// HardTimeout caps how long a single attempt may occupy a slot. When it
	// elapses the job is cancelled and the slot reclaimed. Zero disables it.
	HardTimeout time.Duration

	// ProgressInterval throttles progress events and metric samples.
	ProgressInterval time.Duration

	// RetryStrategy names the retry backoff (see backoff.Names). The default
	// "bounded" waits min(RetryMaxDelay, RetryBaseDelay*2^attempt) scaled by
	// ±RetryJitter; the others use RetryBaseDelay as their first delay or
	// step and RetryMaxDelay as the cap.
	RetryStrategy  string
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	RetryJitter    float64

	// CompletedRetention and DeadRetention control how long terminal jobs
	// are kept before the janitor purges them. Zero keeps them forever.
	CompletedRetention time.Duration
	DeadRetention      time.Duration

	// CleanupInterval is how often the janitor runs.
	CleanupInterval time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:        4,
		PollInterval:       time.Second,
		ShutdownTimeout:    30 * time.Second,
		HeartbeatInterval:  10 * time.Second,
		StaleJobThreshold:  time.Minute,
		DefaultMaxAttempts: 3,
		DefaultTimeout:     30 * time.Minute,
		CancelGracePeriod:  10 * time.Second,
		HardTimeout:        2 * time.Hour,
		ProgressInterval:   time.Second,
		RetryStrategy:      backoff.NameBounded,
		RetryBaseDelay:     5 * time.Second,
		RetryMaxDelay:      5 * time.Minute,
		RetryJitter:        0.2,
		CompletedRetention: 24 * time.Hour,
		DeadRetention:      7 * 24 * time.Hour,
		CleanupInterval:    time.Hour,
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch {
	case c.Concurrency < 1:
		return errors.Wrapf(ErrInvalidConfig, "concurrency must be at least 1, got %d", c.Concurrency)
	case c.DefaultMaxAttempts < 1:
		return errors.Wrapf(ErrInvalidConfig, "default max attempts must be at least 1, got %d", c.DefaultMaxAttempts)
	case c.PollInterval <= 0:
		return errors.Wrap(ErrInvalidConfig, "poll interval must be positive")
	case c.RetryBaseDelay < 0 || c.RetryMaxDelay < c.RetryBaseDelay:
		return errors.Wrap(ErrInvalidConfig, "retry max delay must be >= retry base delay")
	case c.RetryJitter < 0 || c.RetryJitter >= 1:
		return errors.Wrapf(ErrInvalidConfig, "retry jitter must be in [0, 1), got %v", c.RetryJitter)
	case c.CancelGracePeriod < 0 || c.HardTimeout < 0:
		return errors.Wrap(ErrInvalidConfig, "timeouts must not be negative")
	}
	if _, err := c.Backoff(); err != nil {
		return err
	}
	return nil
}

// Backoff builds the retry strategy named by RetryStrategy.
func (c Config) Backoff() (backoff.Strategy, error) {
	bo, err := backoff.New(c.RetryStrategy, c.RetryBaseDelay, c.RetryMaxDelay, c.RetryJitter)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidConfig, "retry strategy: %v", err)
	}
	return bo, nil
}
