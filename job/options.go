package job

import "time"

// Options configures a single submission.
type Options struct {
	// Kind selects the task executor. Empty uses the default executor.
	Kind string

	// Priority determines dispatch ordering.
	Priority Priority

	// MaxAttempts is the total attempt budget. Zero uses the configured
	// default.
	MaxAttempts int

	// Timeout is the per-attempt execution deadline. Zero uses the
	// configured default.
	Timeout time.Duration

	// RunAt delays the first dispatch. Zero means immediately.
	RunAt time.Time
}

// DefaultOptions returns Options for a normal-priority job using the
// configured defaults.
func DefaultOptions() Options {
	return Options{Priority: PriorityNormal}
}

// Option is a functional option for a submission.
type Option func(*Options)

// WithKind selects the task executor by kind.
func WithKind(kind string) Option {
	return func(o *Options) { o.Kind = kind }
}

// WithPriority sets the dispatch tier.
func WithPriority(p Priority) Option {
	return func(o *Options) { o.Priority = p }
}

// WithMaxAttempts sets the total attempt budget.
func WithMaxAttempts(n int) Option {
	return func(o *Options) { o.MaxAttempts = n }
}

// WithTimeout sets the per-attempt execution deadline.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) { o.Timeout = d }
}

// WithRunAt delays the first dispatch until t.
func WithRunAt(t time.Time) Option {
	return func(o *Options) { o.RunAt = t }
}
