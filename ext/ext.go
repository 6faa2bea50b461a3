package ext

import (
	"context"

	"github.com/xraph/renderq/event"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Job lifecycle hooks
// ──────────────────────────────────────────────────

// JobTransitioned is called after every committed state transition,
// including the initial submission.
type JobTransitioned interface {
	OnJobTransition(ctx context.Context, t event.Transition) error
}

// JobProgressed is called for throttled progress reports of active jobs.
type JobProgressed interface {
	OnJobProgress(ctx context.Context, p event.Progress) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// SubscriptionChanged is called after a webhook subscription is registered
// or unregistered.
type SubscriptionChanged interface {
	OnSubscriptionChange(ctx context.Context, c event.SubscriptionChange) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
