package ext

import (
	"context"
	"log/slog"

	"github.com/xraph/renderq/event"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time.
type jobTransitionedEntry struct {
	name string
	hook JobTransitioned
}

type jobProgressedEntry struct {
	name string
	hook JobProgressed
}

type subscriptionChangedEntry struct {
	name string
	hook SubscriptionChanged
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches events to them. It
// type-caches extensions at registration time so emit calls iterate only
// over extensions that implement the relevant hook.
//
// Register all extensions before the engine starts; emit methods are then
// safe for concurrent use.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	jobTransitioned     []jobTransitionedEntry
	jobProgressed       []jobProgressedEntry
	subscriptionChanged []subscriptionChangedEntry
	shutdown            []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(JobTransitioned); ok {
		r.jobTransitioned = append(r.jobTransitioned, jobTransitionedEntry{name, h})
	}
	if h, ok := e.(JobProgressed); ok {
		r.jobProgressed = append(r.jobProgressed, jobProgressedEntry{name, h})
	}
	if h, ok := e.(SubscriptionChanged); ok {
		r.subscriptionChanged = append(r.subscriptionChanged, subscriptionChangedEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Emitters
// ──────────────────────────────────────────────────

// EmitJobTransition notifies all extensions that implement JobTransitioned.
func (r *Registry) EmitJobTransition(ctx context.Context, t event.Transition) {
	for _, e := range r.jobTransitioned {
		if err := e.hook.OnJobTransition(ctx, t); err != nil {
			r.logHookError("OnJobTransition", e.name, err)
		}
	}
}

// EmitJobProgress notifies all extensions that implement JobProgressed.
func (r *Registry) EmitJobProgress(ctx context.Context, p event.Progress) {
	for _, e := range r.jobProgressed {
		if err := e.hook.OnJobProgress(ctx, p); err != nil {
			r.logHookError("OnJobProgress", e.name, err)
		}
	}
}

// EmitSubscriptionChange notifies all extensions that implement
// SubscriptionChanged.
func (r *Registry) EmitSubscriptionChange(ctx context.Context, c event.SubscriptionChange) {
	for _, e := range r.subscriptionChanged {
		if err := e.hook.OnSubscriptionChange(ctx, c); err != nil {
			r.logHookError("OnSubscriptionChange", e.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a hook returns an error. Hook errors are
// never propagated into the render path.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
