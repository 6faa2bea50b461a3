package job

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/cockroachdb/errors"
)

// Registry maps job kinds to task executors, with an optional default for
// kinds that have no dedicated executor. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]TaskExecutor
	fallback  TaskExecutor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		executors: make(map[string]TaskExecutor),
	}
}

// Register binds kind to e. An empty kind sets the default executor.
func (r *Registry) Register(kind string, e TaskExecutor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if kind == "" {
		r.fallback = e
		return
	}
	r.executors[kind] = e
}

// Lookup returns the executor for kind, falling back to the default.
func (r *Registry) Lookup(kind string) (TaskExecutor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.executors[kind]; ok {
		return e, true
	}
	return r.fallback, r.fallback != nil
}

// Kinds returns all kinds with a dedicated executor.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.executors))
	for kind := range r.executors {
		kinds = append(kinds, kind)
	}
	return kinds
}

// Definition is a typed executor: the JSON payload is decoded into T before
// the handler runs.
type Definition[T any] struct {
	// Kind is the job kind this definition serves.
	Kind string

	// Handler renders the decoded payload.
	Handler func(ctx context.Context, payload T, progress ProgressFunc) error
}

// NewDefinition creates a typed definition.
func NewDefinition[T any](kind string, handler func(ctx context.Context, payload T, progress ProgressFunc) error) *Definition[T] {
	return &Definition[T]{Kind: kind, Handler: handler}
}

// RegisterDefinition registers a typed definition. It is a package-level
// function because methods cannot take type parameters.
func RegisterDefinition[T any](r *Registry, def *Definition[T]) {
	r.Register(def.Kind, ExecutorFunc(func(ctx context.Context, payload []byte, progress ProgressFunc) error {
		var t T
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &t); err != nil {
				return errors.Wrapf(err, "decode payload for kind %q", def.Kind)
			}
		}
		return def.Handler(ctx, t, progress)
	}))
}
