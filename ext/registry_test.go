package ext_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/xraph/renderq/event"
	"github.com/xraph/renderq/ext"
	"github.com/xraph/renderq/id"
	"github.com/xraph/renderq/job"
)

// ──────────────────────────────────────────────────
// Test extensions
// ──────────────────────────────────────────────────

// allHooksExt implements every hook.
type allHooksExt struct {
	calls []string
}

func (e *allHooksExt) Name() string { return "all-hooks" }

func (e *allHooksExt) OnJobTransition(_ context.Context, t event.Transition) error {
	e.calls = append(e.calls, "OnJobTransition:"+string(t.Type()))
	return nil
}

func (e *allHooksExt) OnJobProgress(_ context.Context, _ event.Progress) error {
	e.calls = append(e.calls, "OnJobProgress")
	return nil
}

func (e *allHooksExt) OnSubscriptionChange(_ context.Context, c event.SubscriptionChange) error {
	e.calls = append(e.calls, "OnSubscriptionChange:"+string(c.Action))
	return nil
}

func (e *allHooksExt) OnShutdown(_ context.Context) error {
	e.calls = append(e.calls, "OnShutdown")
	return nil
}

// transitionOnlyExt implements only the transition hook.
type transitionOnlyExt struct {
	calls []string
}

func (e *transitionOnlyExt) Name() string { return "transition-only" }

func (e *transitionOnlyExt) OnJobTransition(_ context.Context, _ event.Transition) error {
	e.calls = append(e.calls, "OnJobTransition")
	return nil
}

// failingExt returns errors from hooks.
type failingExt struct{}

func (e *failingExt) Name() string { return "failing" }

func (e *failingExt) OnJobTransition(_ context.Context, _ event.Transition) error {
	return errors.New("boom")
}

func (e *failingExt) OnShutdown(_ context.Context) error {
	return errors.New("shutdown boom")
}

func started() event.Transition {
	return event.Transition{JobID: id.NewJobID(), From: job.StateQueued, To: job.StateActive}
}

// ──────────────────────────────────────────────────
// Tests
// ──────────────────────────────────────────────────

func TestRegistry_Register(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	r.Register(&allHooksExt{})

	if got := len(r.Extensions()); got != 1 {
		t.Fatalf("expected 1 extension, got %d", got)
	}
	if got := r.Extensions()[0].Name(); got != "all-hooks" {
		t.Fatalf("expected name 'all-hooks', got %q", got)
	}
}

func TestRegistry_EmitFiresOnlyImplementors(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	to := &transitionOnlyExt{}
	r.Register(all)
	r.Register(to)

	ctx := context.Background()
	r.EmitJobTransition(ctx, started())
	if len(all.calls) != 1 || all.calls[0] != "OnJobTransition:render.started" {
		t.Fatalf("all: got %v", all.calls)
	}
	if len(to.calls) != 1 {
		t.Fatalf("transition-only: got %v", to.calls)
	}

	r.EmitJobProgress(ctx, event.Progress{Percent: 10})
	if len(all.calls) != 2 || all.calls[1] != "OnJobProgress" {
		t.Fatalf("all: expected OnJobProgress as 2nd, got %v", all.calls)
	}
	if len(to.calls) != 1 {
		t.Fatalf("transition-only: should still have 1 call, got %v", to.calls)
	}
}

func TestRegistry_AllHooksFire(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	r.Register(all)

	ctx := context.Background()
	r.EmitJobTransition(ctx, started())
	r.EmitJobProgress(ctx, event.Progress{})
	r.EmitSubscriptionChange(ctx, event.SubscriptionChange{Action: event.SubscriptionRegistered})
	r.EmitShutdown(ctx)

	expected := []string{
		"OnJobTransition:render.started", "OnJobProgress",
		"OnSubscriptionChange:registered", "OnShutdown",
	}
	if len(all.calls) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(all.calls), all.calls)
	}
	for i, want := range expected {
		if all.calls[i] != want {
			t.Errorf("call[%d] = %q, want %q", i, all.calls[i], want)
		}
	}
}

func TestRegistry_HookErrorsLoggedNotPropagated(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	r.Register(&failingExt{})
	r.Register(all)

	ctx := context.Background()
	r.EmitJobTransition(ctx, started())
	r.EmitShutdown(ctx)

	if len(all.calls) != 2 {
		t.Fatalf("all: expected both hooks despite failing ext, got %v", all.calls)
	}
}

func TestRegistry_EmptyRegistryNoOp(_ *testing.T) {
	r := ext.NewRegistry(slog.Default())
	ctx := context.Background()

	r.EmitJobTransition(ctx, event.Transition{})
	r.EmitJobProgress(ctx, event.Progress{})
	r.EmitSubscriptionChange(ctx, event.SubscriptionChange{})
	r.EmitShutdown(ctx)
}

func TestRegistry_MultipleExtensionsOrderPreserved(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	var order []string
	r.Register(orderExt{"first", &order})
	r.Register(orderExt{"second", &order})

	r.EmitJobTransition(context.Background(), started())
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("order = %v", order)
	}
}

type orderExt struct {
	name  string
	order *[]string
}

func (e orderExt) Name() string { return e.name }

func (e orderExt) OnJobTransition(context.Context, event.Transition) error {
	*e.order = append(*e.order, e.name)
	return nil
}
