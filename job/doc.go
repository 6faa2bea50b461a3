// Package job defines the render job entity, its state machine, the store
// contract and the task executor registry.
//
// # State Machine
//
//	queued -> active -> completed
//	queued -> active -> failed -> queued -> active -> ...
//	queued -> active -> failed -> dead_lettered
//	queued -> cancelled
//	active -> cancelled
//
// completed, dead_lettered and cancelled are terminal. A [Transition] is a
// compare-and-set request against the current state; [Transition.Apply]
// holds the field mutations so every store backend behaves identically.
//
// Fields of note:
//   - Priority: low < normal < high < urgent; higher tiers dispatch first
//   - Seq: store-assigned submission order, FIFO tie-breaker within a tier
//   - Attempt / MaxAttempts: Attempt grows on every dispatch and never
//     exceeds MaxAttempts
//   - NextEligibleAt: earliest dispatch time (retry backoff, delayed start)
//   - Progress / Stage: monotonic while active, reset on a new attempt
//
// # Executors
//
// The render itself is opaque. Register a [TaskExecutor] per kind, or a
// typed [Definition] that decodes a JSON payload first:
//
//	job.RegisterDefinition(registry, job.NewDefinition("video",
//	    func(ctx context.Context, in VideoInput, progress job.ProgressFunc) error {
//	        return encoder.Render(ctx, in, progress)
//	    },
//	))
package job
