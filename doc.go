// Package renderq provides a durable orchestration core for long-running
// render jobs. It accepts render requests, dispatches them by priority to a
// bounded pool of workers, tracks progress, retries failures with backoff,
// dead-letters exhausted jobs, and notifies external systems of state
// transitions through signed webhooks.
//
// renderq is a library first. Import it, pick a store, register a task
// executor, and submit jobs. The renderqd command wraps the same engine in
// an HTTP daemon.
//
// # Quick Start
//
//	o, err := renderq.New(
//	    renderq.WithStore(memory.New()),
//	    renderq.WithConcurrency(4),
//	)
//	eng, err := engine.Build(o, engine.WithExecutor("video", encoder))
//	_ = eng.Start(ctx)
//	j, err := eng.Submit(ctx, payload,
//	    job.WithKind("video"),
//	    job.WithPriority(job.PriorityHigh),
//	)
//
// # Architecture
//
// Every subsystem (job, dlq, webhook) defines its own store interface and a
// single backend implements all of them. Job state changes only through
// the store's compare-and-set transitions, so two racing writers never both
// win. Transitions are published as immutable events to extensions (webhook
// dispatcher, metrics collector, stream broker) that must never block the
// render path.
//
// All entity IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package renderq
