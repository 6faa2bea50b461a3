// Package engine wires the renderq subsystems together and exposes the
// submission and webhook registration APIs.
//
// The engine package exists to break an import cycle: the root renderq
// package defines Entity and the error sentinels (imported by job, dlq,
// webhook, etc.) and therefore cannot import those packages back. Engine
// sits above all subsystem packages and below the application layer.
//
// # Building an Engine
//
//	o, err := renderq.New(
//	    renderq.WithStore(pgStore),
//	    renderq.WithConcurrency(8),
//	)
//
//	eng, err := engine.Build(o,
//	    engine.WithExecutor("", encoder),
//	    engine.WithExtension(audithook.New(audithook.NewSlogRecorder(logger))),
//	    engine.WithWebhookConfig(webhook.DefaultConfig()),
//	    engine.WithQueueConfig(queue.Config{
//	        Priority:       job.PriorityLow,
//	        MaxConcurrency: 1,
//	    }),
//	)
//
// # Submitting Work
//
//	j, err := eng.Submit(ctx, payload, job.WithPriority(job.PriorityHigh))
//
//	// Typed payloads are JSON-encoded.
//	j, err = engine.Enqueue(ctx, eng, Scene{ID: 7}, job.WithKind("preview"))
//
//	err = eng.Cancel(ctx, j.ID)
//	snap := eng.Metrics()
//
// # Options
//
//   - [WithExecutor]: register a task executor for a job kind
//   - [WithExtension]: register a lifecycle extension
//   - [WithMiddleware]: add a middleware to the execution chain
//   - [WithBackoff]: replace the retry backoff strategy
//   - [WithQueueConfig]: per-priority rate limits and concurrency caps
//   - [WithWebhookConfig] and [WithDoer]: tune webhook delivery
//   - [WithTracerProvider] and [WithMeterProvider]: OpenTelemetry providers
package engine
