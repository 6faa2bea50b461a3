// Package queue implements the priority dispatcher that hands queued jobs to
// worker slots, plus optional per-tier limits.
//
// # Dispatcher
//
// [Dispatcher.Next] blocks until it claims the most urgent eligible job:
// strict priority across tiers (urgent, high, normal, low) and FIFO by
// submission sequence inside a tier. The claim itself is a single atomic
// store operation, so a job is handed to at most one slot. While nothing is
// eligible the dispatcher sleeps until [Dispatcher.Wake] is called, the
// earliest delayed retry becomes eligible, or the poll interval elapses:
//
//	d := queue.NewDispatcher(store, queue.WithPollInterval(time.Second))
//	j, err := d.Next(ctx, workerID)
//
// [Dispatcher.Pause] stops claiming without touching queued jobs;
// [Dispatcher.Resume] restarts it.
//
// # Tier limits
//
// [Manager] optionally caps concurrency and dispatch rate per priority tier
// using a token bucket (golang.org/x/time/rate):
//
//	queue.NewManager(
//	    queue.Config{Priority: job.PriorityLow, MaxConcurrency: 1},
//	    queue.Config{Priority: job.PriorityNormal, RateLimit: 2, RateBurst: 4},
//	)
//
// Tiers without a [Config] have no limits beyond the pool capacity. A tier
// at its cap is simply skipped, so limits never reorder jobs within a tier.
package queue
