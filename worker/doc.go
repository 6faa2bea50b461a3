// Package worker provides the render execution engine: an [Executor] that
// invokes the registered task executor through middleware and applies the
// outcome to the job store, and a [Pool] of fixed capacity whose slots pull
// jobs from the priority dispatcher.
//
// Each slot loops: claim the next job, run it, release the slot exactly
// once and wake the dispatcher. While a task runs the slot also watches for
// an explicit cancel ([Pool.Abort]) and the hard timeout. In both cases the
// task context is cancelled and the slot waits at most the cancel grace
// period before it is reclaimed; a task that ignores cancellation keeps its
// goroutine until it returns but never holds a slot.
//
// Heartbeats keep active jobs alive in the store. The reaper fails jobs
// whose heartbeat expired (a crashed slot or process) with
// [renderq.ErrWorkerLost] and hands them to the retry policy, so no job is
// lost.
package worker
