// Package metrics keeps process-local render queue statistics: how many
// jobs sit in each state, how many entered each state since start, and a
// rolling window of submission-to-completion latencies.
//
// The Collector is registered as an extension and fed by job transition
// and progress events. Recording is lock-free and allocation-free; all
// aggregation happens in Snapshot, which callers poll. Numbers are
// best-effort: they reset on process start and are never persisted.
package metrics
