// Package dlq provides the dead letter queue for render jobs that used up
// their attempt budget.
//
// When the retry policy gives up, the executor moves the job to
// dead_lettered and calls [Service.Push], which stores the payload, the
// final error and the attempt counts.
//
// Dead-lettered jobs are terminal. [Service.Replay] is the explicit operator
// action that revives the work: it submits a new job with the same payload
// and stamps ReplayedAt on the entry. Nothing replays automatically.
//
// The HTTP API exposes the queue:
//   - GET  /v1/dlq                 list entries
//   - POST /v1/dlq/:entryId/replay replay one entry
//   - POST /v1/dlq/purge           purge entries older than a cut-off
package dlq
