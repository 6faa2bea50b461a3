// Package audithook is an extension that turns render job transitions and
// webhook registry changes into an audit trail.
//
// Every event becomes a structured AuditEvent handed to a [Recorder]. The
// extension assigns a severity (info for normal operations, warning for
// failed attempts, retries and cancellations, critical for dead letters)
// and metadata (kind, priority, attempt, error, latency). [NewSlogRecorder]
// writes the trail through log/slog; any other backend can be plugged in
// with [RecorderFunc].
//
// # Selective filtering
//
//	audithook.New(audithook.NewSlogRecorder(logger),
//	    audithook.WithActions(
//	        audithook.ActionJobDeadLettered,
//	        audithook.ActionJobCancelled,
//	        audithook.ActionWebhookRegistered,
//	    ),
//	)
package audithook
