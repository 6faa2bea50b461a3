// Package webhook delivers signed job transition events to external HTTP
// endpoints.
//
// Every subscription gets its own bounded queue and delivery goroutine, so
// deliveries to one endpoint are strictly serial and a slow endpoint only
// ever delays itself. The [Dispatcher] is an extension: its transition hook
// does a non-blocking send into a bounded inbox and returns, so webhook
// trouble never slows a render or touches job state.
//
// Requests carry the canonical JSON [Payload] and these headers:
//
//	X-Renderq-Signature: sha256=<hex HMAC-SHA256 of the body>
//	X-Renderq-Event:     render.completed
//	X-Renderq-Delivery:  dlv_...
//	X-Renderq-Timestamp: 2026-01-02T03:04:05.000000006Z
//
// Receivers check the signature with [Verify].
//
// A per-subscription [Breaker] opens after k consecutive failures, fails
// fast while open, lets exactly one trial through after the cooldown and
// doubles the cooldown (up to a cap) when the trial fails. Each event is
// retried with bounded exponential backoff and dropped with a warning once
// its attempts are spent.
package webhook
