// Package ext defines the extension system for renderq.
//
// Extensions are notified of job transitions, progress reports and webhook
// registry changes. They deliver webhooks, record metrics, write audit
// logs, publish to message brokers and feed live streams. Each hook is a
// separate interface so extensions opt in only to the events they need.
//
// # Implementing an Extension
//
//	type Notifier struct{}
//
//	func (n *Notifier) Name() string { return "notifier" }
//
//	func (n *Notifier) OnJobTransition(ctx context.Context, t event.Transition) error {
//	    if t.To == job.StateDeadLettered {
//	        pager.Alert(t.JobID.String())
//	    }
//	    return nil
//	}
//
// # Hooks
//
//   - [JobTransitioned]: every committed transition, including submission
//   - [JobProgressed]: throttled progress reports
//   - [SubscriptionChanged]: webhook registered or unregistered
//   - [Shutdown]: graceful shutdown
//
// # Rules
//
// Hooks are called synchronously, in registration order, right after the
// store commits the change. A hook must not block: buffer and hand off
// anything slow. Errors returned by hooks are logged and never propagated,
// so a broken extension cannot fail a render.
package ext
