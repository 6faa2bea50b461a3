package audithook

import "github.com/xraph/renderq/event"

// Audit event actions. Job actions reuse the transition event types.
const (
	ActionJobQueued         = string(event.TypeQueued)
	ActionJobStarted        = string(event.TypeStarted)
	ActionJobCompleted      = string(event.TypeCompleted)
	ActionJobFailed         = string(event.TypeFailed)
	ActionJobRetrying       = string(event.TypeRetrying)
	ActionJobDeadLettered   = string(event.TypeDeadLettered)
	ActionJobCancelled      = string(event.TypeCancelled)
	ActionWebhookRegistered = "webhook.registered"
	ActionWebhookRemoved    = "webhook.unregistered"
)

// Audit event categories group related actions.
const (
	CategoryJob     = "renderq.job"
	CategoryWebhook = "renderq.webhook"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceJob          = "render_job"
	ResourceSubscription = "webhook_subscription"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionJobQueued,
		ActionJobStarted,
		ActionJobCompleted,
		ActionJobFailed,
		ActionJobRetrying,
		ActionJobDeadLettered,
		ActionJobCancelled,
		ActionWebhookRegistered,
		ActionWebhookRemoved,
	}
}
