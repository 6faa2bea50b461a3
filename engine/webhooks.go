package engine

import (
	"context"
	"time"

	"github.com/xraph/renderq/event"
	"github.com/xraph/renderq/id"
	"github.com/xraph/renderq/webhook"
)

// WebhookRequest describes a new subscription.
type WebhookRequest struct {
	URL string
	// Secret signs deliveries. Empty generates a random one, returned once
	// on the created subscription.
	Secret string
	// Events filters the transitions delivered. Empty means all.
	Events  []event.Type
	Headers map[string]string
}

// RegisterWebhook creates a subscription and starts delivering to it.
func (eng *Engine) RegisterWebhook(ctx context.Context, req WebhookRequest) (*webhook.Subscription, error) {
	sub, err := eng.webhooks.Register(ctx, req.URL, req.Secret, req.Events, req.Headers)
	if err != nil {
		return nil, err
	}
	eng.extensions.EmitSubscriptionChange(ctx, event.SubscriptionChange{
		SubscriptionID: sub.ID,
		URL:            sub.URL,
		Action:         event.SubscriptionRegistered,
		At:             time.Now().UTC(),
	})
	return sub, nil
}

// UnregisterWebhook deletes a subscription. Pending deliveries to it are
// abandoned.
func (eng *Engine) UnregisterWebhook(ctx context.Context, subID id.SubscriptionID) error {
	sub, err := eng.webhooks.Get(ctx, subID)
	if err != nil {
		return err
	}
	if err := eng.webhooks.Unregister(ctx, subID); err != nil {
		return err
	}
	eng.extensions.EmitSubscriptionChange(ctx, event.SubscriptionChange{
		SubscriptionID: subID,
		URL:            sub.URL,
		Action:         event.SubscriptionUnregistered,
		At:             time.Now().UTC(),
	})
	return nil
}

// Webhook returns one subscription with its secret redacted.
func (eng *Engine) Webhook(ctx context.Context, subID id.SubscriptionID) (*webhook.Subscription, error) {
	sub, err := eng.webhooks.Get(ctx, subID)
	if err != nil {
		return nil, err
	}
	return sub.Redacted(), nil
}

// Webhooks lists every subscription with secrets redacted.
func (eng *Engine) Webhooks(ctx context.Context) ([]*webhook.Subscription, error) {
	subs, err := eng.webhooks.List(ctx)
	if err != nil {
		return nil, err
	}
	for i, sub := range subs {
		subs[i] = sub.Redacted()
	}
	return subs, nil
}

// WebhookStats returns delivery statistics of a subscription.
func (eng *Engine) WebhookStats(ctx context.Context, subID id.SubscriptionID) (webhook.Stats, error) {
	return eng.webhooks.Stats(ctx, subID)
}

// WebhookAttempts returns recent delivery attempts of a subscription,
// newest first.
func (eng *Engine) WebhookAttempts(subID id.SubscriptionID) ([]webhook.Attempt, error) {
	return eng.webhooks.Attempts(subID)
}
