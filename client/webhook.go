package client

import (
	"context"
	"net/http"
	"net/url"

	"github.com/xraph/renderq"
	"github.com/xraph/renderq/api"
	"github.com/xraph/renderq/webhook"
)

// RegisterWebhook creates a subscription. The response is the only place
// the signing secret is returned.
func (c *Client) RegisterWebhook(ctx context.Context, req api.RegisterWebhookRequest) (*api.WebhookResponse, error) {
	var sub api.WebhookResponse
	if err := c.do(ctx, http.MethodPost, "/v1/webhooks", nil, req, &sub, nil); err != nil {
		return nil, err
	}
	return &sub, nil
}

// Webhooks lists subscriptions without secrets.
func (c *Client) Webhooks(ctx context.Context) ([]api.WebhookResponse, error) {
	var subs []api.WebhookResponse
	if err := c.do(ctx, http.MethodGet, "/v1/webhooks", nil, nil, &subs, nil); err != nil {
		return nil, err
	}
	return subs, nil
}

// Webhook returns a subscription and its delivery statistics.
func (c *Client) Webhook(ctx context.Context, subID string) (*api.WebhookResponse, error) {
	var sub api.WebhookResponse
	if err := c.do(ctx, http.MethodGet, "/v1/webhooks/"+url.PathEscape(subID), nil, nil, &sub, renderq.ErrSubscriptionNotFound); err != nil {
		return nil, err
	}
	return &sub, nil
}

// UnregisterWebhook deletes a subscription.
func (c *Client) UnregisterWebhook(ctx context.Context, subID string) error {
	return c.do(ctx, http.MethodDelete, "/v1/webhooks/"+url.PathEscape(subID), nil, nil, nil, renderq.ErrSubscriptionNotFound)
}

// WebhookAttempts returns recent deliveries of a subscription, newest first.
func (c *Client) WebhookAttempts(ctx context.Context, subID string) ([]webhook.Attempt, error) {
	var attempts []webhook.Attempt
	if err := c.do(ctx, http.MethodGet, "/v1/webhooks/"+url.PathEscape(subID)+"/attempts", nil, nil, &attempts, renderq.ErrSubscriptionNotFound); err != nil {
		return nil, err
	}
	return attempts, nil
}
