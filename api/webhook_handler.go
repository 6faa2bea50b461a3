package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xraph/renderq/api/httperr"
	"github.com/xraph/renderq/engine"
	"github.com/xraph/renderq/event"
	"github.com/xraph/renderq/id"
)

// registerWebhook creates a subscription. The response is the only one
// that carries the signing secret.
func (a *API) registerWebhook(c *gin.Context) {
	var req RegisterWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httperr.BadRequest(c, err, "invalid request body")
		return
	}

	events := make([]event.Type, 0, len(req.Events))
	for _, e := range req.Events {
		events = append(events, event.Type(e))
	}

	sub, err := a.eng.RegisterWebhook(c.Request.Context(), engine.WebhookRequest{
		URL:     req.URL,
		Secret:  req.Secret,
		Events:  events,
		Headers: req.Headers,
	})
	if err != nil {
		httperr.Abort(c, err, "register webhook")
		return
	}
	c.JSON(http.StatusCreated, WebhookResponse{Subscription: sub})
}

func (a *API) listWebhooks(c *gin.Context) {
	subs, err := a.eng.Webhooks(c.Request.Context())
	if err != nil {
		httperr.Abort(c, err, "list webhooks")
		return
	}
	out := make([]WebhookResponse, 0, len(subs))
	for _, sub := range subs {
		out = append(out, WebhookResponse{Subscription: sub})
	}
	c.JSON(http.StatusOK, out)
}

func (a *API) getWebhook(c *gin.Context) {
	subID, ok := subIDParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	sub, err := a.eng.Webhook(ctx, subID)
	if err != nil {
		httperr.Abort(c, err, "get webhook")
		return
	}
	stats, err := a.eng.WebhookStats(ctx, subID)
	if err != nil {
		httperr.Abort(c, err, "get webhook stats")
		return
	}
	c.JSON(http.StatusOK, WebhookResponse{Subscription: sub, Stats: &stats})
}

func (a *API) deleteWebhook(c *gin.Context) {
	subID, ok := subIDParam(c)
	if !ok {
		return
	}
	if err := a.eng.UnregisterWebhook(c.Request.Context(), subID); err != nil {
		httperr.Abort(c, err, "unregister webhook")
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) webhookAttempts(c *gin.Context) {
	subID, ok := subIDParam(c)
	if !ok {
		return
	}
	attempts, err := a.eng.WebhookAttempts(subID)
	if err != nil {
		httperr.Abort(c, err, "list webhook attempts")
		return
	}
	c.JSON(http.StatusOK, attempts)
}

func subIDParam(c *gin.Context) (id.SubscriptionID, bool) {
	subID, err := id.ParseSubscriptionID(c.Param("subId"))
	if err != nil {
		httperr.BadRequest(c, err, "invalid subscription id")
		return id.Nil, false
	}
	return subID, true
}
