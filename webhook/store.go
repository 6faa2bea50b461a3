package webhook

import (
	"context"

	"github.com/xraph/renderq/id"
)

// Store defines the persistence contract for webhook subscriptions.
type Store interface {
	// CreateSubscription persists a new subscription.
	CreateSubscription(ctx context.Context, s *Subscription) error

	// GetSubscription retrieves a subscription by ID.
	GetSubscription(ctx context.Context, subID id.SubscriptionID) (*Subscription, error)

	// ListSubscriptions returns all subscriptions, oldest first.
	ListSubscriptions(ctx context.Context) ([]*Subscription, error)

	// UpdateSubscription persists changes to an existing subscription,
	// including its circuit state.
	UpdateSubscription(ctx context.Context, s *Subscription) error

	// DeleteSubscription removes a subscription.
	DeleteSubscription(ctx context.Context, subID id.SubscriptionID) error
}
