package sqlite

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/xraph/renderq"
	"github.com/xraph/renderq/id"
	"github.com/xraph/renderq/webhook"
)

// CreateSubscription persists a new subscription.
func (s *Store) CreateSubscription(ctx context.Context, sub *webhook.Subscription) error {
	m, err := toSubscriptionModel(sub)
	if err != nil {
		return err
	}
	_, err = s.db.NamedExecContext(ctx,
		`INSERT INTO renderq_subscriptions (`+subscriptionColumns+`) VALUES (
			:id, :url, :secret, :events, :headers, :active, :circuit_state,
			:failure_count, :cooldown, :open_until, :last_attempt_at, :created_at, :updated_at)`, m)
	if err != nil {
		if isDuplicateKey(err) {
			return errors.Wrapf(renderq.ErrConflict, "subscription %s already exists", sub.ID)
		}
		return errors.Wrap(err, "renderq/sqlite: create subscription")
	}
	return nil
}

// GetSubscription retrieves a subscription by ID.
func (s *Store) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*webhook.Subscription, error) {
	var m subscriptionModel
	err := s.db.GetContext(ctx, &m,
		`SELECT `+subscriptionColumns+` FROM renderq_subscriptions WHERE id = ?`, subID.String())
	if err != nil {
		if isNoRows(err) {
			return nil, errors.Wrapf(renderq.ErrSubscriptionNotFound, "subscription %s", subID)
		}
		return nil, errors.Wrap(err, "renderq/sqlite: get subscription")
	}
	return fromSubscriptionModel(&m)
}

// ListSubscriptions returns all subscriptions, oldest first.
func (s *Store) ListSubscriptions(ctx context.Context) ([]*webhook.Subscription, error) {
	var models []subscriptionModel
	err := s.db.SelectContext(ctx, &models,
		`SELECT `+subscriptionColumns+` FROM renderq_subscriptions ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, errors.Wrap(err, "renderq/sqlite: list subscriptions")
	}
	subs := make([]*webhook.Subscription, 0, len(models))
	for i := range models {
		sub, err := fromSubscriptionModel(&models[i])
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// UpdateSubscription replaces a stored subscription.
func (s *Store) UpdateSubscription(ctx context.Context, sub *webhook.Subscription) error {
	m, err := toSubscriptionModel(sub)
	if err != nil {
		return err
	}
	res, err := s.db.NamedExecContext(ctx,
		`UPDATE renderq_subscriptions SET
			url = :url, secret = :secret, events = :events, headers = :headers,
			active = :active, circuit_state = :circuit_state,
			failure_count = :failure_count, cooldown = :cooldown,
			open_until = :open_until, last_attempt_at = :last_attempt_at,
			updated_at = :updated_at
		WHERE id = :id`, m)
	if err != nil {
		return errors.Wrap(err, "renderq/sqlite: update subscription")
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return errors.Wrapf(renderq.ErrSubscriptionNotFound, "subscription %s", sub.ID)
	}
	return nil
}

// DeleteSubscription removes a subscription.
func (s *Store) DeleteSubscription(ctx context.Context, subID id.SubscriptionID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM renderq_subscriptions WHERE id = ?`, subID.String())
	if err != nil {
		return errors.Wrap(err, "renderq/sqlite: delete subscription")
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return errors.Wrapf(renderq.ErrSubscriptionNotFound, "subscription %s", subID)
	}
	return nil
}
