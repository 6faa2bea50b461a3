package postgres

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xraph/renderq"
	"github.com/xraph/renderq/event"
	"github.com/xraph/renderq/id"
	"github.com/xraph/renderq/webhook"
)

const subscriptionColumns = `id, url, secret, events, headers, active, circuit_state,
	failure_count, cooldown, open_until, last_attempt_at, created_at, updated_at`

// CreateSubscription persists a new subscription.
func (s *Store) CreateSubscription(ctx context.Context, sub *webhook.Subscription) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO renderq_subscriptions (`+subscriptionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		subscriptionArgs(sub)...,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return errors.Wrapf(renderq.ErrConflict, "subscription %s already exists", sub.ID)
		}
		return errors.Wrap(err, "renderq/postgres: create subscription")
	}
	return nil
}

// GetSubscription retrieves a subscription by ID.
func (s *Store) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*webhook.Subscription, error) {
	sub, err := scanSubscription(s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM renderq_subscriptions WHERE id = $1`, subID.String()))
	if err != nil {
		if isNoRows(err) {
			return nil, errors.Wrapf(renderq.ErrSubscriptionNotFound, "subscription %s", subID)
		}
		return nil, errors.Wrap(err, "renderq/postgres: get subscription")
	}
	return sub, nil
}

// ListSubscriptions returns all subscriptions, oldest first.
func (s *Store) ListSubscriptions(ctx context.Context) ([]*webhook.Subscription, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+subscriptionColumns+` FROM renderq_subscriptions ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, errors.Wrap(err, "renderq/postgres: list subscriptions")
	}
	defer rows.Close()

	var subs []*webhook.Subscription
	for rows.Next() {
		sub, scanErr := scanSubscription(rows)
		if scanErr != nil {
			return nil, errors.Wrap(scanErr, "renderq/postgres: scan subscription row")
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "renderq/postgres: iterate subscription rows")
	}
	return subs, nil
}

// UpdateSubscription replaces a stored subscription.
func (s *Store) UpdateSubscription(ctx context.Context, sub *webhook.Subscription) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE renderq_subscriptions SET
			url = $2, secret = $3, events = $4, headers = $5, active = $6,
			circuit_state = $7, failure_count = $8, cooldown = $9,
			open_until = $10, last_attempt_at = $11, updated_at = $12
		WHERE id = $1`,
		append(subscriptionArgs(sub)[:11], sub.UpdatedAt)...,
	)
	if err != nil {
		return errors.Wrap(err, "renderq/postgres: update subscription")
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(renderq.ErrSubscriptionNotFound, "subscription %s", sub.ID)
	}
	return nil
}

// DeleteSubscription removes a subscription.
func (s *Store) DeleteSubscription(ctx context.Context, subID id.SubscriptionID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM renderq_subscriptions WHERE id = $1`, subID.String())
	if err != nil {
		return errors.Wrap(err, "renderq/postgres: delete subscription")
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(renderq.ErrSubscriptionNotFound, "subscription %s", subID)
	}
	return nil
}

func subscriptionArgs(sub *webhook.Subscription) []any {
	events := make([]string, 0, len(sub.Events))
	for _, t := range sub.Events {
		events = append(events, string(t))
	}
	headers := sub.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	return []any{
		sub.ID.String(), sub.URL, sub.Secret, events, headers, sub.Active,
		string(sub.CircuitState), sub.FailureCount, sub.Cooldown.Nanoseconds(),
		sub.OpenUntil, sub.LastAttemptAt, sub.CreatedAt, sub.UpdatedAt,
	}
}

func scanSubscription(row pgx.Row) (*webhook.Subscription, error) {
	var (
		sub        webhook.Subscription
		idStr      string
		events     []string
		circuit    string
		cooldownNs int64
	)
	err := row.Scan(
		&idStr, &sub.URL, &sub.Secret, &events, &sub.Headers, &sub.Active, &circuit,
		&sub.FailureCount, &cooldownNs, &sub.OpenUntil, &sub.LastAttemptAt,
		&sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	for _, t := range events {
		sub.Events = append(sub.Events, event.Type(t))
	}
	if len(sub.Headers) == 0 {
		sub.Headers = nil
	}
	sub.CircuitState = webhook.CircuitState(circuit)
	sub.Cooldown = time.Duration(cooldownNs)
	sub.OpenUntil = utcPtr(sub.OpenUntil)
	sub.LastAttemptAt = utcPtr(sub.LastAttemptAt)
	sub.CreatedAt = sub.CreatedAt.UTC()
	sub.UpdatedAt = sub.UpdatedAt.UTC()

	if sub.ID, err = id.ParseSubscriptionID(idStr); err != nil {
		return nil, errors.Wrapf(err, "renderq/postgres: parse subscription id %q", idStr)
	}
	return &sub, nil
}
