package redis

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/renderq"
	"github.com/xraph/renderq/id"
	"github.com/xraph/renderq/webhook"
)

// CreateSubscription persists a new subscription.
func (s *Store) CreateSubscription(ctx context.Context, sub *webhook.Subscription) error {
	data, err := json.Marshal(sub)
	if err != nil {
		return errors.Wrap(err, "renderq/redis: marshal subscription")
	}
	sID := sub.ID.String()
	ok, err := s.client.SetNX(ctx, subKey(sID), data, 0).Result()
	if err != nil {
		return errors.Wrap(err, "renderq/redis: create subscription")
	}
	if !ok {
		return errors.Wrapf(renderq.ErrConflict, "subscription %s already exists", sub.ID)
	}
	if err := s.client.ZAdd(ctx, subIndexKey, goredis.Z{Score: micros(sub.CreatedAt), Member: sID}).Err(); err != nil {
		return errors.Wrap(err, "renderq/redis: index subscription")
	}
	return nil
}

// GetSubscription retrieves a subscription by ID.
func (s *Store) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*webhook.Subscription, error) {
	data, err := s.client.Get(ctx, subKey(subID.String())).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, errors.Wrapf(renderq.ErrSubscriptionNotFound, "subscription %s", subID)
		}
		return nil, errors.Wrap(err, "renderq/redis: get subscription")
	}
	return decodeSubscription(data)
}

// ListSubscriptions returns all subscriptions, oldest first.
func (s *Store) ListSubscriptions(ctx context.Context) ([]*webhook.Subscription, error) {
	ids, err := s.client.ZRange(ctx, subIndexKey, 0, -1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "renderq/redis: list subscriptions")
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, sID := range ids {
		keys[i] = subKey(sID)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, errors.Wrap(err, "renderq/redis: mget subscriptions")
	}
	subs := make([]*webhook.Subscription, 0, len(vals))
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		sub, err := decodeSubscription([]byte(str))
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// UpdateSubscription replaces a stored subscription.
func (s *Store) UpdateSubscription(ctx context.Context, sub *webhook.Subscription) error {
	data, err := json.Marshal(sub)
	if err != nil {
		return errors.Wrap(err, "renderq/redis: marshal subscription")
	}
	ok, err := s.client.SetXX(ctx, subKey(sub.ID.String()), data, 0).Result()
	if err != nil {
		return errors.Wrap(err, "renderq/redis: update subscription")
	}
	if !ok {
		return errors.Wrapf(renderq.ErrSubscriptionNotFound, "subscription %s", sub.ID)
	}
	return nil
}

// DeleteSubscription removes a subscription.
func (s *Store) DeleteSubscription(ctx context.Context, subID id.SubscriptionID) error {
	sID := subID.String()
	pipe := s.client.TxPipeline()
	del := pipe.Del(ctx, subKey(sID))
	pipe.ZRem(ctx, subIndexKey, sID)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "renderq/redis: delete subscription")
	}
	if del.Val() == 0 {
		return errors.Wrapf(renderq.ErrSubscriptionNotFound, "subscription %s", subID)
	}
	return nil
}

// decodeSubscription unmarshals a stored subscription document.
func decodeSubscription(data []byte) (*webhook.Subscription, error) {
	var sub webhook.Subscription
	if err := json.Unmarshal(data, &sub); err != nil {
		return nil, errors.Wrap(err, "renderq/redis: unmarshal subscription")
	}
	return &sub, nil
}
