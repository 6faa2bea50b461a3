package mongo

import (
	"context"

	"github.com/cockroachdb/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/renderq"
	"github.com/xraph/renderq/id"
	"github.com/xraph/renderq/webhook"
)

// CreateSubscription persists a new subscription.
func (s *Store) CreateSubscription(ctx context.Context, sub *webhook.Subscription) error {
	if _, err := s.subscriptions().InsertOne(ctx, toSubscriptionModel(sub)); err != nil {
		if mongod.IsDuplicateKeyError(err) {
			return errors.Wrapf(renderq.ErrConflict, "subscription %s already exists", sub.ID)
		}
		return errors.Wrap(err, "renderq/mongo: create subscription")
	}
	return nil
}

// GetSubscription retrieves a subscription by ID.
func (s *Store) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*webhook.Subscription, error) {
	var m subscriptionModel
	err := s.subscriptions().FindOne(ctx, bson.M{"_id": subID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, errors.Wrapf(renderq.ErrSubscriptionNotFound, "subscription %s", subID)
		}
		return nil, errors.Wrap(err, "renderq/mongo: get subscription")
	}
	return fromSubscriptionModel(&m)
}

// ListSubscriptions returns all subscriptions, oldest first.
func (s *Store) ListSubscriptions(ctx context.Context) ([]*webhook.Subscription, error) {
	cursor, err := s.subscriptions().Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, errors.Wrap(err, "renderq/mongo: list subscriptions")
	}
	var models []subscriptionModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, errors.Wrap(err, "renderq/mongo: list subscriptions decode")
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
	m := toSubscriptionModel(sub)
	res, err := s.subscriptions().ReplaceOne(ctx, bson.M{"_id": m.ID}, m)
	if err != nil {
		return errors.Wrap(err, "renderq/mongo: update subscription")
	}
	if res.MatchedCount == 0 {
		return errors.Wrapf(renderq.ErrSubscriptionNotFound, "subscription %s", sub.ID)
	}
	return nil
}

// DeleteSubscription removes a subscription.
func (s *Store) DeleteSubscription(ctx context.Context, subID id.SubscriptionID) error {
	res, err := s.subscriptions().DeleteOne(ctx, bson.M{"_id": subID.String()})
	if err != nil {
		return errors.Wrap(err, "renderq/mongo: delete subscription")
	}
	if res.DeletedCount == 0 {
		return errors.Wrapf(renderq.ErrSubscriptionNotFound, "subscription %s", subID)
	}
	return nil
}
