package mongo

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/renderq"
	"github.com/xraph/renderq/dlq"
	"github.com/xraph/renderq/id"
)

// PushDLQ adds a dead-letter entry.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	if _, err := s.deadLetters().InsertOne(ctx, toDLQModel(entry)); err != nil {
		return errors.Wrap(err, "renderq/mongo: push dlq")
	}
	return nil
}

// ListDLQ returns entries, most recent failure first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	findOpts := options.Find().SetSort(bson.D{
		{Key: "failed_at", Value: -1},
		{Key: "_id", Value: -1},
	})
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}

	cursor, err := s.deadLetters().Find(ctx, bson.M{}, findOpts)
	if err != nil {
		return nil, errors.Wrap(err, "renderq/mongo: list dlq")
	}
	var models []dlqModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, errors.Wrap(err, "renderq/mongo: list dlq decode")
	}

	entries := make([]*dlq.Entry, 0, len(models))
	for i := range models {
		e, err := fromDLQModel(&models[i])
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// GetDLQ retrieves an entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	var m dlqModel
	err := s.deadLetters().FindOne(ctx, bson.M{"_id": entryID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, errors.Wrapf(renderq.ErrDLQNotFound, "entry %s", entryID)
		}
		return nil, errors.Wrap(err, "renderq/mongo: get dlq")
	}
	return fromDLQModel(&m)
}

// ReplayDLQ marks an entry as replayed.
func (s *Store) ReplayDLQ(ctx context.Context, entryID id.DLQID) error {
	res, err := s.deadLetters().UpdateOne(ctx,
		bson.M{"_id": entryID.String()},
		bson.M{"$set": bson.M{"replayed_at": toNanos(time.Now())}},
	)
	if err != nil {
		return errors.Wrap(err, "renderq/mongo: replay dlq")
	}
	if res.MatchedCount == 0 {
		return errors.Wrapf(renderq.ErrDLQNotFound, "entry %s", entryID)
	}
	return nil
}

// PurgeDLQ removes entries that failed before the given time.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.deadLetters().DeleteMany(ctx, bson.M{
		"failed_at": bson.M{"$lt": toNanos(before)},
	})
	if err != nil {
		return 0, errors.Wrap(err, "renderq/mongo: purge dlq")
	}
	return res.DeletedCount, nil
}

// CountDLQ returns the number of entries.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	n, err := s.deadLetters().CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, errors.Wrap(err, "renderq/mongo: count dlq")
	}
	return n, nil
}
