package redis

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/renderq"
	"github.com/xraph/renderq/dlq"
	"github.com/xraph/renderq/id"
)

// PushDLQ stores the entry and indexes it by failure time.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, "renderq/redis: marshal dlq entry")
	}
	eID := entry.ID.String()
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, dlqKey(eID), data, 0)
	pipe.ZAdd(ctx, dlqIndexKey, goredis.Z{Score: micros(entry.FailedAt), Member: eID})
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "renderq/redis: push dlq")
	}
	return nil
}

// ListDLQ returns entries, most recent failure first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	stop := int64(-1)
	if opts.Limit > 0 {
		stop = int64(opts.Offset + opts.Limit - 1)
	}
	ids, err := s.client.ZRevRange(ctx, dlqIndexKey, int64(opts.Offset), stop).Result()
	if err != nil {
		return nil, errors.Wrap(err, "renderq/redis: list dlq")
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, eID := range ids {
		keys[i] = dlqKey(eID)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, errors.Wrap(err, "renderq/redis: mget dlq")
	}
	entries := make([]*dlq.Entry, 0, len(vals))
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var e dlq.Entry
		if err := json.Unmarshal([]byte(str), &e); err != nil {
			return nil, errors.Wrap(err, "renderq/redis: unmarshal dlq entry")
		}
		entries = append(entries, &e)
	}
	return entries, nil
}

// GetDLQ retrieves an entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	return getDLQ(ctx, s.client, entryID)
}

func getDLQ(ctx context.Context, c goredis.Cmdable, entryID id.DLQID) (*dlq.Entry, error) {
	data, err := c.Get(ctx, dlqKey(entryID.String())).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, errors.Wrapf(renderq.ErrDLQNotFound, "entry %s", entryID)
		}
		return nil, errors.Wrap(err, "renderq/redis: get dlq")
	}
	var e dlq.Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, errors.Wrap(err, "renderq/redis: unmarshal dlq entry")
	}
	return &e, nil
}

// ReplayDLQ marks an entry as replayed.
func (s *Store) ReplayDLQ(ctx context.Context, entryID id.DLQID) error {
	key := dlqKey(entryID.String())
	return s.watch(ctx, func(tx *goredis.Tx) error {
		e, err := getDLQ(ctx, tx, entryID)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		e.ReplayedAt = &now
		data, err := json.Marshal(e)
		if err != nil {
			return errors.Wrap(err, "renderq/redis: marshal dlq entry")
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}, key)
}

// PurgeDLQ removes entries that failed before the given time.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	ids, err := s.client.ZRangeByScore(ctx, dlqIndexKey, &goredis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(before.UnixMicro(), 10),
	}).Result()
	if err != nil {
		return 0, errors.Wrap(err, "renderq/redis: purge dlq")
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pipe := s.client.TxPipeline()
	for _, eID := range ids {
		pipe.Del(ctx, dlqKey(eID))
		pipe.ZRem(ctx, dlqIndexKey, eID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, errors.Wrap(err, "renderq/redis: purge dlq")
	}
	return int64(len(ids)), nil
}

// CountDLQ returns the number of entries.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	n, err := s.client.ZCard(ctx, dlqIndexKey).Result()
	if err != nil {
		return 0, errors.Wrap(err, "renderq/redis: count dlq")
	}
	return n, nil
}
