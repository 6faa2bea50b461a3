package mongo

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/xraph/renderq/dlq"
	"github.com/xraph/renderq/job"
	"github.com/xraph/renderq/webhook"
)

// Collection name constants.
const (
	colJobs          = "renderq_jobs"
	colDLQ           = "renderq_dlq"
	colSubscriptions = "renderq_subscriptions"
	colCounters      = "renderq_counters"
)

// DefaultDatabase is used when no database name is given.
const DefaultDatabase = "renderq"

// maxCASRetries bounds compare-and-swap retries under contention.
const maxCASRetries = 16

// Ensure Store implements all subsystem interfaces at compile time.
var (
	_ job.Store     = (*Store)(nil)
	_ dlq.Store     = (*Store)(nil)
	_ webhook.Store = (*Store)(nil)
)

// Store implements the composite store.Store interface backed by MongoDB.
type Store struct {
	db     *mongod.Database
	client *mongod.Client
	owned  bool
	logger *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a store on an existing database. The caller owns the client
// and Close leaves it connected.
func New(db *mongod.Database, opts ...Option) *Store {
	s := &Store{
		db:     db,
		client: db.Client(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open connects to uri and uses the named database, or DefaultDatabase
// when database is empty. Close disconnects the client.
func Open(ctx context.Context, uri, database string, opts ...Option) (*Store, error) {
	client, err := mongod.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrap(err, "renderq/mongo: connect")
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, errors.Wrap(err, "renderq/mongo: ping")
	}
	if database == "" {
		database = DefaultDatabase
	}
	s := New(client.Database(database), opts...)
	s.owned = true
	return s, nil
}

// Database returns the underlying database for advanced usage.
func (s *Store) Database() *mongod.Database {
	return s.db
}

// Migrate creates the indexes of all renderq collections.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if _, err := s.db.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return errors.Wrapf(err, "renderq/mongo: migrate %s indexes", col)
		}
		s.logger.Debug("mongo indexes ensured", slog.String("collection", col), slog.Int("count", len(models)))
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client when the store opened it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Disconnect(context.Background())
}

// ── helpers ──────────────────────────────────────────────────────

func (s *Store) jobs() *mongod.Collection { return s.db.Collection(colJobs) }

func (s *Store) deadLetters() *mongod.Collection { return s.db.Collection(colDLQ) }

func (s *Store) subscriptions() *mongod.Collection { return s.db.Collection(colSubscriptions) }

// isNoDocuments returns true when err indicates no MongoDB documents found.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongod.ErrNoDocuments)
}

// nextSeq increments and returns the named counter.
func (s *Store) nextSeq(ctx context.Context, name string) (int64, error) {
	var doc struct {
		Value int64 `bson:"value"`
	}
	err := s.db.Collection(colCounters).FindOneAndUpdate(ctx,
		bson.M{"_id": name},
		bson.M{"$inc": bson.M{"value": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return 0, errors.Wrapf(err, "renderq/mongo: next %s", name)
	}
	return doc.Value, nil
}

// migrationIndexes returns the index definitions for all collections.
func migrationIndexes() map[string][]mongod.IndexModel {
	return map[string][]mongod.IndexModel{
		colJobs: {
			// Claim index: dispatch order within queued jobs.
			{Keys: bson.D{
				{Key: "state", Value: 1},
				{Key: "priority", Value: -1},
				{Key: "seq", Value: 1},
			}},
			{Keys: bson.D{
				{Key: "state", Value: 1},
				{Key: "next_eligible_at", Value: 1},
			}},
			{Keys: bson.D{
				{Key: "state", Value: 1},
				{Key: "heartbeat_at", Value: 1},
			}},
			{Keys: bson.D{
				{Key: "state", Value: 1},
				{Key: "updated_at", Value: 1},
			}},
		},
		colDLQ: {
			{Keys: bson.D{{Key: "failed_at", Value: -1}}},
			{Keys: bson.D{{Key: "job_id", Value: 1}}},
		},
		colSubscriptions: {
			{Keys: bson.D{{Key: "created_at", Value: 1}}},
		},
	}
}
