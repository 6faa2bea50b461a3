// Package store defines the aggregate persistence interface.
//
// Each subsystem (job, dlq, webhook) defines its own store interface. The
// composite [Store] composes them all, so a single backend satisfies every
// subsystem's persistence contract.
//
// # Available Backends
//
//   - store/memory: in-memory, for tests and development
//   - store/sqlite: SQLite through sqlx, for durable single-node setups
//   - store/postgres: PostgreSQL through pgx/v5, SKIP LOCKED claims
//   - store/redis: Redis through go-redis/v9, sorted-set tiers
//   - store/mongo: MongoDB through mongo-driver/v2, revision CAS
//
// # Guarantees
//
// Job state changes go through UpdateJobState, CancelJob and ClaimJob only.
// Each is a compare-and-set against the stored state; of two racing callers
// at most one succeeds and the other receives renderq.ErrConflict. This is
// what keeps a job active in at most one worker slot.
//
// # Conformance
//
// store/storetest holds the behavioural suite every backend runs from its
// own tests.
package store
