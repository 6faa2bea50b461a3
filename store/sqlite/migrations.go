package sqlite

import (
	"context"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"

	"github.com/xraph/renderq"
)

type migration struct {
	version string
	name    string
	stmts   []string
}

// migrations run in order; applied versions are recorded in
// renderq_migrations.
var migrations = []migration{
	{
		version: "20260101120000",
		name:    "create_jobs_table",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS renderq_jobs (
				id               TEXT PRIMARY KEY,
				kind             TEXT NOT NULL DEFAULT '',
				payload          BLOB NOT NULL,
				state            TEXT NOT NULL,
				priority         INTEGER NOT NULL,
				seq              INTEGER NOT NULL UNIQUE,
				attempt          INTEGER NOT NULL DEFAULT 0,
				max_attempts     INTEGER NOT NULL,
				progress         INTEGER NOT NULL DEFAULT 0,
				stage            TEXT NOT NULL DEFAULT '',
				last_error       TEXT NOT NULL DEFAULT '',
				worker_id        TEXT NOT NULL DEFAULT '',
				timeout          INTEGER NOT NULL DEFAULT 0,
				next_eligible_at INTEGER NOT NULL,
				started_at       INTEGER,
				completed_at     INTEGER,
				heartbeat_at     INTEGER,
				created_at       INTEGER NOT NULL,
				updated_at       INTEGER NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_renderq_jobs_dispatch
				ON renderq_jobs (priority DESC, seq ASC)
				WHERE state = 'queued'`,
			`CREATE INDEX IF NOT EXISTS idx_renderq_jobs_state
				ON renderq_jobs (state, updated_at)`,
			`CREATE INDEX IF NOT EXISTS idx_renderq_jobs_heartbeat
				ON renderq_jobs (heartbeat_at)
				WHERE state = 'active'`,
		},
	},
	{
		version: "20260101120001",
		name:    "create_dlq_table",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS renderq_dlq (
				id           TEXT PRIMARY KEY,
				job_id       TEXT NOT NULL,
				kind         TEXT NOT NULL DEFAULT '',
				priority     INTEGER NOT NULL,
				payload      BLOB NOT NULL,
				error        TEXT NOT NULL DEFAULT '',
				attempt      INTEGER NOT NULL,
				max_attempts INTEGER NOT NULL,
				failed_at    INTEGER NOT NULL,
				replayed_at  INTEGER,
				created_at   INTEGER NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_renderq_dlq_failed_at
				ON renderq_dlq (failed_at DESC)`,
		},
	},
	{
		version: "20260101120002",
		name:    "create_subscriptions_table",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS renderq_subscriptions (
				id              TEXT PRIMARY KEY,
				url             TEXT NOT NULL,
				secret          TEXT NOT NULL,
				events          TEXT NOT NULL DEFAULT '[]',
				headers         TEXT NOT NULL DEFAULT '{}',
				active          INTEGER NOT NULL DEFAULT 1,
				circuit_state   TEXT NOT NULL DEFAULT 'closed',
				failure_count   INTEGER NOT NULL DEFAULT 0,
				cooldown        INTEGER NOT NULL DEFAULT 0,
				open_until      INTEGER,
				last_attempt_at INTEGER,
				created_at      INTEGER NOT NULL,
				updated_at      INTEGER NOT NULL
			)`,
		},
	},
}

// Migrate applies every pending migration, each in its own transaction.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS renderq_migrations (
			version    TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at INTEGER NOT NULL
		)`)
	if err != nil {
		return errors.Mark(errors.Wrap(err, "renderq/sqlite: create migrations table"), renderq.ErrMigrationFailed)
	}

	for _, m := range migrations {
		ran := false
		err := s.inTx(ctx, func(tx *sqlx.Tx) error {
			var applied int
			if err := tx.GetContext(ctx, &applied,
				`SELECT COUNT(*) FROM renderq_migrations WHERE version = ?`, m.version); err != nil {
				return err
			}
			if applied > 0 {
				return nil
			}
			for _, stmt := range m.stmts {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return err
				}
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO renderq_migrations (version, name, applied_at) VALUES (?, ?, ?)`,
				m.version, m.name, time.Now().UTC().UnixNano())
			ran = err == nil
			return err
		})
		if err != nil {
			return errors.Mark(errors.Wrapf(err, "renderq/sqlite: migration %s", m.name), renderq.ErrMigrationFailed)
		}
		if ran {
			s.logger.Info("sqlite migration applied",
				slog.String("version", m.version),
				slog.String("name", m.name),
			)
		}
	}
	return nil
}
