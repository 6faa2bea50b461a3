// Package sqlite implements store.Store on SQLite through sqlx and
// mattn/go-sqlite3. Suitable for single-node deployments, CLI tools and
// tests that want durable state without a server.
//
// All access goes through one connection, so every compare-and-set runs
// inside a transaction no other writer can interleave with:
//
//	import "github.com/xraph/renderq/store/sqlite"
//
//	store, err := sqlite.Open("renderq.db")
//	if err != nil { ... }
//	defer store.Close()
//	store.Migrate(ctx)
package sqlite
