// Package postgres implements store.Store using pgx/v5 with raw SQL.
// Claims use SELECT ... FOR UPDATE SKIP LOCKED so any number of engines can
// share one database; every other state change locks its row and applies
// the transition inside the same transaction. Migrations are embedded SQL
// files applied in filename order.
package postgres
