// Package cron submits render jobs on recurring schedules.
//
// Entries are held in process and evaluated on a tick loop. Each due
// entry submits one job through a SubmitFunc and advances to its next
// occurrence; occurrences missed while the process was down or busy are
// not backfilled. Expressions use the standard five-field cron syntax
// plus descriptors such as "@hourly" and "@every 30s".
package cron
