// Package database provides SQLite connectivity for sirenwatch's
// persisted state.
//
// sirenwatch deliberately keeps almost everything in memory; the single
// durable concern is the auto-off timer registry, which must survive a
// process restart so running countdowns reappear with the correct
// remaining time. SQLite with WAL mode is more than enough for that.
package database
