package timers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/davteix/sirenwatch/internal/infrastructure/database"
)

// Timer is one persisted auto-off window for a device.
type Timer struct {
	DeviceID string

	// ExpiresAt is the absolute deadline. A timer with ExpiresAt <= now
	// is logically expired and treated as absent.
	ExpiresAt time.Time

	// Duration is the configured total window length, kept for redisplay.
	Duration time.Duration
}

// Remaining returns the whole seconds left until expiry, or 0 if the
// timer has expired.
func (t *Timer) Remaining(now time.Time) int {
	if t == nil || !t.ExpiresAt.After(now) {
		return 0
	}
	return int(t.ExpiresAt.Sub(now).Milliseconds() / 1000)
}

// Registry is the durable device → auto-off expiry store. It outlives a
// process restart so running countdowns reappear with the correct
// remaining time.
//
// Writes are last-writer-wins; that is acceptable since concurrent
// writers for the same device carry the same intent.
type Registry struct {
	db *database.DB
}

// Open prepares the registry against an open database, creating the
// timers table if needed and sweeping entries whose expiry has already
// passed. The sweep runs once per open; there is no background job.
func Open(ctx context.Context, db *database.DB) (*Registry, error) {
	const schema = `
CREATE TABLE IF NOT EXISTS auto_off_timers (
    device_id    TEXT PRIMARY KEY,
    expires_at   INTEGER NOT NULL, -- epoch milliseconds
    duration_ms  INTEGER NOT NULL
)`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("creating timers table: %w", err)
	}

	r := &Registry{db: db}
	if err := r.sweep(ctx, time.Now()); err != nil {
		return nil, err
	}
	return r, nil
}

// sweep deletes logically expired entries.
func (r *Registry) sweep(ctx context.Context, now time.Time) error {
	_, err := r.db.ExecContext(ctx,
		"DELETE FROM auto_off_timers WHERE expires_at <= ?", now.UnixMilli())
	if err != nil {
		return fmt.Errorf("sweeping expired timers: %w", err)
	}
	return nil
}

// Set writes or replaces the timer for a device.
func (r *Registry) Set(deviceID string, expiresAt time.Time, duration time.Duration) error {
	_, err := r.db.ExecContext(context.Background(), `
INSERT INTO auto_off_timers (device_id, expires_at, duration_ms)
VALUES (?, ?, ?)
ON CONFLICT(device_id) DO UPDATE SET
    expires_at  = excluded.expires_at,
    duration_ms = excluded.duration_ms`,
		deviceID, expiresAt.UnixMilli(), duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("setting timer for %s: %w", deviceID, err)
	}
	return nil
}

// Clear removes the timer for a device. Clearing a device without a
// timer is a no-op.
func (r *Registry) Clear(deviceID string) error {
	_, err := r.db.ExecContext(context.Background(),
		"DELETE FROM auto_off_timers WHERE device_id = ?", deviceID)
	if err != nil {
		return fmt.Errorf("clearing timer for %s: %w", deviceID, err)
	}
	return nil
}

// Get returns the timer for a device, or nil if none exists or the
// stored entry has expired. Expired rows are deleted on the way out
// rather than waiting for the next open.
func (r *Registry) Get(deviceID string) (*Timer, error) {
	var expiresMs, durationMs int64
	err := r.db.QueryRowContext(context.Background(),
		"SELECT expires_at, duration_ms FROM auto_off_timers WHERE device_id = ?",
		deviceID).Scan(&expiresMs, &durationMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading timer for %s: %w", deviceID, err)
	}

	t := &Timer{
		DeviceID:  deviceID,
		ExpiresAt: time.UnixMilli(expiresMs),
		Duration:  time.Duration(durationMs) * time.Millisecond,
	}
	if !t.ExpiresAt.After(time.Now()) {
		_ = r.Clear(deviceID) //nolint:errcheck // Lazy expiry; row disappears on next sweep regardless
		return nil, nil
	}
	return t, nil
}
