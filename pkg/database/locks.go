package database

import (
	"context"
	stdsql "database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// ErrLockTimeout indicates the advisory lock could not be acquired within
// the bounded wait. Callers treat it as a soft deferral, not a failure.
var ErrLockTimeout = errors.New("advisory lock wait timed out")

// lockPollInterval is how often Acquire retries pg_try_advisory_lock.
const lockPollInterval = 250 * time.Millisecond

// IsLockTimeout reports whether err is a bounded-wait expiry.
func IsLockTimeout(err error) bool {
	return errors.Is(err, ErrLockTimeout)
}

// LockEventSink receives lock lifecycle events for the audit log.
type LockEventSink interface {
	LockEvent(ctx context.Context, eventType, key string)
}

// LockKey derives a stable 64-bit advisory lock key from string parts.
func LockKey(parts ...string) int64 {
	return int64(xxhash.Sum64String(strings.Join(parts, "/")))
}

// Locker acquires PostgreSQL advisory locks with a bounded wait.
// Locks are session-scoped, so each lease pins a dedicated connection
// until released.
type Locker struct {
	db          *stdsql.DB
	waitTimeout time.Duration
	events      LockEventSink
}

// NewLocker creates a Locker. events may be nil (lock events not logged).
func NewLocker(db *stdsql.DB, waitTimeout time.Duration, events LockEventSink) *Locker {
	return &Locker{db: db, waitTimeout: waitTimeout, events: events}
}

// Lease is a held advisory lock. Release is idempotent.
type Lease struct {
	conn     *stdsql.Conn
	key      int64
	name     string
	locker   *Locker
	released bool
}

// Acquire obtains the advisory lock named by parts, polling until the
// wait timeout elapses. Returns ErrLockTimeout on expiry.
func (l *Locker) Acquire(ctx context.Context, parts ...string) (*Lease, error) {
	name := strings.Join(parts, "/")
	key := LockKey(parts...)

	l.emit(ctx, "lock_requested", name)

	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain connection for lock %q: %w", name, err)
	}

	deadline := time.Now().Add(l.waitTimeout)
	for {
		var acquired bool
		if err := conn.QueryRowContext(ctx,
			`SELECT pg_try_advisory_lock($1)`, key).Scan(&acquired); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to try advisory lock %q: %w", name, err)
		}
		if acquired {
			l.emit(ctx, "lock_acquired", name)
			return &Lease{conn: conn, key: key, name: name, locker: l}, nil
		}
		if time.Now().After(deadline) {
			_ = conn.Close()
			l.emit(ctx, "lock_timeout", name)
			return nil, fmt.Errorf("lock %q: %w", name, ErrLockTimeout)
		}
		select {
		case <-ctx.Done():
			_ = conn.Close()
			return nil, ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}
}

// Release unlocks and returns the pinned connection to the pool.
func (le *Lease) Release(ctx context.Context) {
	if le == nil || le.released {
		return
	}
	le.released = true
	if _, err := le.conn.ExecContext(ctx, `SELECT pg_advisory_unlock($1)`, le.key); err == nil {
		le.locker.emit(ctx, "lock_released", le.name)
	}
	_ = le.conn.Close()
}

func (l *Locker) emit(ctx context.Context, eventType, name string) {
	if l.events != nil {
		l.events.LockEvent(ctx, eventType, name)
	}
}
