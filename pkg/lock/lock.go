// Package lock provides named, TTL-bounded exclusive leases used to
// serialize maintenance operations (consolidation, scheduled sweeps)
// across processes. Three backends share the Manager interface:
// sqlite, redis, and an in-memory map for tests and single-process
// deployments.
package lock

import (
	"context"
	"errors"
	"time"
)

// ErrNotOwned is returned by Release when the supplied token does not
// match the lock's current holder.
var ErrNotOwned = errors.New("lock: token does not own this lease")

// Manager acquires and releases named exclusive leases. acquire is
// reentrant for the same token: calling Acquire again with the same
// name and token before the lease expires extends it rather than
// failing.
type Manager interface {
	// Acquire attempts to take the lease named name for ttl, owned by
	// token. Returns true if the lease was acquired or renewed (same
	// token held it already or the previous holder's lease expired),
	// false if a different token currently holds an unexpired lease.
	Acquire(ctx context.Context, name, token string, ttl time.Duration) (bool, error)

	// Release drops the lease named name if and only if token is its
	// current holder. Returns ErrNotOwned otherwise; releasing a lock
	// that does not exist at all is not an error.
	Release(ctx context.Context, name, token string) error

	// Close releases backend resources.
	Close() error
}
