// Package memory implements lock.Manager with a sync.Mutex-guarded
// map, for tests and single-process deployments that don't need
// cross-process coordination.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/openmemory/core/pkg/lock"
)

type lease struct {
	token     string
	expiresAt time.Time
}

// Manager is an in-process lock.Manager.
type Manager struct {
	mu     sync.Mutex
	leases map[string]lease
}

// New returns an empty in-memory Manager.
func New() *Manager {
	return &Manager{leases: make(map[string]lease)}
}

// Acquire takes or renews the named lease.
func (m *Manager) Acquire(_ context.Context, name, token string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	l, exists := m.leases[name]
	if exists && l.token != token && l.expiresAt.After(now) {
		return false, nil
	}

	m.leases[name] = lease{token: token, expiresAt: now.Add(ttl)}
	return true, nil
}

// Release drops the named lease if token owns it.
func (m *Manager) Release(_ context.Context, name, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, exists := m.leases[name]
	if !exists {
		return nil
	}
	if l.token != token {
		return lock.ErrNotOwned
	}
	delete(m.leases, name)
	return nil
}

// Close is a no-op; the in-memory manager holds no external resources.
func (m *Manager) Close() error {
	return nil
}
