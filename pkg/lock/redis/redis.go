// Package redis implements lock.Manager over a Redis connection using
// SET with NX+EX semantics for acquisition and a Lua compare-and-delete
// script for release, so release never drops a lease another token
// has since taken over.
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/openmemory/core/pkg/lock"
)

// releaseScript deletes key only if its current value equals the
// caller's token, atomically, so a racing Acquire by another token
// can never be undone by a stale Release.
var releaseScript = goredis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	end
	return 0
`)

// Manager implements lock.Manager over Redis.
type Manager struct {
	rdb       *goredis.Client
	keyPrefix string
}

// Config configures a Manager.
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string // defaults to "om:lock"
}

// New connects to Redis and returns a lock.Manager.
func New(cfg Config) (*Manager, error) {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "om:lock"
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("lock/redis: ping: %w", err)
	}
	return &Manager{rdb: rdb, keyPrefix: prefix}, nil
}

func (m *Manager) key(name string) string {
	return m.keyPrefix + ":" + name
}

// Acquire takes or renews the named lease. SET NX fails if another
// token already holds an unexpired lease; reentrant acquisition by the
// same token is handled by checking the current value first and
// reissuing SET with a fresh TTL (Redis's SET NX alone cannot express
// "set if absent or if I already own it" in one command).
func (m *Manager) Acquire(ctx context.Context, name, token string, ttl time.Duration) (bool, error) {
	key := m.key(name)

	ok, err := m.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("lock/redis: acquire: %w", err)
	}
	if ok {
		return true, nil
	}

	current, err := m.rdb.Get(ctx, key).Result()
	if err == goredis.Nil {
		// The lease expired between our failed SETNX and this GET;
		// retry once.
		ok, err = m.rdb.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return false, fmt.Errorf("lock/redis: acquire retry: %w", err)
		}
		return ok, nil
	}
	if err != nil {
		return false, fmt.Errorf("lock/redis: acquire: %w", err)
	}
	if current != token {
		return false, nil
	}

	if err := m.rdb.Expire(ctx, key, ttl).Err(); err != nil {
		return false, fmt.Errorf("lock/redis: renew: %w", err)
	}
	return true, nil
}

// Release deletes the named lease only if token currently owns it.
func (m *Manager) Release(ctx context.Context, name, token string) error {
	res, err := releaseScript.Run(ctx, m.rdb, []string{m.key(name)}, token).Int64()
	if err != nil {
		return fmt.Errorf("lock/redis: release: %w", err)
	}
	if res == 0 {
		current, err := m.rdb.Get(ctx, m.key(name)).Result()
		if err == goredis.Nil {
			// Already gone (expired or never existed): not an error.
			return nil
		}
		if err != nil {
			return fmt.Errorf("lock/redis: release: %w", err)
		}
		if current != token {
			return lock.ErrNotOwned
		}
	}
	return nil
}

// Close closes the Redis connection.
func (m *Manager) Close() error {
	return m.rdb.Close()
}
