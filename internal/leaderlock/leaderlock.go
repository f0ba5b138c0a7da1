// Package leaderlock provides a Redis-backed mutual-exclusion lock so only
// one consolidator replica runs a pass at a time, enforcing the
// single-writer discipline the planner assumes its host/VM state has.
package leaderlock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotHeld is returned by Release/Renew when the lock isn't held by this
// token, e.g. because its TTL already expired and another replica took
// over.
var ErrNotHeld = errors.New("leaderlock: lock not held")

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end
`)

// Lock is a single-key Redis lock identified by a random token, so only
// the holder that acquired it can release or renew it.
type Lock struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	token  string
}

// New builds a Lock client against addr/password/db, guarding key with
// ttl-length leases.
func New(addr, password string, db int, key string, ttl time.Duration) *Lock {
	return &Lock{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db}),
		key:    key,
		ttl:    ttl,
	}
}

// Acquire attempts a single non-blocking SETNX-style acquisition, returning
// true if this call became the leader.
func (l *Lock) Acquire(ctx context.Context) (bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return false, err
	}
	if ok {
		l.token = token
	}
	return ok, nil
}

// Renew extends the lease TTL, failing with ErrNotHeld if this Lock no
// longer owns the key.
func (l *Lock) Renew(ctx context.Context) error {
	if l.token == "" {
		return ErrNotHeld
	}
	n, err := renewScript.Run(ctx, l.client, []string{l.key}, l.token, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

// Release gives up the lease, a no-op (returning ErrNotHeld) if this Lock
// no longer owns the key.
func (l *Lock) Release(ctx context.Context) error {
	if l.token == "" {
		return ErrNotHeld
	}
	n, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Int64()
	l.token = ""
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

// Close releases the underlying Redis client.
func (l *Lock) Close() error {
	return l.client.Close()
}
