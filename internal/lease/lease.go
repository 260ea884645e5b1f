// Package lease provides per-session mutual exclusion for ticks.
package lease

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrHeld = errors.New("lease held by another worker")

// Locker hands out exclusive, expiring leases keyed by name.
type Locker interface {
	// Acquire returns ErrHeld when another holder owns key.
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

type Lease interface {
	Release(ctx context.Context) error
}

func token() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

type RedisLocker struct {
	Client *redis.Client
	Prefix string
}

func NewRedisLocker(opt *redis.Options, prefix string) *RedisLocker {
	return &RedisLocker{Client: redis.NewClient(opt), Prefix: prefix}
}

// releaseScript deletes the key only while it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	full := l.Prefix + key
	tok := token()
	ok, err := l.Client.SetNX(ctx, full, tok, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrHeld
	}
	return &redisLease{client: l.Client, key: full, token: tok}, nil
}

func (l *RedisLocker) Close() error {
	return l.Client.Close()
}

type redisLease struct {
	client *redis.Client
	key    string
	token  string
}

func (r *redisLease) Release(ctx context.Context) error {
	err := releaseScript.Run(ctx, r.client, []string{r.key}, r.token).Err()
	if err == redis.Nil {
		return nil
	}
	return err
}

type memItem struct {
	token   string
	expires time.Time
}

// MemoryLocker is a single-process Locker.
type MemoryLocker struct {
	mu    sync.Mutex
	items map[string]memItem
	Now   func() time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{items: map[string]memItem{}}
}

func (m *MemoryLocker) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

func (m *MemoryLocker) Acquire(_ context.Context, key string, ttl time.Duration) (Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.items == nil {
		m.items = map[string]memItem{}
	}
	now := m.now()
	if it, ok := m.items[key]; ok && (it.expires.IsZero() || now.Before(it.expires)) {
		return nil, ErrHeld
	}
	it := memItem{token: token()}
	if ttl > 0 {
		it.expires = now.Add(ttl)
	}
	m.items[key] = it
	return &memLease{owner: m, key: key, token: it.token}, nil
}

type memLease struct {
	owner *MemoryLocker
	key   string
	token string
}

func (l *memLease) Release(context.Context) error {
	l.owner.mu.Lock()
	defer l.owner.mu.Unlock()
	if it, ok := l.owner.items[l.key]; ok && it.token == l.token {
		delete(l.owner.items, l.key)
	}
	return nil
}
