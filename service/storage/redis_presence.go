package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"MissionChat/tools/errs"
)

// Presence records which users currently hold at least one live connection.
type Presence interface {
	Online(ctx context.Context, user, nodeID string, ttl time.Duration) error
	Offline(ctx context.Context, user, nodeID string) error
	Lookup(ctx context.Context, user string) (nodeID string, online bool, err error)
}

// presence key: im:presence:<user>
// Value: node id, TTL bounds how long a crashed node keeps users online.
func presenceKey(user string) string { return "im:presence:" + user }

// KEYS[1] = presence key, ARGV[1] = node id; 返回删除数量
var offlineScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

type RedisPresence struct {
	rdb *redis.Client
}

func NewRedisPresence(rdb *redis.Client) *RedisPresence {
	return &RedisPresence{rdb: rdb}
}

// Online sets the user as online and renews the TTL.
func (p *RedisPresence) Online(ctx context.Context, user, nodeID string, ttl time.Duration) error {
	return errs.Wrap(p.rdb.Set(ctx, presenceKey(user), nodeID, ttl).Err())
}

// Offline deletes the key only if this node still owns it, so a late
// disconnect on one node cannot hide a fresh connection on another.
func (p *RedisPresence) Offline(ctx context.Context, user, nodeID string) error {
	return errs.Wrap(offlineScript.Run(ctx, p.rdb, []string{presenceKey(user)}, nodeID).Err())
}

func (p *RedisPresence) Lookup(ctx context.Context, user string) (string, bool, error) {
	val, err := p.rdb.Get(ctx, presenceKey(user)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errs.Wrap(err)
	}
	return val, true, nil
}

type memEntry struct {
	node    string
	expires time.Time
}

// MemPresence is the single-node variant used without Redis.
type MemPresence struct {
	mu  sync.Mutex
	m   map[string]memEntry
	now func() time.Time
}

func NewMemPresence() *MemPresence {
	return &MemPresence{m: make(map[string]memEntry), now: time.Now}
}

func (p *MemPresence) Online(_ context.Context, user, nodeID string, ttl time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.m[user] = memEntry{node: nodeID, expires: p.now().Add(ttl)}
	return nil
}

func (p *MemPresence) Offline(_ context.Context, user, nodeID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.m[user]; ok && e.node == nodeID {
		delete(p.m, user)
	}
	return nil
}

func (p *MemPresence) Lookup(_ context.Context, user string) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.m[user]
	if !ok {
		return "", false, nil
	}
	if !p.now().Before(e.expires) {
		delete(p.m, user)
		return "", false, nil
	}
	return e.node, true, nil
}
