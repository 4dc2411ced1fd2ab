package storage

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"

	"MissionChat/module/chat/model"
	"MissionChat/tools/errs"
)

// Profiles resolves display projections for user ids. Unknown users are
// absent from the result rather than an error.
type Profiles interface {
	Profiles(ctx context.Context, ids []string) (map[string]model.Profile, error)
}

// profile hash: im:profile:<user> {name, profileImage}, written by the user service.
func profileKey(user string) string { return "im:profile:" + user }

type RedisProfiles struct {
	rdb *redis.Client
}

func NewRedisProfiles(rdb *redis.Client) *RedisProfiles {
	return &RedisProfiles{rdb: rdb}
}

func (p *RedisProfiles) Profiles(ctx context.Context, ids []string) (map[string]model.Profile, error) {
	out := make(map[string]model.Profile, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	pipe := p.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, profileKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, errs.WrapMsg(err, "profile pipeline")
	}
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		out[ids[i]] = model.Profile{ID: ids[i], Name: fields["name"], ProfileImage: fields["profileImage"]}
	}
	return out, nil
}

// Put writes a projection; the user service normally owns this.
func (p *RedisProfiles) Put(ctx context.Context, pr model.Profile) error {
	return errs.Wrap(p.rdb.HSet(ctx, profileKey(pr.ID), "name", pr.Name, "profileImage", pr.ProfileImage).Err())
}

type MemProfiles struct {
	mu sync.RWMutex
	m  map[string]model.Profile
}

func NewMemProfiles(seed ...model.Profile) *MemProfiles {
	p := &MemProfiles{m: make(map[string]model.Profile)}
	for _, pr := range seed {
		p.m[pr.ID] = pr
	}
	return p
}

func (p *MemProfiles) Profiles(_ context.Context, ids []string) (map[string]model.Profile, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]model.Profile, len(ids))
	for _, id := range ids {
		if pr, ok := p.m[id]; ok {
			out[id] = pr
		}
	}
	return out, nil
}

func (p *MemProfiles) Put(_ context.Context, pr model.Profile) error {
	p.mu.Lock()
	p.m[pr.ID] = pr
	p.mu.Unlock()
	return nil
}
