package inheritance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Cache is the process tier. Each course scope has a generation that Invalidate
// bumps; a stored snapshot is only valid while its Generation matches.
type Cache interface {
	Generation(ctx context.Context, scope string) (uint64, error)
	Load(ctx context.Context, scope string) (*Snapshot, error)
	Store(ctx context.Context, scope string, s *Snapshot) error
	Invalidate(ctx context.Context, scope string) error
}

type MemoryCache struct {
	mu    sync.Mutex
	gens  map[string]uint64
	snaps map[string]*Snapshot
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{gens: map[string]uint64{}, snaps: map[string]*Snapshot{}}
}

func (c *MemoryCache) Generation(ctx context.Context, scope string) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[scope], nil
}

func (c *MemoryCache) Load(ctx context.Context, scope string) (*Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snaps[scope], nil
}

func (c *MemoryCache) Store(ctx context.Context, scope string, s *Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s.Generation != c.gens[scope] {
		return nil
	}
	c.snaps[scope] = s
	return nil
}

func (c *MemoryCache) Invalidate(ctx context.Context, scope string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gens[scope]++
	delete(c.snaps, scope)
	return nil
}

// RedisCache shares snapshots and generations between processes.
type RedisCache struct {
	rdb    goredis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisCache(rdb goredis.UniversalClient, prefix string, ttl time.Duration) *RedisCache {
	if prefix == "" {
		prefix = "coursestore:inheritance"
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisCache{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (c *RedisCache) genKey(scope string) string  { return c.prefix + ":gen:" + scope }
func (c *RedisCache) snapKey(scope string) string { return c.prefix + ":snap:" + scope }

func (c *RedisCache) Generation(ctx context.Context, scope string) (uint64, error) {
	raw, err := c.rdb.Get(ctx, c.genKey(scope)).Result()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get generation: %w", err)
	}
	return strconv.ParseUint(raw, 10, 64)
}

func (c *RedisCache) Load(ctx context.Context, scope string) (*Snapshot, error) {
	raw, err := c.rdb.Get(ctx, c.snapKey(scope)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get snapshot: %w", err)
	}
	var s Snapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &s, nil
}

// Store writes s only if the generation has not moved since s was computed.
func (c *RedisCache) Store(ctx context.Context, scope string, s *Snapshot) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	genKey := c.genKey(scope)
	return c.rdb.Watch(ctx, func(tx *goredis.Tx) error {
		cur, err := tx.Get(ctx, genKey).Result()
		if err != nil && !errors.Is(err, goredis.Nil) {
			return err
		}
		var gen uint64
		if cur != "" {
			if gen, err = strconv.ParseUint(cur, 10, 64); err != nil {
				return err
			}
		}
		if gen != s.Generation {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(p goredis.Pipeliner) error {
			p.Set(ctx, c.snapKey(scope), raw, c.ttl)
			return nil
		})
		return err
	}, genKey)
}

func (c *RedisCache) Invalidate(ctx context.Context, scope string) error {
	_, err := c.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.Incr(ctx, c.genKey(scope))
		p.Del(ctx, c.snapKey(scope))
		return nil
	})
	return err
}
