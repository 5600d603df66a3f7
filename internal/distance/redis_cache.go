package distance

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache shares estimates between server instances. Redis errors are
// treated as misses.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisCache(client redis.UniversalClient, prefix string) *RedisCache {
	return &RedisCache{client: client, prefix: prefix}
}

// DialRedis connects to addr, which may be a plain host:port or a redis:// URL.
func DialRedis(ctx context.Context, addr string) (redis.UniversalClient, error) {
	opts, err := parseRedisURL(addr)
	if err != nil {
		return nil, err
	}
	c := redis.NewUniversalClient(opts)
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func parseRedisURL(addr string) (*redis.UniversalOptions, error) {
	if !strings.Contains(addr, "://") {
		return &redis.UniversalOptions{Addrs: []string{addr}}, nil
	}
	opt, err := redis.ParseURL(addr)
	if err != nil {
		return nil, err
	}
	return &redis.UniversalOptions{
		Addrs:     []string{opt.Addr},
		Username:  opt.Username,
		Password:  opt.Password,
		DB:        opt.DB,
		TLSConfig: opt.TLSConfig,
	}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) (Estimate, bool) {
	b, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		return Estimate{}, false
	}
	var est Estimate
	if err := json.Unmarshal(b, &est); err != nil {
		return Estimate{}, false
	}
	return est, true
}

func (c *RedisCache) Set(ctx context.Context, key string, value Estimate, ttl time.Duration) {
	b, err := json.Marshal(value)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, c.prefix+key, b, ttl).Err()
}
