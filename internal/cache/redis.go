package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"dao-voting-sol/internal/types"
	"dao-voting-sol/pkg/logger"
)

// Redis key 前缀
const accountKeyPrefix = "dao:account:"

// RedisCache 多进程共享的缓存。Redis 故障只记日志并按未命中处理
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func accountKey(addr types.Pubkey) string {
	return accountKeyPrefix + addr.String()
}

func (r *RedisCache) Get(ctx context.Context, addr types.Pubkey) ([]byte, bool) {
	data, err := r.rdb.Get(ctx, accountKey(addr)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, false
	case err != nil:
		logger.Warnf("[RedisCache] get %s 失败: %v", addr, err)
		return nil, false
	}
	return data, true
}

func (r *RedisCache) Set(ctx context.Context, addr types.Pubkey, data []byte) {
	if err := r.rdb.Set(ctx, accountKey(addr), data, r.ttl).Err(); err != nil {
		logger.Warnf("[RedisCache] set %s 失败: %v", addr, err)
	}
}

func (r *RedisCache) Delete(ctx context.Context, addrs ...types.Pubkey) {
	if len(addrs) == 0 {
		return
	}
	keys := make([]string, len(addrs))
	for i, a := range addrs {
		keys[i] = accountKey(a)
	}
	if err := r.rdb.Del(ctx, keys...).Err(); err != nil {
		logger.Warnf("[RedisCache] del %d keys 失败: %v", len(keys), err)
	}
}

var _ AccountCache = (*RedisCache)(nil)
