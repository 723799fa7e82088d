package cache

import (
	"context"
	"time"

	"github.com/zeromicro/go-zero/core/collection"

	"dao-voting-sol/internal/types"
)

const defaultMemoryLimit = 4096

// MemoryCache 进程内缓存，基于 go-zero 的过期 + LRU 集合
type MemoryCache struct {
	c *collection.Cache
}

func NewMemoryCache(ttl time.Duration, limit int) (*MemoryCache, error) {
	if limit <= 0 {
		limit = defaultMemoryLimit
	}
	c, err := collection.NewCache(ttl, collection.WithLimit(limit), collection.WithName("dao-accounts"))
	if err != nil {
		return nil, err
	}
	return &MemoryCache{c: c}, nil
}

func (m *MemoryCache) Get(_ context.Context, addr types.Pubkey) ([]byte, bool) {
	v, ok := m.c.Get(addr.String())
	if !ok {
		return nil, false
	}
	data, ok := v.([]byte)
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}

func (m *MemoryCache) Set(_ context.Context, addr types.Pubkey, data []byte) {
	m.c.Set(addr.String(), append([]byte(nil), data...))
}

func (m *MemoryCache) Delete(_ context.Context, addrs ...types.Pubkey) {
	for _, a := range addrs {
		m.c.Del(a.String())
	}
}

var _ AccountCache = (*MemoryCache)(nil)
