package cache

import (
	"context"

	"dao-voting-sol/internal/types"
)

// AccountCache 账户原始数据的读缓存。只缓存存在的账户，写入成功后由调用方显式失效
type AccountCache interface {
	Get(ctx context.Context, addr types.Pubkey) ([]byte, bool)
	Set(ctx context.Context, addr types.Pubkey, data []byte)
	Delete(ctx context.Context, addrs ...types.Pubkey)
}

// 缓存模式
const (
	ModeNone   = "none"
	ModeMemory = "memory"
	ModeRedis  = "redis"
)

// Nop 不缓存
type Nop struct{}

func (Nop) Get(context.Context, types.Pubkey) ([]byte, bool) { return nil, false }
func (Nop) Set(context.Context, types.Pubkey, []byte)        {}
func (Nop) Delete(context.Context, ...types.Pubkey)          {}

var _ AccountCache = Nop{}
