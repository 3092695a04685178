package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/discount-system/internal/constants"

	"github.com/dgraph-io/ristretto"
	"github.com/redis/go-redis/v9"
)

const defaultUsedCodeMaxEntries = 100000

// UsedCodeCache 已使用折扣码缓存
// 本地层使用 ristretto，配置了 Redis 时作为第二层在多实例间共享。
// 仅用于削减重复兑换请求，真实状态以数据库为准。
type UsedCodeCache struct {
	local  *ristretto.Cache
	remote *redis.Client
	prefix string
}

// NewUsedCodeCache 创建已使用折扣码缓存，remote 可为 nil
func NewUsedCodeCache(maxEntries int64, remote *redis.Client, prefix string) (*UsedCodeCache, error) {
	if maxEntries <= 0 {
		maxEntries = defaultUsedCodeMaxEntries
	}
	if prefix == "" {
		prefix = constants.RedisPrefixDefault
	}
	local, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create used code cache: %w", err)
	}
	return &UsedCodeCache{
		local:  local,
		remote: remote,
		prefix: prefix,
	}, nil
}

// IsUsed 判断折扣码是否已知被使用
func (c *UsedCodeCache) IsUsed(ctx context.Context, code string) (bool, error) {
	if c == nil || code == "" {
		return false, nil
	}
	if _, hit := c.local.Get(code); hit {
		return true, nil
	}
	if c.remote == nil {
		return false, nil
	}
	ttl, err := c.remote.PTTL(ctx, c.remoteKey(code)).Result()
	if err != nil {
		return false, err
	}
	// -2 表示 key 不存在，-1 表示未设置过期时间
	if ttl < -1 {
		return false, nil
	}
	if ttl > 0 {
		c.setLocal(code, ttl)
	}
	return true, nil
}

// MarkUsed 记录折扣码已被使用
func (c *UsedCodeCache) MarkUsed(ctx context.Context, code string, ttl time.Duration) error {
	if c == nil || code == "" || ttl <= 0 {
		return nil
	}
	c.setLocal(code, ttl)
	if c.remote == nil {
		return nil
	}
	return c.remote.Set(ctx, c.remoteKey(code), 1, ttl).Err()
}

// Close 释放本地缓存
func (c *UsedCodeCache) Close() {
	if c == nil || c.local == nil {
		return
	}
	c.local.Close()
}

func (c *UsedCodeCache) setLocal(code string, ttl time.Duration) {
	c.local.SetWithTTL(code, true, 1, ttl)
	// ristretto 异步写入，等待缓冲落地后再返回
	c.local.Wait()
}

func (c *UsedCodeCache) remoteKey(code string) string {
	return buildKeyWithPrefix(c.prefix, "discount:used:"+code)
}
