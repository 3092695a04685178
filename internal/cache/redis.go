package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/discount-system/internal/config"
	"github.com/discount-system/internal/constants"

	"github.com/redis/go-redis/v9"
)

// ErrRedisDisabled Redis 未启用
var ErrRedisDisabled = errors.New("redis disabled")

// shared 进程级 Redis 连接，L2 已使用缓存、统计缓存与限流共用
var shared = struct {
	sync.RWMutex
	client *redis.Client
	prefix string
}{prefix: constants.RedisPrefixDefault}

// InitRedis 按配置创建 Redis 客户端，未启用时保持禁用状态
func InitRedis(cfg *config.RedisConfig) error {
	if cfg == nil || !cfg.Enabled {
		return nil
	}
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		host = "127.0.0.1"
	}
	port := cfg.Port
	if port <= 0 {
		port = 6379
	}
	prefix := strings.TrimSpace(cfg.Prefix)
	if prefix == "" {
		prefix = constants.RedisPrefixDefault
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	shared.Lock()
	defer shared.Unlock()
	if shared.client != nil {
		_ = shared.client.Close()
	}
	shared.client = client
	shared.prefix = prefix
	return nil
}

// Enabled Redis 是否可用
func Enabled() bool {
	return Client() != nil
}

// Client 当前 Redis 客户端，未启用时返回 nil
func Client() *redis.Client {
	shared.RLock()
	defer shared.RUnlock()
	return shared.client
}

// Prefix 当前 key 前缀
func Prefix() string {
	shared.RLock()
	defer shared.RUnlock()
	return shared.prefix
}

// Close 关闭 Redis 客户端
func Close() error {
	shared.Lock()
	defer shared.Unlock()
	if shared.client == nil {
		return nil
	}
	err := shared.client.Close()
	shared.client = nil
	shared.prefix = constants.RedisPrefixDefault
	return err
}

// Ping 检查 Redis 连通性
func Ping(ctx context.Context) error {
	client := Client()
	if client == nil {
		return ErrRedisDisabled
	}
	return client.Ping(ctx).Err()
}

// GetJSON 读取 JSON 缓存，未命中返回 false
func GetJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	client := Client()
	if client == nil {
		return false, nil
	}
	val, err := client.Get(ctx, BuildKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(val, dest); err != nil {
		return false, err
	}
	return true, nil
}

// SetJSON 写入 JSON 缓存
func SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	client := Client()
	if client == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return client.Set(ctx, BuildKey(key), payload, ttl).Err()
}

// Delete 删除缓存 key
func Delete(ctx context.Context, keys ...string) error {
	client := Client()
	if client == nil || len(keys) == 0 {
		return nil
	}
	full := make([]string, 0, len(keys))
	for _, key := range keys {
		full = append(full, BuildKey(key))
	}
	return client.Del(ctx, full...).Err()
}

// BuildKey 拼接带前缀的 key
func BuildKey(key string) string {
	return buildKeyWithPrefix(Prefix(), key)
}

func buildKeyWithPrefix(prefix, key string) string {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return prefix
	}
	return prefix + ":" + trimmed
}
