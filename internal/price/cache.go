package price

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"SageChain/pkg/logger"
)

// Cache 保存最近一次行情快照，供多个实例共享。
type Cache interface {
	Load(ctx context.Context) (map[string]Quote, bool, error)
	Store(ctx context.Context, quotes map[string]Quote) error
}

// RedisCacheConfig 描述 Redis 缓存的连接参数。
type RedisCacheConfig struct {
	Address  string
	Password string
	DB       int
	Key      string
	TTL      time.Duration
}

// RedisCache 以 JSON 字符串形式把快照写入 Redis。
type RedisCache struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisCache 创建 Redis 缓存实例。
func NewRedisCache(cfg RedisCacheConfig) (*RedisCache, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	key := cfg.Key
	if key == "" {
		key = "sagewallet:prices"
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return &RedisCache{client: client, key: key, ttl: ttl}, nil
}

// Load 读取缓存的快照。
func (c *RedisCache) Load(ctx context.Context) (map[string]Quote, bool, error) {
	raw, err := c.client.Get(ctx, c.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("读取行情缓存失败: %w", err)
	}
	var quotes map[string]Quote
	if err := json.Unmarshal(raw, &quotes); err != nil {
		return nil, false, fmt.Errorf("解析行情缓存失败: %w", err)
	}
	return quotes, true, nil
}

// Store 写入快照并设置过期时间。
func (c *RedisCache) Store(ctx context.Context, quotes map[string]Quote) error {
	raw, err := json.Marshal(quotes)
	if err != nil {
		return fmt.Errorf("序列化行情缓存失败: %w", err)
	}
	if err := c.client.Set(ctx, c.key, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("写入行情缓存失败: %w", err)
	}
	return nil
}

// Close 释放 Redis 连接。
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// CachedClient 先查缓存，未命中时再请求上游并回写。
type CachedClient struct {
	upstream Fetcher
	cache    Cache
	log      *slog.Logger
}

// NewCachedClient 组合上游行情与缓存。
func NewCachedClient(upstream Fetcher, cache Cache) *CachedClient {
	return &CachedClient{upstream: upstream, cache: cache, log: logger.Named("price")}
}

// Fetch 实现 Fetcher。缓存故障只记录日志，不影响上游请求。
func (c *CachedClient) Fetch(ctx context.Context, ids []string) (map[string]Quote, error) {
	if cached, ok, err := c.cache.Load(ctx); err != nil {
		c.log.Warn("读取行情缓存失败", slog.Any("error", err))
	} else if ok {
		if subset, complete := pick(cached, ids); complete {
			return subset, nil
		}
	}

	quotes, err := c.upstream.Fetch(ctx, ids)
	if err != nil {
		return nil, err
	}
	if err := c.cache.Store(ctx, quotes); err != nil {
		c.log.Warn("写入行情缓存失败", slog.Any("error", err))
	}
	return quotes, nil
}

func pick(quotes map[string]Quote, ids []string) (map[string]Quote, bool) {
	out := make(map[string]Quote, len(ids))
	for _, id := range ids {
		q, ok := quotes[id]
		if !ok {
			return nil, false
		}
		out[id] = q
	}
	return out, true
}
