package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisConfig 描述 Redis 发布通道的连接参数。
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Channel  string
}

// RedisPublisher 通过 PUBLISH 广播事件。
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

// NewRedisPublisher 创建 Redis 发布器。
func NewRedisPublisher(cfg RedisConfig) (*RedisPublisher, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	channel := cfg.Channel
	if channel == "" {
		channel = "sagewallet:events"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return &RedisPublisher{client: client, channel: channel}, nil
}

// Publish 将事件以 JSON 发布到频道。
func (p *RedisPublisher) Publish(ctx context.Context, event Event) error {
	body, err := encode(event)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, p.channel, body).Err(); err != nil {
		return fmt.Errorf("Redis 发布事件失败: %w", err)
	}
	return nil
}

// Subscribe 订阅事件频道，供其它实例消费。
func (p *RedisPublisher) Subscribe(ctx context.Context) *redis.PubSub {
	return p.client.Subscribe(ctx, p.channel)
}

// Close 关闭 Redis 连接。
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
