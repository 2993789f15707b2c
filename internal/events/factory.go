package events

import (
	"fmt"

	"SageChain/internal/config"
)

// NewPublisher 根据配置创建事件发布器。
func NewPublisher(cfg config.EventsConfig) (Publisher, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryPublisher(cfg.Buffer), nil
	case "none":
		return NopPublisher{}, nil
	case "redis":
		return NewRedisPublisher(RedisConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Channel:  cfg.Redis.Key,
		})
	case "rabbitmq":
		return NewRabbitMQPublisher(RabbitMQConfig{URL: cfg.RabbitMQ.URL, Queue: cfg.RabbitMQ.Queue})
	default:
		return nil, fmt.Errorf("不支持的事件驱动 %q", cfg.Driver)
	}
}
