package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"SageChain/internal/price"
	"SageChain/internal/swap"
	"SageChain/internal/wallet"
)

// Type 标识事件种类。
type Type string

const (
	TypeSessionChanged     Type = "session.changed"
	TypeTransactionUpdated Type = "transaction.updated"
	TypePricesUpdated      Type = "prices.updated"
)

// Event 是投递给外部消费者的消息体。
type Event struct {
	Type        Type                     `json:"type"`
	Session     *wallet.WalletSession    `json:"session,omitempty"`
	Transaction *swap.PendingTransaction `json:"transaction,omitempty"`
	Quotes      map[string]price.Quote   `json:"quotes,omitempty"`
	OccurredAt  time.Time                `json:"occurred_at"`
}

// Publisher 负责把事件投递到具体后端。
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

func encode(event Event) ([]byte, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("序列化事件失败: %w", err)
	}
	return body, nil
}

// NopPublisher 丢弃所有事件。
type NopPublisher struct{}

// Publish 实现 Publisher。
func (NopPublisher) Publish(context.Context, Event) error { return nil }

// Close 实现 Publisher。
func (NopPublisher) Close() error { return nil }
