package swap

import "time"

// Kind 标识交易的业务类型。
type Kind string

const (
	KindBuy        Kind = "buy"
	KindSwapNative Kind = "swap_eth_for_token"
	KindSwapToken  Kind = "swap_token_for_token"
	KindApprove    Kind = "approve"
)

// Status 描述交易所处阶段。
type Status string

const (
	StatusBuilding          Status = "building"
	StatusAwaitingSignature Status = "awaiting_signature"
	StatusSubmitted         Status = "submitted"
	StatusConfirmed         Status = "confirmed"
	StatusFailed            Status = "failed"
)

// Terminal 判断状态是否为终态。
func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusFailed
}

// PendingTransaction 记录一次用户操作对应的链上交易，仅存在于内存中。
//
// Hash 只在 submitted 与 confirmed 状态下非空。
type PendingTransaction struct {
	ID           string    `json:"id"`
	Kind         Kind      `json:"kind"`
	Amount       string    `json:"amount"`
	Status       Status    `json:"status"`
	Hash         string    `json:"hash,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Observer 接收交易每一次状态变化的副本。
type Observer func(PendingTransaction)
