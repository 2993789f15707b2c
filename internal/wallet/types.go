package wallet

import (
	"SageChain/internal/web3/provider"
)

// ConnectionState 表示会话的连接阶段。
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
)

// WalletSession 是会话的只读快照。
//
// 只有 StateConnected 时 Address 才非空。
type WalletSession struct {
	Address         string          `json:"address"`
	BalanceDisplay  string          `json:"balance_display"`
	WalletKind      provider.Kind   `json:"wallet_kind"`
	ConnectionState ConnectionState `json:"connection_state"`
}

// Connected reports whether the snapshot describes a usable session.
func (w WalletSession) Connected() bool {
	return w.ConnectionState == StateConnected && w.Address != ""
}

func disconnectedSession() WalletSession {
	return WalletSession{WalletKind: provider.KindNone, ConnectionState: StateDisconnected}
}

// PrimaryAccount picks the account the session adopts from a wallet's account
// list: the first entry, which wallets use for the account currently selected
// in their UI. It returns false for an empty list.
func PrimaryAccount(accounts []string) (string, bool) {
	if len(accounts) == 0 {
		return "", false
	}
	return accounts[0], true
}
