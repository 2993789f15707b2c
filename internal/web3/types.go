package web3

import (
	"context"
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

// EventAccountsChanged is emitted by a transport whenever the set of accounts
// exposed to this client changes. The payload is the new account list with
// the wallet's primary account first.
const EventAccountsChanged = "accountsChanged"

// JSON-RPC methods a wallet transport is expected to serve.
const (
	MethodAccounts           = "eth_accounts"
	MethodRequestAccounts    = "eth_requestAccounts"
	MethodChainID            = "eth_chainId"
	MethodGetBalance         = "eth_getBalance"
	MethodCall               = "eth_call"
	MethodSendTransaction    = "eth_sendTransaction"
	MethodTransactionReceipt = "eth_getTransactionReceipt"
)

// ListenerID identifies a registered listener so it can be removed later.
type ListenerID uint64

// Listener receives account-change notifications.
type Listener func(accounts []string)

// Transport is the wallet-side surface through which this client requests
// account access, reads chain state and asks the user to sign transactions.
//
// Errors returned by Request that originate from the wallet itself should
// implement `ErrorCode() int`, following go-ethereum's rpc.Error convention,
// so callers can tell user rejections apart from transport failures.
type Transport interface {
	Request(ctx context.Context, method string, params []any) (json.RawMessage, error)
	On(event string, listener Listener) ListenerID
	RemoveListener(event string, id ListenerID)
}

// TxRequest is the eth_sendTransaction parameter object. Gas and fees are
// left to the wallet.
type TxRequest struct {
	From  common.Address  `json:"from"`
	To    *common.Address `json:"to,omitempty"`
	Value *hexutil.Big    `json:"value,omitempty"`
	Data  hexutil.Bytes   `json:"data,omitempty"`
	Gas   *hexutil.Uint64 `json:"gas,omitempty"`
}

// CallRequest is the eth_call parameter object.
type CallRequest struct {
	From *common.Address `json:"from,omitempty"`
	To   common.Address  `json:"to"`
	Data hexutil.Bytes   `json:"data"`
}

// Receipt carries the subset of a transaction receipt this client relies on.
type Receipt struct {
	TxHash      common.Hash    `json:"transactionHash"`
	Status      hexutil.Uint64 `json:"status"`
	BlockNumber *hexutil.Big   `json:"blockNumber"`
	GasUsed     hexutil.Uint64 `json:"gasUsed"`
}

// Succeeded reports whether the transaction executed without reverting.
func (r *Receipt) Succeeded() bool {
	return r != nil && uint64(r.Status) == types.ReceiptStatusSuccessful
}
