package ethereum

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/simulated"

	"SageChain/internal/web3"
)

// Approver decides whether a connection prompt is accepted. Returning an
// error rejects the prompt with that error.
type Approver func(ctx context.Context) error

// SimulatedConfig describes the in-process chain.
type SimulatedConfig struct {
	Accounts int
	Balance  *big.Int
	Keys     []*ecdsa.PrivateKey
}

// SimulatedTransport is a wallet backed by go-ethereum's simulated chain. It
// holds the account keys itself and signs eth_sendTransaction requests the
// way an injected browser wallet would after user approval.
type SimulatedTransport struct {
	backend   *simulated.Backend
	client    simulated.Client
	listeners *listenerSet

	mu         sync.Mutex
	keys       map[common.Address]*ecdsa.PrivateKey
	exposed    []common.Address
	authorized bool
	autoMine   bool
	approver   Approver
	prompts    int
	sent       []common.Hash
}

// NewSimulatedTransport creates a funded chain and a wallet that controls
// every funded account.
func NewSimulatedTransport(cfg SimulatedConfig) (*SimulatedTransport, error) {
	keys := append([]*ecdsa.PrivateKey(nil), cfg.Keys...)
	for len(keys) < cfg.Accounts || len(keys) == 0 {
		key, err := crypto.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("生成模拟账户失败: %w", err)
		}
		keys = append(keys, key)
	}
	balance := cfg.Balance
	if balance == nil || balance.Sign() <= 0 {
		balance = new(big.Int).Mul(big.NewInt(100), big.NewInt(1e18))
	}

	alloc := types.GenesisAlloc{}
	byAddr := make(map[common.Address]*ecdsa.PrivateKey, len(keys))
	exposed := make([]common.Address, 0, len(keys))
	for _, key := range keys {
		addr := crypto.PubkeyToAddress(key.PublicKey)
		alloc[addr] = types.Account{Balance: new(big.Int).Set(balance)}
		byAddr[addr] = key
		exposed = append(exposed, addr)
	}

	backend := simulated.NewBackend(alloc)
	return &SimulatedTransport{
		backend:   backend,
		client:    backend.Client(),
		listeners: newListenerSet(),
		keys:      byAddr,
		exposed:   exposed,
		autoMine:  true,
	}, nil
}

// Close shuts the simulated chain down.
func (s *SimulatedTransport) Close() error {
	return s.backend.Close()
}

// Client exposes the chain client for assertions.
func (s *SimulatedTransport) Client() simulated.Client { return s.client }

// Commit seals a block containing all pending transactions.
func (s *SimulatedTransport) Commit() common.Hash { return s.backend.Commit() }

// SetAutoMine controls whether every sent transaction is sealed immediately.
func (s *SimulatedTransport) SetAutoMine(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoMine = enabled
}

// SetApprover installs the connection-prompt policy. A nil approver accepts.
func (s *SimulatedTransport) SetApprover(a Approver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.approver = a
}

// Accounts returns the addresses the wallet currently exposes.
func (s *SimulatedTransport) Accounts() []common.Address {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]common.Address(nil), s.exposed...)
}

// Prompts reports how many connection prompts were shown.
func (s *SimulatedTransport) Prompts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prompts
}

// SentTransactions lists the hashes broadcast so far.
func (s *SimulatedTransport) SentTransactions() []common.Hash {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]common.Hash(nil), s.sent...)
}

// SetAccounts switches the exposed accounts, like the user selecting another
// account in the wallet UI, and notifies listeners if access was granted.
func (s *SimulatedTransport) SetAccounts(accounts ...common.Address) error {
	s.mu.Lock()
	for _, addr := range accounts {
		if _, ok := s.keys[addr]; !ok {
			s.mu.Unlock()
			return fmt.Errorf("模拟钱包不持有账户 %s", addr.Hex())
		}
	}
	s.exposed = append([]common.Address(nil), accounts...)
	notify := s.authorized
	payload := s.visibleLocked()
	s.mu.Unlock()

	if notify {
		s.listeners.emit(web3.EventAccountsChanged, payload)
	}
	return nil
}

// Revoke withdraws the site authorization, emitting an empty account list.
func (s *SimulatedTransport) Revoke() {
	s.mu.Lock()
	wasAuthorized := s.authorized
	s.authorized = false
	s.mu.Unlock()
	if wasAuthorized {
		s.listeners.emit(web3.EventAccountsChanged, []string{})
	}
}

// On registers a listener.
func (s *SimulatedTransport) On(event string, listener web3.Listener) web3.ListenerID {
	id, _ := s.listeners.add(event, listener)
	return id
}

// RemoveListener unregisters a listener.
func (s *SimulatedTransport) RemoveListener(event string, id web3.ListenerID) {
	s.listeners.remove(event, id)
}

// ListenerCount reports how many listeners are registered for the event.
func (s *SimulatedTransport) ListenerCount(event string) int {
	return s.listeners.count(event)
}

// Request serves the wallet JSON-RPC subset against the simulated chain.
func (s *SimulatedTransport) Request(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	switch method {
	case web3.MethodAccounts:
		s.mu.Lock()
		accounts := s.visibleLocked()
		s.mu.Unlock()
		return json.Marshal(accounts)
	case web3.MethodRequestAccounts:
		return s.requestAccounts(ctx)
	case web3.MethodChainID:
		id, err := s.client.ChainID(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal((*hexutil.Big)(id))
	case web3.MethodGetBalance:
		var addr common.Address
		if err := decodeParam(params, 0, &addr); err != nil {
			return nil, err
		}
		balance, err := s.client.BalanceAt(ctx, addr, nil)
		if err != nil {
			return nil, err
		}
		return json.Marshal((*hexutil.Big)(balance))
	case web3.MethodCall:
		var call web3.CallRequest
		if err := decodeParam(params, 0, &call); err != nil {
			return nil, err
		}
		msg := gethcore.CallMsg{To: &call.To, Data: call.Data}
		if call.From != nil {
			msg.From = *call.From
		}
		out, err := s.client.CallContract(ctx, msg, nil)
		if err != nil {
			return nil, &RPCError{Code: 3, Message: err.Error()}
		}
		return json.Marshal(hexutil.Bytes(out))
	case web3.MethodSendTransaction:
		var req web3.TxRequest
		if err := decodeParam(params, 0, &req); err != nil {
			return nil, err
		}
		hash, err := s.sendTransaction(ctx, req)
		if err != nil {
			return nil, err
		}
		return json.Marshal(hash)
	case web3.MethodTransactionReceipt:
		var hash common.Hash
		if err := decodeParam(params, 0, &hash); err != nil {
			return nil, err
		}
		receipt, err := s.client.TransactionReceipt(ctx, hash)
		if errors.Is(err, gethcore.NotFound) {
			return json.RawMessage("null"), nil
		}
		if err != nil {
			return nil, err
		}
		return json.Marshal(receipt)
	default:
		return nil, &RPCError{Code: CodeMethodNotFound, Message: fmt.Sprintf("the method %s does not exist/is not available", method)}
	}
}

func (s *SimulatedTransport) requestAccounts(ctx context.Context) (json.RawMessage, error) {
	s.mu.Lock()
	s.prompts++
	approver := s.approver
	s.mu.Unlock()

	if approver != nil {
		if err := approver(ctx); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	s.authorized = true
	accounts := s.visibleLocked()
	s.mu.Unlock()
	return json.Marshal(accounts)
}

func (s *SimulatedTransport) sendTransaction(ctx context.Context, req web3.TxRequest) (common.Hash, error) {
	s.mu.Lock()
	key, known := s.keys[req.From]
	authorized := s.authorized
	autoMine := s.autoMine
	s.mu.Unlock()
	if !authorized || !known {
		return common.Hash{}, &RPCError{Code: CodeUnauthorized, Message: "The requested account and/or method has not been authorized by the user."}
	}

	chainID, err := s.client.ChainID(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	nonce, err := s.client.PendingNonceAt(ctx, req.From)
	if err != nil {
		return common.Hash{}, err
	}
	value := new(big.Int)
	if req.Value != nil {
		value = req.Value.ToInt()
	}

	gas := uint64(0)
	if req.Gas != nil {
		gas = uint64(*req.Gas)
	} else {
		gas, err = s.client.EstimateGas(ctx, gethcore.CallMsg{From: req.From, To: req.To, Value: value, Data: req.Data})
		if err != nil {
			return common.Hash{}, &RPCError{Code: CodeInternal, Message: err.Error()}
		}
	}
	tip, err := s.client.SuggestGasTipCap(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	head, err := s.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return common.Hash{}, err
	}
	feeCap := new(big.Int).Add(tip, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        req.To,
		Value:     value,
		Data:      req.Data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("签名交易失败: %w", err)
	}
	if err := s.client.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, &RPCError{Code: CodeInternal, Message: err.Error()}
	}

	s.mu.Lock()
	s.sent = append(s.sent, signed.Hash())
	s.mu.Unlock()
	if autoMine {
		s.backend.Commit()
	}
	return signed.Hash(), nil
}

// visibleLocked returns the exposed accounts if the site is authorized.
func (s *SimulatedTransport) visibleLocked() []string {
	if !s.authorized {
		return []string{}
	}
	out := make([]string, 0, len(s.exposed))
	for _, addr := range s.exposed {
		out = append(out, strings.ToLower(addr.Hex()))
	}
	return out
}

func decodeParam(params []any, index int, out any) error {
	if index >= len(params) {
		return &RPCError{Code: CodeInvalidParams, Message: "missing value for required argument " + fmt.Sprint(index)}
	}
	raw, err := json.Marshal(params[index])
	if err != nil {
		return &RPCError{Code: CodeInvalidParams, Message: err.Error()}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &RPCError{Code: CodeInvalidParams, Message: err.Error()}
	}
	return nil
}
