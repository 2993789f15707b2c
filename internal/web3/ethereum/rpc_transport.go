package ethereum

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"SageChain/internal/web3"
	"SageChain/pkg/logger"
)

const defaultAccountPollInterval = time.Second

// Config describes how to reach a wallet's JSON-RPC endpoint.
type Config struct {
	Name                string
	RPCURL              string
	AccountPollInterval time.Duration
}

// RPCTransport forwards wallet requests to a JSON-RPC endpoint that manages
// the user's keys (a node with unlocked accounts, Clef, or a relay).
//
// JSON-RPC has no account-change push, so accountsChanged is derived by
// polling eth_accounts while at least one listener is registered.
type RPCTransport struct {
	name         string
	client       *gethrpc.Client
	pollInterval time.Duration
	listeners    *listenerSet
	log          *slog.Logger

	mu         sync.Mutex
	closed     bool
	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

// NewRPCTransport dials the configured endpoint.
func NewRPCTransport(ctx context.Context, cfg Config) (*RPCTransport, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置钱包 RPC 地址")
	}
	client, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接钱包节点失败: %w", err)
	}
	interval := cfg.AccountPollInterval
	if interval <= 0 {
		interval = defaultAccountPollInterval
	}
	return &RPCTransport{
		name:         cfg.Name,
		client:       client,
		pollInterval: interval,
		listeners:    newListenerSet(),
		log:          logger.Named("transport").With(slog.String("wallet", cfg.Name)),
	}, nil
}

// Available reports whether the transport can still serve requests.
func (t *RPCTransport) Available() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.closed
}

// Request performs a single JSON-RPC call and returns the raw result.
func (t *RPCTransport) Request(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	if !t.Available() {
		return nil, &RPCError{Code: CodeUnauthorized, Message: "wallet transport closed"}
	}
	var result json.RawMessage
	if err := t.client.CallContext(ctx, &result, method, params...); err != nil {
		return nil, err
	}
	return result, nil
}

// On registers an account-change listener and starts the poller if needed.
func (t *RPCTransport) On(event string, listener web3.Listener) web3.ListenerID {
	id, count := t.listeners.add(event, listener)
	if event == web3.EventAccountsChanged && count == 1 {
		t.startPolling()
	}
	return id
}

// RemoveListener unregisters a listener and stops the poller when none remain.
func (t *RPCTransport) RemoveListener(event string, id web3.ListenerID) {
	if remaining := t.listeners.remove(event, id); event == web3.EventAccountsChanged && remaining == 0 {
		// Listeners may be removed from inside a poller callback, so do not wait.
		t.stopPolling(false)
	}
}

// Close stops the poller and releases the RPC connection.
func (t *RPCTransport) Close() {
	t.stopPolling(true)
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	t.client.Close()
}

func (t *RPCTransport) startPolling() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.pollCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	t.pollCancel = cancel
	t.pollDone = done
	go t.pollAccounts(ctx, done)
}

func (t *RPCTransport) stopPolling(wait bool) {
	t.mu.Lock()
	cancel, done := t.pollCancel, t.pollDone
	t.pollCancel, t.pollDone = nil, nil
	t.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	if wait {
		<-done
	}
}

func (t *RPCTransport) pollAccounts(ctx context.Context, done chan struct{}) {
	defer close(done)

	last, err := t.fetchAccounts(ctx)
	if err != nil && ctx.Err() == nil {
		t.log.Warn("首次读取账户失败", slog.Any("error", err))
	}

	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			current, err := t.fetchAccounts(ctx)
			if err != nil {
				if ctx.Err() == nil {
					t.log.Warn("轮询账户失败", slog.Any("error", err))
				}
				continue
			}
			if slices.Equal(current, last) || ctx.Err() != nil {
				continue
			}
			last = current
			t.listeners.emit(web3.EventAccountsChanged, current)
		}
	}
}

func (t *RPCTransport) fetchAccounts(ctx context.Context) ([]string, error) {
	var accounts []string
	if err := t.client.CallContext(ctx, &accounts, web3.MethodAccounts); err != nil {
		return nil, err
	}
	for i := range accounts {
		accounts[i] = strings.ToLower(accounts[i])
	}
	return accounts, nil
}
