package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	xerrors "SageChain/internal/errors"
	"SageChain/internal/observability/metrics"
	"SageChain/internal/web3"
	"SageChain/pkg/logger"
)

// CodeInternal is used for transport failures that carry no wallet code.
const CodeInternal = -32603

const unavailableMessage = "no wallet provider found, install a browser wallet extension"

var allowedMethods = map[string]struct{}{
	web3.MethodAccounts:           {},
	web3.MethodRequestAccounts:    {},
	web3.MethodGetBalance:         {},
	web3.MethodSendTransaction:    {},
	web3.MethodCall:               {},
	web3.MethodTransactionReceipt: {},
	web3.MethodChainID:            {},
}

// ProviderError is a failure reported by the wallet or its transport. The
// message is kept exactly as the wallet produced it.
type ProviderError struct {
	Code    int
	Message string
	cause   error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error %d: %s", e.Code, e.Message)
}

// ErrorCode returns the wallet's numeric code.
func (e *ProviderError) ErrorCode() int { return e.Code }

func (e *ProviderError) Unwrap() error { return e.cause }

// Locator reports the transport present at call time, if any.
type Locator func() (web3.Transport, bool)

// Static always locates the given transport. A nil transport is reported as absent.
func Static(t web3.Transport) Locator {
	return func() (web3.Transport, bool) { return t, t != nil }
}

// Unavailable never locates a transport.
func Unavailable() Locator {
	return func() (web3.Transport, bool) { return nil, false }
}

// Slot holds a transport that can appear and disappear at runtime.
type Slot struct {
	mu        sync.RWMutex
	transport web3.Transport
}

// Set installs the transport.
func (s *Slot) Set(t web3.Transport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transport = t
}

// Clear removes the transport.
func (s *Slot) Clear() { s.Set(nil) }

// Locate implements Locator.
func (s *Slot) Locate() (web3.Transport, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.transport, s.transport != nil
}

// Adapter is the only path through which the client talks to a wallet.
type Adapter struct {
	kind   Kind
	locate Locator
	log    *slog.Logger
}

// NewAdapter creates an adapter for the wallet kind. A nil locator never
// finds a transport.
func NewAdapter(kind Kind, locate Locator) *Adapter {
	if locate == nil {
		locate = Unavailable()
	}
	return &Adapter{
		kind:   kind,
		locate: locate,
		log:    logger.Named("provider").With(slog.String("wallet", string(kind))),
	}
}

// Kind returns the wallet kind served by the adapter.
func (a *Adapter) Kind() Kind { return a.kind }

// Available reports whether a transport is currently present.
func (a *Adapter) Available() bool {
	_, ok := a.locate()
	return ok
}

// Request forwards an allowed method to the wallet and returns the raw result.
func (a *Adapter) Request(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	if _, ok := allowedMethods[method]; !ok {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("method %s is not allowed", method),
			xerrors.WithMetadata("method", method))
	}
	transport, ok := a.locate()
	if !ok {
		return nil, xerrors.New(xerrors.CodeProviderUnavailable, unavailableMessage,
			xerrors.WithMetadata("wallet", string(a.kind)))
	}
	copied, err := copyParams(params)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "request parameters cannot be encoded",
			xerrors.WithMetadata("method", method))
	}

	start := time.Now()
	result, err := transport.Request(ctx, method, copied)
	metrics.ObserveProviderRequest(string(a.kind), method, err, time.Since(start))
	if err != nil {
		a.log.Debug("钱包请求失败", slog.String("method", method), slog.Any("error", err))
		return nil, tagProviderError(method, err)
	}
	return result, nil
}

// Subscribe registers a listener on the current transport. Closing the returned
// handle removes the listener from that same transport.
func (a *Adapter) Subscribe(event string, fn web3.Listener) (*Subscription, error) {
	if fn == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "listener must not be nil")
	}
	transport, ok := a.locate()
	if !ok {
		return nil, xerrors.New(xerrors.CodeProviderUnavailable, unavailableMessage,
			xerrors.WithMetadata("wallet", string(a.kind)))
	}
	id := transport.On(event, fn)
	return &Subscription{transport: transport, event: event, id: id}, nil
}

// Subscription is a disposable listener registration.
type Subscription struct {
	once      sync.Once
	transport web3.Transport
	event     string
	id        web3.ListenerID
}

// Close removes the listener. Subsequent calls are no-ops.
func (s *Subscription) Close() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.transport.RemoveListener(s.event, s.id)
	})
}

// Accounts returns the already-authorized accounts without prompting.
func (a *Adapter) Accounts(ctx context.Context) ([]common.Address, error) {
	return a.accounts(ctx, web3.MethodAccounts)
}

// RequestAccounts asks the wallet to grant account access, prompting the user
// if needed.
func (a *Adapter) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	return a.accounts(ctx, web3.MethodRequestAccounts)
}

func (a *Adapter) accounts(ctx context.Context, method string) ([]common.Address, error) {
	raw, err := a.Request(ctx, method, nil)
	if err != nil {
		return nil, err
	}
	var accounts []common.Address
	if err := decodeResult(method, raw, &accounts); err != nil {
		return nil, err
	}
	return accounts, nil
}

// Balance returns the latest balance of the address in wei.
func (a *Adapter) Balance(ctx context.Context, address common.Address) (*big.Int, error) {
	raw, err := a.Request(ctx, web3.MethodGetBalance, []any{address, "latest"})
	if err != nil {
		return nil, err
	}
	var balance hexutil.Big
	if err := decodeResult(web3.MethodGetBalance, raw, &balance); err != nil {
		return nil, err
	}
	return balance.ToInt(), nil
}

// ChainID returns the chain the wallet is connected to.
func (a *Adapter) ChainID(ctx context.Context) (*big.Int, error) {
	raw, err := a.Request(ctx, web3.MethodChainID, nil)
	if err != nil {
		return nil, err
	}
	var id hexutil.Big
	if err := decodeResult(web3.MethodChainID, raw, &id); err != nil {
		return nil, err
	}
	return id.ToInt(), nil
}

// Call executes a read-only contract call against the latest block.
func (a *Adapter) Call(ctx context.Context, call web3.CallRequest) ([]byte, error) {
	raw, err := a.Request(ctx, web3.MethodCall, []any{call, "latest"})
	if err != nil {
		return nil, err
	}
	var out hexutil.Bytes
	if err := decodeResult(web3.MethodCall, raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SendTransaction asks the wallet to sign and broadcast the transaction.
func (a *Adapter) SendTransaction(ctx context.Context, tx web3.TxRequest) (common.Hash, error) {
	raw, err := a.Request(ctx, web3.MethodSendTransaction, []any{tx})
	if err != nil {
		return common.Hash{}, err
	}
	var hash common.Hash
	if err := decodeResult(web3.MethodSendTransaction, raw, &hash); err != nil {
		return common.Hash{}, err
	}
	return hash, nil
}

// TransactionReceipt returns the receipt, or nil while the transaction is pending.
func (a *Adapter) TransactionReceipt(ctx context.Context, hash common.Hash) (*web3.Receipt, error) {
	raw, err := a.Request(ctx, web3.MethodTransactionReceipt, []any{hash})
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var receipt web3.Receipt
	if err := decodeResult(web3.MethodTransactionReceipt, raw, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

// copyParams round-trips every parameter through JSON so the transport never
// shares memory with the caller.
func copyParams(params []any) ([]any, error) {
	if len(params) == 0 {
		return nil, nil
	}
	out := make([]any, len(params))
	for i, p := range params {
		raw, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("参数 %d 序列化失败: %w", i, err)
		}
		out[i] = json.RawMessage(raw)
	}
	return out, nil
}

func tagProviderError(method string, err error) error {
	perr := &ProviderError{Code: CodeInternal, Message: err.Error(), cause: err}
	var coded interface{ ErrorCode() int }
	if errors.As(err, &coded) {
		perr.Code = coded.ErrorCode()
	}
	return xerrors.Wrap(xerrors.CodeProviderError, perr, perr.Message,
		xerrors.WithMetadata("method", method),
		xerrors.WithMetadata("rpc_code", strconv.Itoa(perr.Code)))
}

// decodeResult reports malformed wallet output as a plain error so callers
// can classify it themselves.
func decodeResult(method string, raw json.RawMessage, out any) error {
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("解析 %s 返回值失败: %w", method, err)
	}
	return nil
}

// AsProviderError extracts the wallet error from err.
func AsProviderError(err error) (*ProviderError, bool) {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr, true
	}
	return nil, false
}
