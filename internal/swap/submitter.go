package swap

import (
	"context"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"

	xerrors "SageChain/internal/errors"
	"SageChain/internal/observability/metrics"
	"SageChain/internal/web3"
	"SageChain/internal/web3/contracts"
	"SageChain/internal/web3/provider"
	"SageChain/pkg/logger"
)

const (
	defaultConfirmationTimeout = 2 * time.Minute
	defaultPollInterval        = time.Second

	approvalPendingMessage = "The token approval is not confirmed yet. Retry the swap once it is."
)

// Account exposes the connected wallet to the submitter.
type Account interface {
	Active() (*provider.Adapter, common.Address, error)
}

// Option 定义可选配置。
type Option func(*Submitter)

// WithObserver registers an observer for every transaction transition.
func WithObserver(o Observer) Option {
	return func(s *Submitter) {
		if o != nil {
			s.observers = append(s.observers, o)
		}
	}
}

// WithConfirmationTimeout bounds the local wait for a receipt.
func WithConfirmationTimeout(d time.Duration) Option {
	return func(s *Submitter) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithPollInterval sets how often receipts are polled.
func WithPollInterval(d time.Duration) Option {
	return func(s *Submitter) {
		if d > 0 {
			s.interval = d
		}
	}
}

// Submitter builds, submits and confirms the swap contract transactions of a
// single wallet session. Only one submission runs at a time.
type Submitter struct {
	account  Account
	bindings *contracts.Bindings
	timeout  time.Duration
	interval time.Duration
	log      *slog.Logger

	observerMu sync.RWMutex
	observers  []Observer

	inFlight atomic.Bool
}

// NewSubmitter creates a submitter bound to the session's account.
func NewSubmitter(account Account, bindings *contracts.Bindings, opts ...Option) *Submitter {
	s := &Submitter{
		account:  account,
		bindings: bindings,
		timeout:  defaultConfirmationTimeout,
		interval: defaultPollInterval,
		log:      logger.Named("swap"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// AddObserver registers an observer after construction.
func (s *Submitter) AddObserver(o Observer) {
	if o == nil {
		return
	}
	s.observerMu.Lock()
	defer s.observerMu.Unlock()
	s.observers = append(s.observers, o)
}

// Buy purchases tokens from the swap contract with ethAmount of native currency.
func (s *Submitter) Buy(ctx context.Context, ethAmount string) (*PendingTransaction, error) {
	return s.submitNative(ctx, KindBuy, ethAmount, s.bindings.PackBuy)
}

// SwapNativeForToken swaps ethAmount of native currency for the swap
// contract's output token.
func (s *Submitter) SwapNativeForToken(ctx context.Context, ethAmount string) (*PendingTransaction, error) {
	return s.submitNative(ctx, KindSwapNative, ethAmount, s.bindings.PackNativeSwap)
}

func (s *Submitter) submitNative(ctx context.Context, kind Kind, amount string, pack func() ([]byte, error)) (*PendingTransaction, error) {
	wei, err := contracts.ParseUnits(amount, contracts.NativeDecimals)
	if err != nil {
		return nil, err
	}
	adapter, from, err := s.account.Active()
	if err != nil {
		return nil, err
	}
	if !s.inFlight.CompareAndSwap(false, true) {
		return nil, xerrors.New(xerrors.CodeTxInProgress, "")
	}
	defer s.inFlight.Store(false)

	tx := s.begin(kind, amount)
	data, err := pack()
	if err != nil {
		return s.fail(tx, err)
	}
	to := s.bindings.SwapAddress()
	return s.execute(ctx, adapter, tx, web3.TxRequest{
		From:  from,
		To:    &to,
		Value: (*hexutil.Big)(wei),
		Data:  data,
	})
}

// SwapTokenForToken swaps amount of tokenIn for tokenOut. When the swap
// contract's allowance on tokenIn is below amount, an approval is submitted
// and confirmed first.
func (s *Submitter) SwapTokenForToken(ctx context.Context, tokenIn, tokenOut, amount string) (*PendingTransaction, error) {
	in, err := parseToken("token_in", tokenIn)
	if err != nil {
		return nil, err
	}
	out, err := parseToken("token_out", tokenOut)
	if err != nil {
		return nil, err
	}
	if in == out {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "token_in and token_out must differ")
	}
	value, err := contracts.ParseUnits(amount, contracts.TokenDecimals)
	if err != nil {
		return nil, err
	}
	adapter, owner, err := s.account.Active()
	if err != nil {
		return nil, err
	}
	if !s.inFlight.CompareAndSwap(false, true) {
		return nil, xerrors.New(xerrors.CodeTxInProgress, "")
	}
	defer s.inFlight.Store(false)

	tx := s.begin(KindSwapToken, amount)
	spender := s.bindings.SwapAddress()

	allowance, err := s.allowance(ctx, adapter, in, owner, spender)
	if err != nil {
		return s.fail(tx, err)
	}
	if allowance.Cmp(value) < 0 {
		approveData, err := s.bindings.PackApprove(spender, value)
		if err != nil {
			return s.fail(tx, err)
		}
		approval := s.begin(KindApprove, amount)
		pending, err := s.execute(ctx, adapter, approval, web3.TxRequest{From: owner, To: &in, Data: approveData})
		if xerrors.HasCode(err, xerrors.CodeConfirmationTimeout) {
			// The approval may still land; hand back its record so it can be tracked.
			s.abandon(tx, approvalPendingMessage, err)
			return pending, err
		}
		if err != nil {
			return s.abandon(tx, xerrors.UserMessage(err), err), err
		}
	}

	data, err := s.bindings.PackSwapToken(in, out, value)
	if err != nil {
		return s.fail(tx, err)
	}
	return s.execute(ctx, adapter, tx, web3.TxRequest{From: owner, To: &spender, Data: data})
}

func (s *Submitter) allowance(ctx context.Context, adapter *provider.Adapter, token, owner, spender common.Address) (*big.Int, error) {
	data, err := s.bindings.PackAllowance(owner, spender)
	if err != nil {
		return nil, err
	}
	out, err := adapter.Call(ctx, web3.CallRequest{From: &owner, To: token, Data: data})
	if err != nil {
		return nil, err
	}
	return s.bindings.UnpackAllowance(out)
}

// execute asks the wallet to sign tx and waits for one confirmation.
func (s *Submitter) execute(ctx context.Context, adapter *provider.Adapter, tx *PendingTransaction, req web3.TxRequest) (*PendingTransaction, error) {
	s.transition(tx, StatusAwaitingSignature)
	hash, err := adapter.SendTransaction(ctx, req)
	if err != nil {
		return s.fail(tx, err)
	}

	tx.Hash = hash.Hex()
	s.transition(tx, StatusSubmitted)
	logger.Audit().Info("transaction_submitted",
		slog.String("id", tx.ID),
		slog.String("kind", string(tx.Kind)),
		slog.String("amount", tx.Amount),
		slog.String("hash", tx.Hash))

	receipt, err := s.waitForReceipt(ctx, adapter, hash)
	if err != nil {
		metrics.TransactionsTotal.WithLabelValues(string(tx.Kind), "timeout").Inc()
		logger.Audit().Warn("transaction_unconfirmed",
			slog.String("id", tx.ID),
			slog.String("hash", tx.Hash),
			slog.Any("error", err))
		result := *tx
		return &result, err
	}
	if !receipt.Succeeded() {
		return s.fail(tx, xerrors.New(xerrors.CodeTxFailed, "transaction reverted",
			xerrors.WithMetadata("hash", tx.Hash)))
	}

	s.transition(tx, StatusConfirmed)
	metrics.TransactionsTotal.WithLabelValues(string(tx.Kind), string(StatusConfirmed)).Inc()
	logger.Audit().Info("transaction_confirmed",
		slog.String("id", tx.ID),
		slog.String("kind", string(tx.Kind)),
		slog.String("hash", tx.Hash))
	result := *tx
	return &result, nil
}

// waitForReceipt polls until the receipt appears or the confirmation window
// closes. Read failures while polling are logged and retried.
func (s *Submitter) waitForReceipt(ctx context.Context, adapter *provider.Adapter, hash common.Hash) (*web3.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		receipt, err := adapter.TransactionReceipt(waitCtx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && waitCtx.Err() == nil {
			s.log.Debug("查询交易回执失败", slog.String("hash", hash.Hex()), slog.Any("error", err))
		}
		select {
		case <-waitCtx.Done():
			return nil, xerrors.Wrap(xerrors.CodeConfirmationTimeout, waitCtx.Err(), "",
				xerrors.WithMetadata("hash", hash.Hex()))
		case <-ticker.C:
		}
	}
}

func (s *Submitter) begin(kind Kind, amount string) *PendingTransaction {
	now := time.Now().UTC()
	tx := &PendingTransaction{
		ID:        uuid.NewString(),
		Kind:      kind,
		Amount:    amount,
		Status:    StatusBuilding,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.notify(*tx)
	return tx
}

func (s *Submitter) transition(tx *PendingTransaction, status Status) {
	tx.Status = status
	tx.UpdatedAt = time.Now().UTC()
	s.notify(*tx)
}

// fail marks tx failed. Wallet errors and timeouts are surfaced unchanged,
// anything else is reported as TRANSACTION_FAILED with the cause logged.
func (s *Submitter) fail(tx *PendingTransaction, cause error) (*PendingTransaction, error) {
	surfaced := cause
	switch xerrors.CodeOf(cause) {
	case xerrors.CodeProviderError, xerrors.CodeProviderUnavailable, xerrors.CodeConfirmationTimeout, xerrors.CodeTxFailed:
	default:
		surfaced = xerrors.Wrap(xerrors.CodeTxFailed, cause, "")
	}

	hash := tx.Hash
	tx.Hash = ""
	tx.ErrorMessage = xerrors.UserMessage(surfaced)
	s.transition(tx, StatusFailed)
	metrics.TransactionsTotal.WithLabelValues(string(tx.Kind), string(StatusFailed)).Inc()

	s.log.Warn("交易失败",
		slog.String("id", tx.ID),
		slog.String("kind", string(tx.Kind)),
		slog.Any("error", cause))
	logger.Audit().Warn("transaction_failed",
		slog.String("id", tx.ID),
		slog.String("kind", string(tx.Kind)),
		slog.String("amount", tx.Amount),
		slog.String("hash", hash),
		slog.String("cause", cause.Error()))

	result := *tx
	return &result, surfaced
}

// abandon closes tx when an earlier step of the same operation failed. That
// step has already been counted and audited, so only observers learn of it.
func (s *Submitter) abandon(tx *PendingTransaction, message string, cause error) *PendingTransaction {
	tx.ErrorMessage = message
	s.transition(tx, StatusFailed)
	s.log.Debug("交易未提交",
		slog.String("id", tx.ID),
		slog.String("kind", string(tx.Kind)),
		slog.Any("error", cause))
	result := *tx
	return &result
}

func (s *Submitter) notify(tx PendingTransaction) {
	s.observerMu.RLock()
	observers := append([]Observer(nil), s.observers...)
	s.observerMu.RUnlock()
	for _, o := range observers {
		o(tx)
	}
}

func parseToken(field, value string) (common.Address, error) {
	value = strings.TrimSpace(value)
	if !common.IsHexAddress(value) {
		return common.Address{}, xerrors.New(xerrors.CodeInvalidArgument, field+" is not a valid address",
			xerrors.WithMetadata(field, value))
	}
	addr := common.HexToAddress(value)
	if addr == (common.Address{}) {
		return common.Address{}, xerrors.New(xerrors.CodeInvalidArgument, field+" must not be the zero address")
	}
	return addr, nil
}
