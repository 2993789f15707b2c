package wallet

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	xerrors "SageChain/internal/errors"
	"SageChain/internal/web3"
	"SageChain/internal/web3/contracts"
	"SageChain/internal/web3/provider"
	"SageChain/pkg/logger"
)

const defaultChangeTimeout = 30 * time.Second

// Tracker keeps the session's account and balance in sync with the wallet.
type Tracker struct {
	store    *store
	bindings *contracts.Bindings
	log      *slog.Logger
	timeout  time.Duration

	// changeMu serializes account-change handling.
	changeMu sync.Mutex

	mu      sync.Mutex
	adapter *provider.Adapter
	sub     *provider.Subscription
}

func newTracker(st *store, bindings *contracts.Bindings) *Tracker {
	return &Tracker{
		store:    st,
		bindings: bindings,
		log:      logger.Named("tracker"),
		timeout:  defaultChangeTimeout,
	}
}

func (t *Tracker) bind(adapter *provider.Adapter) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.adapter = adapter
}

func (t *Tracker) currentAdapter() *provider.Adapter {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.adapter
}

// RefreshBalance reads the native balance of address and formats it with four
// fractional digits. Failures yield the "Unable to fetch" placeholder.
func (t *Tracker) RefreshBalance(ctx context.Context, address string) string {
	adapter := t.currentAdapter()
	if adapter == nil || !common.IsHexAddress(address) {
		t.log.Warn("无法读取余额", slog.String("address", address))
		return contracts.BalanceUnavailable
	}
	wei, err := adapter.Balance(ctx, common.HexToAddress(address))
	if err != nil {
		t.log.Warn("读取余额失败", slog.String("address", address), slog.Any("error", err))
		return contracts.BalanceUnavailable
	}
	return contracts.FormatEther(wei)
}

// TokenBalance reads the connected account's ERC-20 balance of token.
func (t *Tracker) TokenBalance(ctx context.Context, token common.Address) (string, error) {
	snapshot := t.store.snapshot()
	adapter := t.currentAdapter()
	if !snapshot.Connected() || adapter == nil {
		return "", xerrors.New(xerrors.CodeNotConnected, "")
	}
	if t.bindings == nil {
		return "", xerrors.New(xerrors.CodeInitialization, "token contract bindings are not configured")
	}
	owner := common.HexToAddress(snapshot.Address)
	data, err := t.bindings.PackBalanceOf(owner)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeInvalidArgument, err, "")
	}
	out, err := adapter.Call(ctx, web3.CallRequest{From: &owner, To: token, Data: data})
	if err != nil {
		return "", err
	}
	balance, err := t.bindings.UnpackBalanceOf(out)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeProviderError, err, "token balance could not be read",
			xerrors.WithMetadata("token", token.Hex()))
	}
	return contracts.FormatToken(balance), nil
}

// OnAccountsChanged applies a wallet account-change notification.
//
// An empty list ends the session. Otherwise the primary account is adopted and
// its balance re-read; a list whose primary account is already the connected
// address is ignored.
func (t *Tracker) OnAccountsChanged(accounts []string) {
	t.changeMu.Lock()
	defer t.changeMu.Unlock()

	primary, ok := PrimaryAccount(accounts)
	if !ok {
		t.Detach()
		if t.store.reset() {
			logger.Audit().Info("wallet_disconnected", slog.String("reason", "accounts_revoked"))
		}
		return
	}
	if !common.IsHexAddress(primary) {
		t.log.Warn("忽略无效账户地址", slog.String("account", primary))
		return
	}
	address := common.HexToAddress(primary).Hex()

	gen, snapshot := t.store.current()
	if snapshot.ConnectionState == StateConnected && strings.EqualFold(snapshot.Address, address) {
		return
	}
	if snapshot.ConnectionState != StateConnected {
		// Changes only matter for an established session.
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()
	balance := t.RefreshBalance(ctx, address)

	applied := t.store.commitIf(gen, func(ws *WalletSession) {
		ws.Address = address
		ws.BalanceDisplay = balance
		ws.ConnectionState = StateConnected
	})
	if !applied {
		t.log.Debug("丢弃过期的账户变更", slog.String("address", address))
		return
	}
	logger.Audit().Info("wallet_account_changed",
		slog.String("from", snapshot.Address),
		slog.String("to", address))
}

// Attach subscribes to the adapter's account changes, replacing any previous
// subscription.
func (t *Tracker) Attach(adapter *provider.Adapter) error {
	t.Detach()
	sub, err := adapter.Subscribe(web3.EventAccountsChanged, t.OnAccountsChanged)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.adapter = adapter
	t.sub = sub
	t.mu.Unlock()
	return nil
}

// Detach releases the account-change subscription, if any.
func (t *Tracker) Detach() {
	t.mu.Lock()
	sub := t.sub
	t.sub = nil
	t.mu.Unlock()
	sub.Close()
}

// refresh re-reads the connected account's balance once.
func (t *Tracker) refresh(ctx context.Context) {
	gen, snapshot := t.store.current()
	if !snapshot.Connected() {
		return
	}
	balance := t.RefreshBalance(ctx, snapshot.Address)
	if ctx.Err() != nil {
		return
	}
	t.store.commitIf(gen, func(ws *WalletSession) {
		if ws.Connected() && ws.Address == snapshot.Address {
			ws.BalanceDisplay = balance
		}
	})
}
