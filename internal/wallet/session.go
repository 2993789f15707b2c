package wallet

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	xerrors "SageChain/internal/errors"
	"SageChain/internal/observability/metrics"
	"SageChain/internal/web3/contracts"
	"SageChain/internal/web3/provider"
	"SageChain/pkg/logger"
)

// AdapterSource resolves wallet kinds to provider adapters.
type AdapterSource interface {
	Adapter(kind provider.Kind) *provider.Adapter
	DefaultKind() provider.Kind
}

// Option customises a Session.
type Option func(*Session)

// WithBindings enables token balance reads.
func WithBindings(b *contracts.Bindings) Option {
	return func(s *Session) {
		s.bindings = b
	}
}

// Session is the façade through which the rest of the client connects to a
// wallet and observes the resulting session.
type Session struct {
	adapters AdapterSource
	bindings *contracts.Bindings
	store    *store
	tracker  *Tracker
	log      *slog.Logger

	mu         sync.Mutex
	connecting bool
}

// NewSession creates a disconnected session.
func NewSession(adapters AdapterSource, opts ...Option) *Session {
	s := &Session{
		adapters: adapters,
		store:    newStore(),
		log:      logger.Named("wallet"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.tracker = newTracker(s.store, s.bindings)
	return s
}

// Tracker exposes the account tracker.
func (s *Session) Tracker() *Tracker { return s.tracker }

// State returns a copy of the current session.
func (s *Session) State() WalletSession {
	return s.store.snapshot()
}

// Subscribe registers fn for every session change. The returned function
// removes the subscription and may be called more than once.
func (s *Session) Subscribe(fn func(WalletSession)) func() {
	if fn == nil {
		return func() {}
	}
	return s.store.subscribe(fn)
}

// Adapter returns the adapter of the connected wallet, or nil.
func (s *Session) Adapter() *provider.Adapter {
	if !s.store.snapshot().Connected() {
		return nil
	}
	return s.tracker.currentAdapter()
}

// Active returns the connected adapter and account, or NOT_CONNECTED.
func (s *Session) Active() (*provider.Adapter, common.Address, error) {
	snapshot := s.store.snapshot()
	adapter := s.tracker.currentAdapter()
	if !snapshot.Connected() || adapter == nil {
		return nil, common.Address{}, xerrors.New(xerrors.CodeNotConnected, "")
	}
	return adapter, common.HexToAddress(snapshot.Address), nil
}

func (s *Session) beginConnect() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connecting {
		return false
	}
	s.connecting = true
	return true
}

func (s *Session) endConnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connecting = false
}

// Connect asks the wallet of the given kind for account access and adopts its
// primary account. A call made while another connect is in flight fails with
// ALREADY_CONNECTING without prompting the wallet.
func (s *Session) Connect(ctx context.Context, kind provider.Kind) (WalletSession, error) {
	if kind == "" || kind == provider.KindNone {
		kind = s.adapters.DefaultKind()
	}
	if !s.beginConnect() {
		metrics.ConnectAttemptsTotal.WithLabelValues(string(kind), "already_connecting").Inc()
		return s.State(), xerrors.New(xerrors.CodeAlreadyConnecting, "")
	}
	defer s.endConnect()

	adapter := s.adapters.Adapter(kind)
	if !adapter.Available() {
		metrics.ConnectAttemptsTotal.WithLabelValues(string(kind), "unavailable").Inc()
		return s.State(), xerrors.New(xerrors.CodeProviderUnavailable, "no wallet provider found, install a browser wallet extension",
			xerrors.WithMetadata("wallet", string(kind)))
	}

	// An established session survives a failed reconnect; its account
	// subscription stays attached until a new one replaces it.
	prior := s.store.snapshot()
	gen := s.store.advance()
	s.store.commitIf(gen, func(ws *WalletSession) {
		*ws = WalletSession{WalletKind: kind, ConnectionState: StateConnecting}
	})

	accounts, err := adapter.RequestAccounts(ctx)
	if err != nil {
		return s.failConnect(gen, kind, prior, classify(err))
	}
	primary, ok := PrimaryAccount(accountStrings(accounts))
	if !ok {
		return s.failConnect(gen, kind, prior, xerrors.New(xerrors.CodeNotConnected, "wallet returned no accounts"))
	}

	s.tracker.bind(adapter)
	balance := s.tracker.RefreshBalance(ctx, primary)
	// Subscribe first so a subscriber that disconnects from its callback
	// also releases this listener.
	if err := s.tracker.Attach(adapter); err != nil {
		s.log.Warn("订阅账户变更失败", slog.Any("error", err))
	}
	applied := s.store.commitIf(gen, func(ws *WalletSession) {
		*ws = WalletSession{
			Address:         primary,
			BalanceDisplay:  balance,
			WalletKind:      kind,
			ConnectionState: StateConnected,
		}
	})
	if !applied {
		s.tracker.Detach()
		metrics.ConnectAttemptsTotal.WithLabelValues(string(kind), "superseded").Inc()
		return s.State(), xerrors.New(xerrors.CodeNotConnected, "session was disconnected while connecting")
	}

	metrics.ConnectAttemptsTotal.WithLabelValues(string(kind), "connected").Inc()
	logger.Audit().Info("wallet_connected",
		slog.String("wallet", string(kind)),
		slog.String("address", primary))
	return s.State(), nil
}

func (s *Session) failConnect(gen uint64, kind provider.Kind, prior WalletSession, err error) (WalletSession, error) {
	s.store.commitIf(gen, func(ws *WalletSession) {
		if prior.Connected() {
			*ws = prior
			return
		}
		*ws = disconnectedSession()
	})
	metrics.ConnectAttemptsTotal.WithLabelValues(string(kind), "failed").Inc()
	s.log.Info("连接钱包失败", slog.String("wallet", string(kind)), slog.Any("error", err))
	return s.State(), err
}

// Restore adopts an account the default wallet has already authorized,
// without prompting. It leaves the session untouched when there is none.
func (s *Session) Restore(ctx context.Context) (WalletSession, error) {
	kind := s.adapters.DefaultKind()
	if !s.beginConnect() {
		return s.State(), xerrors.New(xerrors.CodeAlreadyConnecting, "")
	}
	defer s.endConnect()

	if s.State().Connected() {
		return s.State(), nil
	}
	adapter := s.adapters.Adapter(kind)
	if !adapter.Available() {
		return s.State(), xerrors.New(xerrors.CodeProviderUnavailable, "no wallet provider found, install a browser wallet extension",
			xerrors.WithMetadata("wallet", string(kind)))
	}

	gen := s.store.advance()
	accounts, err := adapter.Accounts(ctx)
	if err != nil {
		return s.State(), classify(err)
	}
	primary, ok := PrimaryAccount(accountStrings(accounts))
	if !ok {
		return s.State(), nil
	}

	s.tracker.bind(adapter)
	balance := s.tracker.RefreshBalance(ctx, primary)
	if err := s.tracker.Attach(adapter); err != nil {
		s.log.Warn("订阅账户变更失败", slog.Any("error", err))
	}
	if !s.store.commitIf(gen, func(ws *WalletSession) {
		*ws = WalletSession{Address: primary, BalanceDisplay: balance, WalletKind: kind, ConnectionState: StateConnected}
	}) {
		s.tracker.Detach()
		return s.State(), nil
	}
	metrics.ConnectAttemptsTotal.WithLabelValues(string(kind), "restored").Inc()
	logger.Audit().Info("wallet_restored", slog.String("wallet", string(kind)), slog.String("address", primary))
	return s.State(), nil
}

// Disconnect forgets the local session. It does not revoke the site's
// authorization inside the wallet. Calling it repeatedly is harmless.
func (s *Session) Disconnect() WalletSession {
	s.tracker.Detach()
	if s.store.reset() {
		logger.Audit().Info("wallet_disconnected", slog.String("reason", "user"))
	}
	return s.State()
}

// Close releases the account-change subscription.
func (s *Session) Close() {
	s.tracker.Detach()
}

// StartBalanceRefresh re-reads the connected account's balance every interval
// until stop is called or ctx ends. Once stop returns no further refresh runs.
func (s *Session) StartBalanceRefresh(ctx context.Context, interval time.Duration) (stop func()) {
	if interval <= 0 {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tracker.refresh(ctx)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}

// TokenBalance reads the connected account's balance of an ERC-20 token.
func (s *Session) TokenBalance(ctx context.Context, token common.Address) (string, error) {
	return s.tracker.TokenBalance(ctx, token)
}

func accountStrings(accounts []common.Address) []string {
	out := make([]string, len(accounts))
	for i, a := range accounts {
		out[i] = a.Hex()
	}
	return out
}

// classify turns uncoded adapter failures into PROVIDER_ERROR.
func classify(err error) error {
	if _, ok := xerrors.From(err); ok {
		return err
	}
	return xerrors.Wrap(xerrors.CodeProviderError, err, "wallet returned a malformed response")
}
