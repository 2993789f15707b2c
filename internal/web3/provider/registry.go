package provider

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"SageChain/internal/config"
	xerrors "SageChain/internal/errors"
	"SageChain/internal/web3"
	"SageChain/internal/web3/contracts"
	"SageChain/internal/web3/ethereum"
)

// Kind identifies a wallet family the user can connect with.
type Kind string

const (
	KindMetaMask Kind = "metamask"
	KindRelay    Kind = "relay"
	KindNone     Kind = "none"
)

// ParseKind validates a wallet kind name. An empty name selects fallback.
func ParseKind(name string, fallback Kind) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(name))) {
	case "":
		return fallback, nil
	case KindMetaMask:
		return KindMetaMask, nil
	case KindRelay:
		return KindRelay, nil
	default:
		return KindNone, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("unsupported wallet kind %q", name),
			xerrors.WithMetadata("wallet_kind", name))
	}
}

// Registry manages the wallet adapters keyed by wallet kind.
type Registry struct {
	defaultKind Kind

	mu        sync.RWMutex
	adapters  map[Kind]*Adapter
	closers   []func()
	simulated *ethereum.SimulatedTransport
}

// NewRegistry builds adapters for every configured wallet kind. Kinds without
// an endpoint are registered with a locator that never finds a transport.
func NewRegistry(ctx context.Context, cfg config.WalletsConfig, sim config.SimulatedConfig) (*Registry, error) {
	defaultKind, err := ParseKind(cfg.Default, KindMetaMask)
	if err != nil {
		return nil, err
	}
	r := NewEmptyRegistry(defaultKind)
	pollInterval := time.Duration(cfg.AccountPollIntervalMs) * time.Millisecond

	if cfg.Simulated {
		transport, err := newSimulatedTransport(sim)
		if err != nil {
			return nil, err
		}
		r.simulated = transport
		r.closers = append(r.closers, func() { _ = transport.Close() })
		r.Register(KindMetaMask, Static(transport))
	}

	endpoints := map[Kind]config.WalletEndpointConfig{
		KindMetaMask: cfg.MetaMask,
		KindRelay:    cfg.Relay,
	}
	for kind, endpoint := range endpoints {
		if kind == KindMetaMask && cfg.Simulated {
			continue
		}
		if strings.TrimSpace(endpoint.RPCURL) == "" {
			r.Register(kind, Unavailable())
			continue
		}
		transport, err := ethereum.NewRPCTransport(ctx, ethereum.Config{
			Name:                string(kind),
			RPCURL:              endpoint.RPCURL,
			AccountPollInterval: pollInterval,
		})
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("初始化钱包 %s 失败: %w", kind, err)
		}
		r.closers = append(r.closers, transport.Close)
		r.Register(kind, func() (web3.Transport, bool) {
			return transport, transport.Available()
		})
	}
	return r, nil
}

// NewEmptyRegistry creates a registry without adapters.
func NewEmptyRegistry(defaultKind Kind) *Registry {
	return &Registry{defaultKind: defaultKind, adapters: make(map[Kind]*Adapter)}
}

func newSimulatedTransport(sim config.SimulatedConfig) (*ethereum.SimulatedTransport, error) {
	var balance *big.Int
	if strings.TrimSpace(sim.BalanceETH) != "" {
		wei, err := contracts.ParseUnits(sim.BalanceETH, contracts.NativeDecimals)
		if err != nil {
			return nil, fmt.Errorf("模拟账户余额配置无效: %w", err)
		}
		balance = wei
	}
	transport, err := ethereum.NewSimulatedTransport(ethereum.SimulatedConfig{
		Accounts: sim.FundedAccounts,
		Balance:  balance,
	})
	if err != nil {
		return nil, err
	}
	return transport, nil
}

// Register installs or replaces the adapter for a wallet kind.
func (r *Registry) Register(kind Kind, locate Locator) *Adapter {
	adapter := NewAdapter(kind, locate)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[kind] = adapter
	return adapter
}

// Adapter returns the adapter for kind. Unknown kinds get an adapter that
// always reports the provider as unavailable.
func (r *Registry) Adapter(kind Kind) *Adapter {
	if r == nil {
		return NewAdapter(kind, Unavailable())
	}
	r.mu.RLock()
	adapter, ok := r.adapters[kind]
	r.mu.RUnlock()
	if !ok {
		return NewAdapter(kind, Unavailable())
	}
	return adapter
}

// DefaultKind returns the wallet kind used when the caller names none.
func (r *Registry) DefaultKind() Kind {
	if r == nil {
		return KindMetaMask
	}
	return r.defaultKind
}

// Simulated returns the in-process wallet when simulated mode is enabled.
func (r *Registry) Simulated() (*ethereum.SimulatedTransport, bool) {
	if r == nil || r.simulated == nil {
		return nil, false
	}
	return r.simulated, true
}

// Kinds returns the registered wallet kinds.
func (r *Registry) Kinds() []Kind {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]Kind, 0, len(r.adapters))
	for kind := range r.adapters {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Close releases all transports managed by the registry.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	r.mu.Lock()
	closers := r.closers
	r.closers = nil
	r.mu.Unlock()
	for _, closeFn := range closers {
		closeFn()
	}
}
