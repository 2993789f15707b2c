package wallet

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"SageChain/internal/web3"
	"SageChain/internal/web3/provider"
)

type rejection struct {
	code int
	msg  string
}

func (r rejection) Error() string  { return r.msg }
func (r rejection) ErrorCode() int { return r.code }

// fakeWallet is a scriptable wallet transport.
type fakeWallet struct {
	mu          sync.Mutex
	accounts    []string
	authorized  bool
	balances    map[string]string
	balanceErr  error
	rejectErr   error
	requestGate chan struct{}
	prompted    chan struct{}
	balanceGate chan struct{}
	callResult  string
	prompts     int
	listeners   map[web3.ListenerID]web3.Listener
	nextID      web3.ListenerID
}

func newFakeWallet(accounts ...string) *fakeWallet {
	return &fakeWallet{
		accounts:  accounts,
		balances:  make(map[string]string),
		listeners: make(map[web3.ListenerID]web3.Listener),
	}
}

func (f *fakeWallet) setBalance(address, hexWei string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[strings.ToLower(address)] = hexWei
}

func (f *fakeWallet) Request(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	switch method {
	case web3.MethodRequestAccounts:
		f.mu.Lock()
		f.prompts++
		gate, prompted, reject := f.requestGate, f.prompted, f.rejectErr
		f.mu.Unlock()
		if prompted != nil {
			prompted <- struct{}{}
		}
		if gate != nil {
			select {
			case <-gate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if reject != nil {
			return nil, reject
		}
		f.mu.Lock()
		f.authorized = true
		accounts := append([]string{}, f.accounts...)
		f.mu.Unlock()
		return json.Marshal(accounts)
	case web3.MethodAccounts:
		f.mu.Lock()
		defer f.mu.Unlock()
		if !f.authorized {
			return json.RawMessage(`[]`), nil
		}
		return json.Marshal(f.accounts)
	case web3.MethodGetBalance:
		f.mu.Lock()
		gate, balanceErr := f.balanceGate, f.balanceErr
		f.mu.Unlock()
		if gate != nil {
			<-gate
		}
		if balanceErr != nil {
			return nil, balanceErr
		}
		var address string
		if err := json.Unmarshal(params[0].(json.RawMessage), &address); err != nil {
			return nil, err
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		balance, ok := f.balances[strings.ToLower(address)]
		if !ok {
			balance = "0x0"
		}
		return json.Marshal(balance)
	case web3.MethodCall:
		return json.Marshal(f.callResult)
	default:
		return nil, rejection{code: -32601, msg: fmt.Sprintf("method %s not supported", method)}
	}
}

func (f *fakeWallet) On(_ string, l web3.Listener) web3.ListenerID {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.listeners[f.nextID] = l
	return f.nextID
}

func (f *fakeWallet) RemoveListener(_ string, id web3.ListenerID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.listeners, id)
}

func (f *fakeWallet) listenerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

func (f *fakeWallet) promptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prompts
}

func (f *fakeWallet) emit(accounts ...string) {
	f.mu.Lock()
	f.accounts = accounts
	listeners := make([]web3.Listener, 0, len(f.listeners))
	for _, l := range f.listeners {
		listeners = append(listeners, l)
	}
	f.mu.Unlock()
	for _, l := range listeners {
		l(append([]string{}, accounts...))
	}
}

type recorder struct {
	mu     sync.Mutex
	states []WalletSession
}

func (r *recorder) record(ws WalletSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, ws)
}

func (r *recorder) all() []WalletSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]WalletSession(nil), r.states...)
}

func newTestSession(transport web3.Transport, opts ...Option) *Session {
	registry := provider.NewEmptyRegistry(provider.KindMetaMask)
	if transport != nil {
		registry.Register(provider.KindMetaMask, provider.Static(transport))
	}
	return NewSession(registry, opts...)
}
