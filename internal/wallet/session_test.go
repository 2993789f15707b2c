package wallet

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	xerrors "SageChain/internal/errors"
	"SageChain/internal/web3/contracts"
	"SageChain/internal/web3/ethereum"
	"SageChain/internal/web3/provider"
)

const (
	accountA = "0x00000000000000000000000000000000000000aa"
	accountB = "0x00000000000000000000000000000000000000bb"
)

func checksum(addr string) string { return common.HexToAddress(addr).Hex() }

func TestConnectWithoutTransportIsUnavailable(t *testing.T) {
	session := newTestSession(nil)
	rec := &recorder{}
	session.Subscribe(rec.record)

	state, err := session.Connect(context.Background(), provider.KindMetaMask)
	if !xerrors.HasCode(err, xerrors.CodeProviderUnavailable) {
		t.Fatalf("expected provider unavailable, got %v", err)
	}
	if state.ConnectionState != StateDisconnected || session.State().ConnectionState != StateDisconnected {
		t.Fatalf("expected session to stay disconnected, got %+v", state)
	}
	if len(rec.all()) != 0 {
		t.Fatalf("expected no notifications, got %v", rec.all())
	}
}

func TestConnectAdoptsPrimaryAccount(t *testing.T) {
	wallet := newFakeWallet(accountA, accountB)
	wallet.setBalance(accountA, "0x14d1120d7b160000")
	session := newTestSession(wallet)
	rec := &recorder{}
	session.Subscribe(rec.record)

	state, err := session.Connect(context.Background(), provider.KindMetaMask)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if state.Address != checksum(accountA) {
		t.Fatalf("expected primary account, got %s", state.Address)
	}
	if state.BalanceDisplay != "1.5000 ETH" {
		t.Fatalf("unexpected balance %q", state.BalanceDisplay)
	}
	if state.WalletKind != provider.KindMetaMask || state.ConnectionState != StateConnected {
		t.Fatalf("unexpected state %+v", state)
	}

	states := rec.all()
	if len(states) != 2 || states[0].ConnectionState != StateConnecting || states[1].ConnectionState != StateConnected {
		t.Fatalf("expected connecting then connected, got %+v", states)
	}
	if wallet.listenerCount() != 1 {
		t.Fatalf("expected one account listener, got %d", wallet.listenerCount())
	}
	if session.Adapter() == nil {
		t.Fatal("expected active adapter")
	}
}

func TestConcurrentConnectFailsFast(t *testing.T) {
	wallet := newFakeWallet(accountA)
	wallet.requestGate = make(chan struct{})
	wallet.prompted = make(chan struct{}, 1)
	session := newTestSession(wallet)

	done := make(chan error, 1)
	go func() {
		_, err := session.Connect(context.Background(), provider.KindMetaMask)
		done <- err
	}()
	<-wallet.prompted

	_, err := session.Connect(context.Background(), provider.KindMetaMask)
	if !xerrors.HasCode(err, xerrors.CodeAlreadyConnecting) {
		t.Fatalf("expected already connecting, got %v", err)
	}

	close(wallet.requestGate)
	if err := <-done; err != nil {
		t.Fatalf("first connect: %v", err)
	}
	if wallet.promptCount() != 1 {
		t.Fatalf("expected a single prompt, got %d", wallet.promptCount())
	}
}

func TestConnectRejectedSurfacesWalletMessage(t *testing.T) {
	wallet := newFakeWallet(accountA)
	wallet.rejectErr = rejection{code: 4001, msg: "User rejected the request."}
	session := newTestSession(wallet)

	state, err := session.Connect(context.Background(), provider.KindMetaMask)
	if !xerrors.HasCode(err, xerrors.CodeProviderError) {
		t.Fatalf("expected provider error, got %v", err)
	}
	if xerrors.UserMessage(err) != "User rejected the request." {
		t.Fatalf("unexpected message %q", xerrors.UserMessage(err))
	}
	if state.ConnectionState != StateDisconnected {
		t.Fatalf("expected disconnected after rejection, got %+v", state)
	}
}

func TestFailedReconnectKeepsEstablishedSession(t *testing.T) {
	wallet := newFakeWallet(accountA)
	wallet.setBalance(accountA, "0x14d1120d7b160000")
	session := newTestSession(wallet)

	before, err := session.Connect(context.Background(), provider.KindMetaMask)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	wallet.mu.Lock()
	wallet.rejectErr = rejection{code: 4001, msg: "User rejected the request."}
	wallet.mu.Unlock()
	rec := &recorder{}
	session.Subscribe(rec.record)

	state, err := session.Connect(context.Background(), provider.KindMetaMask)
	if !xerrors.HasCode(err, xerrors.CodeProviderError) {
		t.Fatalf("expected provider error, got %v", err)
	}
	if state != before || session.State() != before {
		t.Fatalf("expected session %+v to be kept, got %+v", before, state)
	}
	states := rec.all()
	if len(states) != 2 || states[0].ConnectionState != StateConnecting || states[1] != before {
		t.Fatalf("expected connecting then the previous session, got %+v", states)
	}
	if wallet.listenerCount() != 1 {
		t.Fatalf("expected account listener to stay attached, got %d", wallet.listenerCount())
	}

	wallet.emit()
	if session.State().ConnectionState != StateDisconnected {
		t.Fatal("expected kept subscription to still handle revocation")
	}
}

func TestConnectWithNoAccounts(t *testing.T) {
	session := newTestSession(newFakeWallet())
	_, err := session.Connect(context.Background(), provider.KindMetaMask)
	if !xerrors.HasCode(err, xerrors.CodeNotConnected) {
		t.Fatalf("expected not connected, got %v", err)
	}
	if session.State().ConnectionState != StateDisconnected {
		t.Fatal("expected disconnected")
	}
}

func TestBalanceFailureShowsPlaceholder(t *testing.T) {
	wallet := newFakeWallet(accountA)
	wallet.balanceErr = errors.New("node offline")
	session := newTestSession(wallet)

	state, err := session.Connect(context.Background(), provider.KindMetaMask)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if state.BalanceDisplay != contracts.BalanceUnavailable {
		t.Fatalf("expected placeholder, got %q", state.BalanceDisplay)
	}
}

func TestEmptyAccountsDisconnects(t *testing.T) {
	wallet := newFakeWallet(accountA)
	session := newTestSession(wallet)
	if _, err := session.Connect(context.Background(), provider.KindMetaMask); err != nil {
		t.Fatalf("connect: %v", err)
	}
	rec := &recorder{}
	session.Subscribe(rec.record)

	wallet.emit()

	state := session.State()
	if state.ConnectionState != StateDisconnected || state.Address != "" || state.BalanceDisplay != "" {
		t.Fatalf("expected cleared session, got %+v", state)
	}
	if states := rec.all(); len(states) != 1 || states[0].ConnectionState != StateDisconnected {
		t.Fatalf("expected one disconnected notification, got %+v", states)
	}
	if wallet.listenerCount() != 0 {
		t.Fatal("expected account listener to be released")
	}
}

func TestAccountChangeAdoptsNewPrimary(t *testing.T) {
	wallet := newFakeWallet(accountA, accountB)
	wallet.setBalance(accountB, "0xde0b6b3a7640000")
	session := newTestSession(wallet)
	if _, err := session.Connect(context.Background(), provider.KindMetaMask); err != nil {
		t.Fatalf("connect: %v", err)
	}
	rec := &recorder{}
	session.Subscribe(rec.record)

	wallet.emit(accountA, accountB)
	if len(rec.all()) != 0 {
		t.Fatalf("same primary account must not notify, got %+v", rec.all())
	}

	wallet.emit(accountB, accountA)
	states := rec.all()
	if len(states) != 1 {
		t.Fatalf("expected one notification, got %+v", states)
	}
	if states[0].Address != checksum(accountB) || states[0].BalanceDisplay != "1.0000 ETH" {
		t.Fatalf("unexpected state %+v", states[0])
	}
}

func TestStaleAccountChangeIsDiscarded(t *testing.T) {
	wallet := newFakeWallet(accountA, accountB)
	session := newTestSession(wallet)
	if _, err := session.Connect(context.Background(), provider.KindMetaMask); err != nil {
		t.Fatalf("connect: %v", err)
	}

	wallet.mu.Lock()
	wallet.balanceGate = make(chan struct{})
	gate := wallet.balanceGate
	wallet.mu.Unlock()

	changed := make(chan struct{})
	go func() {
		session.Tracker().OnAccountsChanged([]string{accountB})
		close(changed)
	}()

	// Give the change handler time to start its balance read.
	time.Sleep(20 * time.Millisecond)
	session.Disconnect()
	close(gate)
	<-changed

	if state := session.State(); state.ConnectionState != StateDisconnected || state.Address != "" {
		t.Fatalf("stale account change leaked into state: %+v", state)
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	wallet := newFakeWallet(accountA)
	session := newTestSession(wallet)
	if _, err := session.Connect(context.Background(), provider.KindMetaMask); err != nil {
		t.Fatalf("connect: %v", err)
	}
	rec := &recorder{}
	session.Subscribe(rec.record)

	first := session.Disconnect()
	second := session.Disconnect()
	if first != second {
		t.Fatalf("expected identical state, got %+v and %+v", first, second)
	}
	if first.ConnectionState != StateDisconnected || first.WalletKind != provider.KindNone {
		t.Fatalf("unexpected state %+v", first)
	}
	if len(rec.all()) != 1 {
		t.Fatalf("expected a single notification, got %d", len(rec.all()))
	}
	if wallet.listenerCount() != 0 {
		t.Fatal("expected listener to be released")
	}
	if _, _, err := session.Active(); !xerrors.HasCode(err, xerrors.CodeNotConnected) {
		t.Fatalf("expected not connected, got %v", err)
	}
}

func TestUnsubscribeStopsNotifications(t *testing.T) {
	wallet := newFakeWallet(accountA)
	session := newTestSession(wallet)
	rec := &recorder{}
	unsubscribe := session.Subscribe(rec.record)
	unsubscribe()
	unsubscribe()

	if _, err := session.Connect(context.Background(), provider.KindMetaMask); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if len(rec.all()) != 0 {
		t.Fatal("expected no notifications after unsubscribe")
	}
}

func TestSubscriberMayDisconnectFromCallback(t *testing.T) {
	wallet := newFakeWallet(accountA)
	session := newTestSession(wallet)
	rec := &recorder{}
	session.Subscribe(func(ws WalletSession) {
		rec.record(ws)
		if ws.ConnectionState == StateConnected {
			session.Disconnect()
		}
	})

	if _, err := session.Connect(context.Background(), provider.KindMetaMask); err != nil {
		t.Fatalf("connect: %v", err)
	}
	states := rec.all()
	if len(states) != 3 || states[2].ConnectionState != StateDisconnected {
		t.Fatalf("expected connecting, connected, disconnected; got %+v", states)
	}
}

func TestRestoreAdoptsAuthorizedAccount(t *testing.T) {
	wallet := newFakeWallet(accountA)
	session := newTestSession(wallet)

	state, err := session.Restore(context.Background())
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if state.Connected() {
		t.Fatal("unauthorized wallet must not restore a session")
	}

	wallet.mu.Lock()
	wallet.authorized = true
	wallet.mu.Unlock()

	state, err = session.Restore(context.Background())
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if !state.Connected() || state.Address != checksum(accountA) {
		t.Fatalf("unexpected state %+v", state)
	}
	if wallet.promptCount() != 0 {
		t.Fatal("restore must not prompt")
	}
}

func TestStartBalanceRefresh(t *testing.T) {
	wallet := newFakeWallet(accountA)
	wallet.setBalance(accountA, "0xde0b6b3a7640000")
	session := newTestSession(wallet)
	if _, err := session.Connect(context.Background(), provider.KindMetaMask); err != nil {
		t.Fatalf("connect: %v", err)
	}

	updated := make(chan WalletSession, 4)
	session.Subscribe(func(ws WalletSession) { updated <- ws })

	stop := session.StartBalanceRefresh(context.Background(), 10*time.Millisecond)
	wallet.setBalance(accountA, "0x1bc16d674ec80000")

	select {
	case ws := <-updated:
		if ws.BalanceDisplay != "2.0000 ETH" {
			t.Fatalf("unexpected balance %q", ws.BalanceDisplay)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for balance refresh")
	}

	stop()
	stop()
	wallet.setBalance(accountA, "0x29a2241af62c0000")
	time.Sleep(50 * time.Millisecond)
	if got := session.State().BalanceDisplay; got != "2.0000 ETH" {
		t.Fatalf("refresh ran after stop: %q", got)
	}
}

func TestTokenBalance(t *testing.T) {
	bindings, err := contracts.Load(contracts.DefaultDefinition(), "")
	if err != nil {
		t.Fatalf("load bindings: %v", err)
	}
	wallet := newFakeWallet(accountA)
	wallet.callResult = hexutil.Encode(common.LeftPadBytes(big.NewInt(2_500_000_000_000_000_000).Bytes(), 32))
	session := newTestSession(wallet, WithBindings(bindings))

	token := common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	if _, err := session.TokenBalance(context.Background(), token); !xerrors.HasCode(err, xerrors.CodeNotConnected) {
		t.Fatalf("expected not connected, got %v", err)
	}

	if _, err := session.Connect(context.Background(), provider.KindMetaMask); err != nil {
		t.Fatalf("connect: %v", err)
	}
	balance, err := session.TokenBalance(context.Background(), token)
	if err != nil {
		t.Fatalf("token balance: %v", err)
	}
	if balance != "2.5" {
		t.Fatalf("unexpected token balance %q", balance)
	}
}

func TestConnectSimulatedWallet(t *testing.T) {
	transport, err := ethereum.NewSimulatedTransport(ethereum.SimulatedConfig{
		Accounts: 2,
		Balance:  big.NewInt(1_500_000_000_000_000_000),
	})
	if err != nil {
		t.Fatalf("simulated transport: %v", err)
	}
	t.Cleanup(func() { _ = transport.Close() })
	session := newTestSession(transport)

	state, err := session.Connect(context.Background(), provider.KindMetaMask)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	accounts := transport.Accounts()
	if state.Address != accounts[0].Hex() || state.BalanceDisplay != "1.5000 ETH" {
		t.Fatalf("unexpected state %+v", state)
	}

	if err := transport.SetAccounts(accounts[1]); err != nil {
		t.Fatalf("set accounts: %v", err)
	}
	if got := session.State().Address; got != accounts[1].Hex() {
		t.Fatalf("expected switch to second account, got %s", got)
	}

	transport.Revoke()
	if session.State().ConnectionState != StateDisconnected {
		t.Fatal("expected disconnect after revoke")
	}
	if transport.ListenerCount("accountsChanged") != 0 {
		t.Fatal("expected listener released after revoke")
	}
}
