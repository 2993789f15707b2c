package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SageChain/internal/config"
	"SageChain/internal/price"
	"SageChain/internal/swap"
	"SageChain/internal/wallet"
	"SageChain/internal/web3/ethereum"
	"SageChain/internal/web3/provider"
)

func receive(t *testing.T, pub *MemoryPublisher) Event {
	t.Helper()
	select {
	case event := <-pub.Events():
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestBridgeForwardsSessionChanges(t *testing.T) {
	transport, err := ethereum.NewSimulatedTransport(ethereum.SimulatedConfig{Accounts: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = transport.Close() })

	registry := provider.NewEmptyRegistry(provider.KindMetaMask)
	registry.Register(provider.KindMetaMask, provider.Static(transport))
	session := wallet.NewSession(registry)

	pub := NewMemoryPublisher(16)
	bridge := NewBridge(pub, "memory", 16)
	detach := bridge.Attach(session, nil)
	defer detach()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- bridge.Run(ctx) }()

	_, err = session.Connect(ctx, provider.KindMetaMask)
	require.NoError(t, err)

	first := receive(t, pub)
	second := receive(t, pub)
	assert.Equal(t, TypeSessionChanged, first.Type)
	assert.Equal(t, wallet.StateConnecting, first.Session.ConnectionState)
	assert.Equal(t, wallet.StateConnected, second.Session.ConnectionState)
	assert.Equal(t, transport.Accounts()[0].Hex(), second.Session.Address)
	assert.False(t, second.OccurredAt.IsZero())

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

type failingPublisher struct{ calls int }

func (f *failingPublisher) Publish(context.Context, Event) error {
	f.calls++
	return errors.New("broker unavailable")
}

func (f *failingPublisher) Close() error { return nil }

func TestBridgeSwallowsPublishFailures(t *testing.T) {
	pub := &failingPublisher{}
	bridge := NewBridge(pub, "rabbitmq", 4)

	bridge.OnTransaction(swap.PendingTransaction{ID: "tx-1", Kind: swap.KindBuy, Status: swap.StatusSubmitted})
	bridge.OnPrices(map[string]price.Quote{"bitcoin": {AssetID: "bitcoin", USD: 1}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, bridge.Run(ctx), context.Canceled)
	assert.Equal(t, 2, pub.calls)
}

func TestBridgeDropsWhenQueueIsFull(t *testing.T) {
	pub := NewMemoryPublisher(8)
	bridge := NewBridge(pub, "memory", 1)

	bridge.OnSession(wallet.WalletSession{ConnectionState: wallet.StateConnecting})
	bridge.OnSession(wallet.WalletSession{ConnectionState: wallet.StateConnected})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = bridge.Run(ctx)

	event := receive(t, pub)
	assert.Equal(t, wallet.StateConnecting, event.Session.ConnectionState)
	select {
	case extra := <-pub.Events():
		t.Fatalf("expected second event to be dropped, got %+v", extra)
	default:
	}
}

func TestEventJSONShape(t *testing.T) {
	body, err := encode(Event{
		Type:        TypeTransactionUpdated,
		Transaction: &swap.PendingTransaction{ID: "abc", Kind: swap.KindApprove, Status: swap.StatusConfirmed, Hash: "0x01"},
		OccurredAt:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, "transaction.updated", decoded["type"])
	assert.NotContains(t, decoded, "session")
	tx := decoded["transaction"].(map[string]any)
	assert.Equal(t, "approve", tx["kind"])
	assert.Equal(t, "0x01", tx["hash"])
}

func TestNewPublisher(t *testing.T) {
	pub, err := NewPublisher(config.EventsConfig{Driver: "memory", Buffer: 2})
	require.NoError(t, err)
	assert.IsType(t, &MemoryPublisher{}, pub)
	require.NoError(t, pub.Close())
	assert.Error(t, pub.Publish(context.Background(), Event{}))

	pub, err = NewPublisher(config.EventsConfig{Driver: "none"})
	require.NoError(t, err)
	assert.NoError(t, pub.Publish(context.Background(), Event{}))

	_, err = NewPublisher(config.EventsConfig{Driver: "kafka"})
	assert.Error(t, err)

	_, err = NewPublisher(config.EventsConfig{Driver: "redis"})
	assert.Error(t, err)
}
