package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SageChain/internal/config"
	xerrors "SageChain/internal/errors"
)

func TestParseKind(t *testing.T) {
	kind, err := ParseKind("", KindRelay)
	require.NoError(t, err)
	assert.Equal(t, KindRelay, kind)

	kind, err = ParseKind(" MetaMask ", KindRelay)
	require.NoError(t, err)
	assert.Equal(t, KindMetaMask, kind)

	_, err = ParseKind("phantom", KindMetaMask)
	assert.True(t, xerrors.HasCode(err, xerrors.CodeInvalidArgument))
}

func TestRegistryUnconfiguredKindsAreUnavailable(t *testing.T) {
	registry, err := NewRegistry(context.Background(), config.WalletsConfig{}, config.SimulatedConfig{})
	require.NoError(t, err)
	t.Cleanup(registry.Close)

	assert.Equal(t, []Kind{KindMetaMask, KindRelay}, registry.Kinds())
	assert.False(t, registry.Adapter(KindMetaMask).Available())
	assert.False(t, registry.Adapter(Kind("unknown")).Available())
}

func TestRegistrySimulatedWallet(t *testing.T) {
	registry, err := NewRegistry(context.Background(),
		config.WalletsConfig{Simulated: true},
		config.SimulatedConfig{FundedAccounts: 2, BalanceETH: "10"})
	require.NoError(t, err)
	t.Cleanup(registry.Close)

	sim, ok := registry.Simulated()
	require.True(t, ok)
	require.Len(t, sim.Accounts(), 2)

	adapter := registry.Adapter(KindMetaMask)
	require.True(t, adapter.Available())
	accounts, err := adapter.RequestAccounts(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 2)

	balance, err := adapter.Balance(context.Background(), accounts[0])
	require.NoError(t, err)
	assert.Equal(t, "10000000000000000000", balance.String())
}
