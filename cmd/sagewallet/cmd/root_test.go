package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SageChain/internal/config"
	"SageChain/internal/swap"
	"SageChain/internal/web3/contracts"
	"SageChain/pkg/logger"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	logger.Discard()
	t.Setenv(config.EnvConfigPath, "")

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "sagewallet.json")
	body := `{"transactions":{"poll_interval_ms":20,"confirmation_timeout_seconds":10},"events":{"driver":"none"}}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestBalanceOnSimulatedWallet(t *testing.T) {
	out, err := execute(t, "--simulated", "--config", writeConfig(t), "balance")
	require.NoError(t, err)
	assert.Contains(t, out, "钱包: metamask")
	assert.Contains(t, out, "100.0000 ETH")
}

func TestBuyOnSimulatedWallet(t *testing.T) {
	out, err := execute(t, "--simulated", "--config", writeConfig(t), "buy", "--amount", "0.25")
	require.NoError(t, err)

	var tx swap.PendingTransaction
	require.NoError(t, json.NewDecoder(strings.NewReader(out)).Decode(&tx))
	assert.Equal(t, swap.KindBuy, tx.Kind)
	assert.Equal(t, swap.StatusConfirmed, tx.Status)
	assert.NotEmpty(t, tx.Hash)
}

func TestBuyRejectsInvalidAmount(t *testing.T) {
	_, err := execute(t, "--simulated", "--config", writeConfig(t), "buy", "--amount", "-1")
	require.Error(t, err)
}

func TestMissingExplicitConfigFails(t *testing.T) {
	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "missing.json"), "balance")
	require.Error(t, err)
}

func TestLoadContractsDefaults(t *testing.T) {
	bindings, chain, err := loadContracts(config.Web3Config{})
	require.NoError(t, err)
	assert.Equal(t, contracts.DefaultSwapAddress, bindings.SwapAddress().Hex())
	assert.Empty(t, chain.ExplorerURL)
}

func TestLoadContractsFromChainFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chains.yaml")
	body := `chains:
  localhost:
    chain_id: 1337
    explorer_url: https://explorer.local
contracts:
  token: "0x0000000000000000000000000000000000000011"
  swap: "0x0000000000000000000000000000000000000022"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	bindings, chain, err := loadContracts(config.Web3Config{ChainConfig: path, Network: "localhost"})
	require.NoError(t, err)
	assert.Equal(t, "0x0000000000000000000000000000000000000022", strings.ToLower(bindings.SwapAddress().Hex()))
	assert.Equal(t, "https://explorer.local/tx/0xabc", chain.ExplorerTxURL("0xabc"))

	_, _, err = loadContracts(config.Web3Config{ChainConfig: path, Network: "mainnet"})
	require.Error(t, err)
}
