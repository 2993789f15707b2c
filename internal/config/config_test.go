package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sagewallet.json")
	content := `{"web3":{"chain_config":"chains.yaml"},"wallets":{"metamask":{"rpc_url":"http://127.0.0.1:8545"}}}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":8080" {
		t.Fatalf("unexpected server address %q", cfg.Server.Address)
	}
	if cfg.Web3.ChainConfig != filepath.Join(dir, "chains.yaml") {
		t.Fatalf("expected chain config resolved against config dir, got %q", cfg.Web3.ChainConfig)
	}
	if cfg.Transactions.ConfirmationTimeout() != 2*time.Minute {
		t.Fatalf("unexpected confirmation timeout %s", cfg.Transactions.ConfirmationTimeout())
	}
	if cfg.Prices.PollInterval() != 30*time.Second {
		t.Fatalf("unexpected price interval %s", cfg.Prices.PollInterval())
	}
	if len(cfg.Prices.IDs) != 3 || cfg.Prices.IDs[0] != "bitcoin" {
		t.Fatalf("unexpected price ids %v", cfg.Prices.IDs)
	}
	if cfg.Events.Driver != "memory" {
		t.Fatalf("unexpected events driver %q", cfg.Events.Driver)
	}
	if cfg.Session.BalanceRefresh() != 15*time.Second {
		t.Fatalf("unexpected refresh interval %s", cfg.Session.BalanceRefresh())
	}
}

func TestLoadRejectsUnknownEventsDriver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sagewallet.json")
	if err := os.WriteFile(path, []byte(`{"events":{"driver":"kafka"}}`), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestPathPrefersEnvironment(t *testing.T) {
	t.Setenv(EnvConfigPath, "/etc/sagewallet.json")
	if got := Path(); got != "/etc/sagewallet.json" {
		t.Fatalf("unexpected path %q", got)
	}
	t.Setenv(EnvConfigPath, "")
	if got := Path(); got != DefaultPath {
		t.Fatalf("unexpected default path %q", got)
	}
}
