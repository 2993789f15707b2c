package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"SageChain/internal/config"
	"SageChain/internal/swap"
	"SageChain/internal/wallet"
	"SageChain/internal/web3"
	"SageChain/internal/web3/contracts"
	"SageChain/internal/web3/provider"
	"SageChain/pkg/logger"
)

// app 聚合钱包会话、合约绑定与交易提交器。
type app struct {
	cfg       *config.Config
	registry  *provider.Registry
	bindings  *contracts.Bindings
	chain     web3.ChainDefinition
	session   *wallet.Session
	submitter *swap.Submitter
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	bindings, chain, err := loadContracts(cfg.Web3)
	if err != nil {
		return nil, err
	}

	registry, err := provider.NewRegistry(ctx, cfg.Wallets, cfg.Simulated)
	if err != nil {
		return nil, fmt.Errorf("初始化钱包适配器失败: %w", err)
	}

	session := wallet.NewSession(registry, wallet.WithBindings(bindings))
	submitter := swap.NewSubmitter(session, bindings,
		swap.WithConfirmationTimeout(cfg.Transactions.ConfirmationTimeout()),
		swap.WithPollInterval(cfg.Transactions.PollInterval()),
	)

	logger.L().Info("钱包客户端已初始化",
		slog.String("default_wallet", string(registry.DefaultKind())),
		slog.Bool("simulated", cfg.Wallets.Simulated),
		slog.String("swap_contract", bindings.SwapAddress().Hex()))

	return &app{
		cfg:       cfg,
		registry:  registry,
		bindings:  bindings,
		chain:     chain,
		session:   session,
		submitter: submitter,
	}, nil
}

// loadContracts 读取链定义文件；未配置合约时使用本地开发网络的默认部署地址。
func loadContracts(cfg config.Web3Config) (*contracts.Bindings, web3.ChainDefinition, error) {
	defs, err := web3.LoadChainDefinitions(cfg.ChainConfig)
	if err != nil {
		return nil, web3.ChainDefinition{}, err
	}
	def := defs.Contracts
	if strings.TrimSpace(def.Swap) == "" {
		def = contracts.DefaultDefinition()
	}
	baseDir := "."
	if cfg.ChainConfig != "" {
		baseDir = filepath.Dir(cfg.ChainConfig)
	}
	bindings, err := contracts.Load(def, baseDir)
	if err != nil {
		return nil, web3.ChainDefinition{}, fmt.Errorf("加载合约绑定失败: %w", err)
	}

	chain, ok := defs.Chains[cfg.Network]
	if !ok && cfg.Network != "" {
		return nil, web3.ChainDefinition{}, fmt.Errorf("链配置中不存在网络 %q", cfg.Network)
	}
	return bindings, chain, nil
}

// connect 先尝试静默恢复已授权的账户，失败时再发起授权请求。
func (a *app) connect(ctx context.Context, kind string) (wallet.WalletSession, error) {
	k, err := provider.ParseKind(kind, "")
	if err != nil {
		return wallet.WalletSession{}, err
	}
	if k == "" || k == a.registry.DefaultKind() {
		if state, err := a.session.Restore(ctx); err == nil && state.Connected() {
			return state, nil
		}
	}
	return a.session.Connect(ctx, k)
}

func (a *app) Close() {
	a.session.Close()
	a.registry.Close()
}
