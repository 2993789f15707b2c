// Package cmd 定义 sagewallet 的命令行入口。
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/spf13/cobra"

	"SageChain/internal/config"
	"SageChain/pkg/logger"
)

type rootOptions struct {
	configPath string
	simulated  bool
	cfg        *config.Config
}

// newRootCmd 构造根命令及全部子命令。
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "sagewallet",
		Short: "DeFi 看板的钱包连接与交易提交客户端",
		Long: `sagewallet 连接浏览器钱包或本地模拟链，展示账户与余额，
并通过兑换合约提交买入与兑换交易。`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if cmd.Name() != "serve" && len(cfg.Logging.OutputPaths) == 0 {
				// 一次性命令的标准输出留给结果。
				cfg.Logging.OutputPaths = []string{"stderr"}
			}
			if err := logger.Init(loggerConfig(cfg.Logging)); err != nil && !errors.Is(err, logger.ErrAlreadyInitialised) {
				return fmt.Errorf("初始化日志失败: %w", err)
			}
			opts.cfg = cfg
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = logger.Sync()
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "配置文件路径，默认读取 $"+config.EnvConfigPath+" 或 "+config.DefaultPath)
	root.PersistentFlags().BoolVar(&opts.simulated, "simulated", false, "使用进程内模拟链代替真实钱包")

	root.AddCommand(
		newServeCmd(opts),
		newPricesCmd(opts),
		newBalanceCmd(opts),
		newBuyCmd(opts),
		newSwapCmd(opts),
		newSwapTokenCmd(opts),
	)
	return root
}

// Execute 运行根命令。
func Execute(ctx context.Context) error {
	return newRootCmd().ExecuteContext(ctx)
}

func (o *rootOptions) load() (*config.Config, error) {
	path := o.configPath
	explicit := path != ""
	if !explicit {
		path = config.Path()
		explicit = path != config.DefaultPath
	}

	cfg, err := config.Load(path)
	switch {
	case err == nil:
	case !explicit && errors.Is(err, fs.ErrNotExist):
		cfg = config.Default()
	default:
		return nil, err
	}
	if o.simulated {
		cfg.Wallets.Simulated = true
	}
	return cfg, nil
}

func loggerConfig(c config.LoggingConfig) logger.Config {
	return logger.Config{
		Level:       c.Level,
		Format:      c.Format,
		OutputPaths: c.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    c.Audit.Enabled,
			Path:       c.Audit.Path,
			MaxSizeMB:  c.Audit.MaxSizeMB,
			MaxBackups: c.Audit.MaxBackups,
			MaxAgeDays: c.Audit.MaxAgeDays,
		},
	}
}

func printf(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
