package cmd

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	xerrors "SageChain/internal/errors"
	"SageChain/internal/swap"
	"SageChain/pkg/logger"
)

type txFlags struct {
	walletKind string
	amount     string
}

func (f *txFlags) register(cmd *cobra.Command, amountHelp string) {
	cmd.Flags().StringVar(&f.walletKind, "wallet", "", "钱包类型 (metamask|relay)")
	cmd.Flags().StringVar(&f.amount, "amount", "", amountHelp)
}

// runTx 连接钱包后执行一次提交，并输出最终的交易记录。
func runTx(cmd *cobra.Command, opts *rootOptions, walletKind string, submit func(context.Context, *swap.Submitter) (*swap.PendingTransaction, error)) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, opts.cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.connect(ctx, walletKind); err != nil {
		return err
	}
	tx, err := submit(ctx, a.submitter)
	if tx != nil {
		if perr := printJSON(cmd, tx); perr != nil {
			return perr
		}
		if url := a.chain.ExplorerTxURL(tx.Hash); url != "" {
			printf(cmd, "浏览器: %s\n", url)
		}
	}
	if tx != nil && xerrors.HasCode(err, xerrors.CodeConfirmationTimeout) {
		logger.Named("cli").Warn("交易已提交但尚未确认", slog.String("hash", tx.Hash))
	}
	return err
}

func newBuyCmd(opts *rootOptions) *cobra.Command {
	var f txFlags
	cmd := &cobra.Command{
		Use:   "buy",
		Short: "使用 ETH 购买代币",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireAmount(f.amount); err != nil {
				return err
			}
			return runTx(cmd, opts, f.walletKind, func(ctx context.Context, s *swap.Submitter) (*swap.PendingTransaction, error) {
				return s.Buy(ctx, f.amount)
			})
		},
	}
	f.register(cmd, "支付的 ETH 数量，例如 0.1")
	return cmd
}

func newSwapCmd(opts *rootOptions) *cobra.Command {
	var f txFlags
	cmd := &cobra.Command{
		Use:   "swap",
		Short: "将 ETH 兑换为代币",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireAmount(f.amount); err != nil {
				return err
			}
			return runTx(cmd, opts, f.walletKind, func(ctx context.Context, s *swap.Submitter) (*swap.PendingTransaction, error) {
				return s.SwapNativeForToken(ctx, f.amount)
			})
		},
	}
	f.register(cmd, "兑换的 ETH 数量")
	return cmd
}

func newSwapTokenCmd(opts *rootOptions) *cobra.Command {
	var f txFlags
	var tokenIn, tokenOut string
	cmd := &cobra.Command{
		Use:   "swap-token",
		Short: "在两个 ERC-20 代币之间兑换，必要时先授权",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireAmount(f.amount); err != nil {
				return err
			}
			return runTx(cmd, opts, f.walletKind, func(ctx context.Context, s *swap.Submitter) (*swap.PendingTransaction, error) {
				return s.SwapTokenForToken(ctx, tokenIn, tokenOut, f.amount)
			})
		},
	}
	f.register(cmd, "卖出代币的数量（按 18 位精度）")
	cmd.Flags().StringVar(&tokenIn, "in", "", "卖出的代币地址")
	cmd.Flags().StringVar(&tokenOut, "out", "", "买入的代币地址")
	_ = cmd.MarkFlagRequired("in")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}
