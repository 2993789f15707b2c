package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func newPricesCmd(opts *rootOptions) *cobra.Command {
	var ids []string
	cmd := &cobra.Command{
		Use:   "prices",
		Short: "查询资产的美元价格与 24 小时涨跌幅",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := opts.cfg
			if len(ids) == 0 {
				ids = cfg.Prices.IDs
			}
			fetcher, closeCache, err := newPriceFetcher(cmd.Context(), cfg.Prices)
			if err != nil {
				return err
			}
			defer closeCache()

			quotes, err := fetcher.Fetch(cmd.Context(), ids)
			if err != nil {
				return err
			}
			keys := make([]string, 0, len(quotes))
			for id := range quotes {
				keys = append(keys, id)
			}
			sort.Strings(keys)
			for _, id := range keys {
				q := quotes[id]
				change := decimal.NewFromFloat(q.USD24hChange).Round(2)
				sign := ""
				if change.IsPositive() {
					sign = "+"
				}
				printf(cmd, "%-12s $%s\t%s%s%%\n", id, decimal.NewFromFloat(q.USD).StringFixed(2), sign, change.StringFixed(2))
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&ids, "ids", nil, "资产 ID 列表，默认使用配置中的 prices.ids")
	return cmd
}

func newBalanceCmd(opts *rootOptions) *cobra.Command {
	var walletKind, token string
	cmd := &cobra.Command{
		Use:   "balance",
		Short: "连接钱包并显示账户与余额",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, opts.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			state, err := a.connect(ctx, walletKind)
			if err != nil {
				return err
			}
			printf(cmd, "钱包: %s\n地址: %s\n余额: %s\n", state.WalletKind, state.Address, state.BalanceDisplay)

			if token == "" {
				return nil
			}
			if !common.IsHexAddress(token) {
				return fmt.Errorf("代币地址无效: %q", token)
			}
			balance, err := a.session.TokenBalance(ctx, common.HexToAddress(token))
			if err != nil {
				return err
			}
			printf(cmd, "代币 %s: %s\n", common.HexToAddress(token).Hex(), balance)
			return nil
		},
	}
	cmd.Flags().StringVar(&walletKind, "wallet", "", "钱包类型 (metamask|relay)，默认使用配置中的 wallets.default")
	cmd.Flags().StringVar(&token, "token", "", "额外查询的 ERC-20 代币地址")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func requireAmount(amount string) error {
	if strings.TrimSpace(amount) == "" {
		return errors.New("必须通过 --amount 指定数量")
	}
	return nil
}
