package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"SageChain/internal/api"
	"SageChain/internal/config"
	"SageChain/internal/events"
	"SageChain/internal/observability/metrics"
	"SageChain/internal/price"
	"SageChain/pkg/logger"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "启动看板后端 API 服务",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts.cfg)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	log := logger.Named("serve")

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if state, err := a.session.Restore(ctx); err != nil {
		log.Warn("恢复钱包会话失败", slog.Any("error", err))
	} else if state.Connected() {
		log.Info("已恢复钱包会话", slog.String("address", state.Address))
	}
	stopRefresh := a.session.StartBalanceRefresh(ctx, cfg.Session.BalanceRefresh())
	defer stopRefresh()

	fetcher, closeCache, err := newPriceFetcher(ctx, cfg.Prices)
	if err != nil {
		return err
	}
	defer closeCache()
	poller := price.NewPoller(fetcher, cfg.Prices.IDs, cfg.Prices.PollInterval())

	publisher, err := events.NewPublisher(cfg.Events)
	if err != nil {
		return fmt.Errorf("初始化事件发布器失败: %w", err)
	}
	defer publisher.Close()
	if mem, ok := publisher.(*events.MemoryPublisher); ok {
		go drainMemoryEvents(ctx, mem)
	}
	bridge := events.NewBridge(publisher, cfg.Events.Driver, cfg.Events.Buffer)
	detach := bridge.Attach(a.session, a.submitter)
	defer detach()
	poller.AddSink(bridge.OnPrices)

	server := api.NewServer(cfg.Server.Address, a.session, a.submitter,
		api.WithPrices(poller),
		api.WithExplorer(a.chain),
		api.WithMetrics(cfg.Metrics.Address == ""),
	)

	errCh := make(chan error, 4)
	start := func(name string, fn func(context.Context) error) {
		go func() {
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("%s: %w", name, err)
				return
			}
			errCh <- nil
		}()
	}
	running := 3
	start("events", bridge.Run)
	start("prices", poller.Run)
	start("api", server.Start)
	if cfg.Metrics.Address != "" {
		running++
		start("metrics", func(ctx context.Context) error { return metrics.StartServer(ctx, cfg.Metrics.Address) })
	}

	var firstErr error
	for i := 0; i < running; i++ {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
			log.Error("服务组件退出", slog.Any("error", err))
		}
		// 任一组件退出都结束整个进程。
		cancel()
	}
	return firstErr
}

// newPriceFetcher 构造行情客户端，配置了 Redis 时在其前面加一层共享缓存。
func newPriceFetcher(ctx context.Context, cfg config.PricesConfig) (price.Fetcher, func(), error) {
	client := price.NewClient(price.Config{BaseURL: cfg.BaseURL})
	if cfg.Redis.Address == "" {
		return client, func() {}, nil
	}
	cache, err := price.NewRedisCache(price.RedisCacheConfig{
		Address:  cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Key:      cfg.Redis.Key,
		TTL:      cfg.Redis.TTL(),
	})
	if err != nil {
		logger.Named("prices").Warn("行情缓存不可用，直接访问上游", slog.Any("error", err))
		return client, func() {}, nil
	}
	return price.NewCachedClient(client, cache), func() { _ = cache.Close() }, nil
}

func drainMemoryEvents(ctx context.Context, mem *events.MemoryPublisher) {
	log := logger.Named("events")
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-mem.Events():
			if !ok {
				return
			}
			log.Debug("事件", slog.String("type", string(event.Type)), slog.Time("occurred_at", event.OccurredAt))
		}
	}
}
