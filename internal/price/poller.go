package price

import (
	"context"
	"log/slog"
	"maps"
	"sync"
	"time"

	"SageChain/internal/observability/metrics"
	"SageChain/pkg/logger"
)

const defaultPollInterval = 30 * time.Second

// Sink 接收每次成功轮询得到的完整快照。
type Sink func(map[string]Quote)

// Poller 定时拉取行情并保存最新快照。
type Poller struct {
	fetcher  Fetcher
	ids      []string
	interval time.Duration
	log      *slog.Logger

	mu        sync.RWMutex
	latest    map[string]Quote
	updatedAt time.Time
	sinks     []Sink
}

// NewPoller 创建行情轮询器。
func NewPoller(fetcher Fetcher, ids []string, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Poller{
		fetcher:  fetcher,
		ids:      append([]string(nil), ids...),
		interval: interval,
		log:      logger.Named("price"),
	}
}

// AddSink 注册快照接收者。
func (p *Poller) AddSink(s Sink) {
	if s == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sinks = append(p.sinks, s)
}

// Latest 返回最近一次成功轮询的快照副本及其时间。
func (p *Poller) Latest() (map[string]Quote, time.Time) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return maps.Clone(p.latest), p.updatedAt
}

// Run 立即拉取一次，然后按固定间隔轮询，直到 ctx 结束。
func (p *Poller) Run(ctx context.Context) error {
	p.poll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

// Refresh performs a single poll outside the schedule.
func (p *Poller) Refresh(ctx context.Context) (map[string]Quote, error) {
	quotes, err := p.fetcher.Fetch(ctx, p.ids)
	if err != nil {
		metrics.PricePollsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.PricePollsTotal.WithLabelValues("ok").Inc()

	p.mu.Lock()
	p.latest = maps.Clone(quotes)
	p.updatedAt = time.Now().UTC()
	sinks := append([]Sink(nil), p.sinks...)
	p.mu.Unlock()

	for _, sink := range sinks {
		sink(maps.Clone(quotes))
	}
	return quotes, nil
}

func (p *Poller) poll(ctx context.Context) {
	if _, err := p.Refresh(ctx); err != nil && ctx.Err() == nil {
		p.log.Warn("行情轮询失败", slog.Any("error", err))
	}
}
