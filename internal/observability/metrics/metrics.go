package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sagewallet"

// Registry 是本进程所有指标的注册表。
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	httpRequestsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests processed.",
	}, []string{"handler", "method", "code"})

	httpRequestDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"handler", "method"})

	providerRequestDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "provider_request_duration_seconds",
		Help:      "Latency of wallet provider requests.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"wallet", "method", "outcome"})

	// TransactionsTotal 按交易类型与终态计数。
	TransactionsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transactions_total",
		Help:      "Transactions by kind and resulting status.",
	}, []string{"kind", "status"})

	// ConnectAttemptsTotal 记录连接钱包的尝试结果。
	ConnectAttemptsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "connect_attempts_total",
		Help:      "Wallet connection attempts by wallet kind and outcome.",
	}, []string{"kind", "outcome"})

	sessionConnected = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "session_connected",
		Help:      "1 while a wallet session is connected.",
	})

	// PricePollsTotal 记录价格轮询的结果。
	PricePollsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "price_polls_total",
		Help:      "Price feed polls by outcome.",
	}, []string{"outcome"})

	// EventsPublishedTotal 记录事件投递结果。
	EventsPublishedTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_published_total",
		Help:      "Session and transaction events published by driver and outcome.",
	}, []string{"driver", "outcome"})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// ObserveProviderRequest records the latency of a wallet request.
func ObserveProviderRequest(wallet, method string, err error, duration time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	providerRequestDuration.WithLabelValues(wallet, method, outcome).Observe(duration.Seconds())
}

// SetSessionConnected flips the connected gauge.
func SetSessionConnected(connected bool) {
	if connected {
		sessionConnected.Set(1)
		return
	}
	sessionConnected.Set(0)
}

// Handler exposes the metrics in Prometheus text exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

// StartServer launches a standalone HTTP server exposing the /metrics endpoint.
func StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
