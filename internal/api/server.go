package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"

	xerrors "SageChain/internal/errors"
	"SageChain/internal/observability/metrics"
	"SageChain/internal/price"
	"SageChain/internal/swap"
	"SageChain/internal/wallet"
	"SageChain/internal/web3"
	"SageChain/internal/web3/provider"
	"SageChain/pkg/logger"
)

// PriceSource 提供最近一次行情快照。
type PriceSource interface {
	Latest() (map[string]price.Quote, time.Time)
}

// Option 定义可选配置。
type Option func(*Server)

// WithPrices 挂载行情接口。
func WithPrices(p PriceSource) Option {
	return func(s *Server) { s.prices = p }
}

// WithExplorer 在交易响应中附带区块浏览器链接。
func WithExplorer(chain web3.ChainDefinition) Option {
	return func(s *Server) { s.explorer = &chain }
}

// WithMetrics 控制是否在 API 路由上暴露 /metrics。
func WithMetrics(enabled bool) Option {
	return func(s *Server) { s.exposeMetrics = enabled }
}

// Server 负责暴露钱包会话、交易与行情接口。
type Server struct {
	addr          string
	session       *wallet.Session
	submitter     *swap.Submitter
	prices        PriceSource
	explorer      *web3.ChainDefinition
	exposeMetrics bool
	upgrader      websocket.Upgrader
	log           *slog.Logger
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, session *wallet.Session, submitter *swap.Submitter, opts ...Option) *Server {
	s := &Server{
		addr:          addr,
		session:       session,
		submitter:     submitter,
		exposeMetrics: true,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log: logger.Named("api"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回挂载了全部路由的处理器。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.route(mux, "GET /api/v1/session", s.handleSession)
	s.route(mux, "POST /api/v1/session/connect", s.handleConnect)
	s.route(mux, "POST /api/v1/session/disconnect", s.handleDisconnect)
	mux.HandleFunc("GET /api/v1/session/stream", s.handleStream)
	s.route(mux, "POST /api/v1/tx/buy", s.handleBuy)
	s.route(mux, "POST /api/v1/tx/swap-native", s.handleSwapNative)
	s.route(mux, "POST /api/v1/tx/swap-token", s.handleSwapToken)
	s.route(mux, "GET /api/v1/tokens/{address}/balance", s.handleTokenBalance)
	s.route(mux, "GET /api/v1/prices", s.handlePrices)
	if s.exposeMetrics {
		mux.Handle("GET /metrics", metrics.Handler())
	}
	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.Info("API 服务已启动", slog.String("address", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) route(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.Handle(pattern, instrument(pattern, h))
}

func (s *Server) handleSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.session.State())
}

type connectRequest struct {
	WalletKind string `json:"wallet_kind"`
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	kind, err := provider.ParseKind(req.WalletKind, "")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	state, err := s.session.Connect(r.Context(), kind)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

type disconnectResponse struct {
	Session                     wallet.WalletSession `json:"session"`
	WalletAuthorizationRetained bool                 `json:"wallet_authorization_retained"`
}

func (s *Server) handleDisconnect(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, disconnectResponse{
		Session:                     s.session.Disconnect(),
		WalletAuthorizationRetained: true,
	})
}

type amountRequest struct {
	Amount string `json:"amount"`
}

type tokenSwapRequest struct {
	TokenIn  string `json:"token_in"`
	TokenOut string `json:"token_out"`
	Amount   string `json:"amount"`
}

type transactionResponse struct {
	Transaction *swap.PendingTransaction `json:"transaction"`
	ExplorerURL string                   `json:"explorer_url,omitempty"`
	Code        xerrors.Code             `json:"code,omitempty"`
	Message     string                   `json:"message,omitempty"`
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	tx, err := s.submitter.Buy(r.Context(), req.Amount)
	s.writeTransaction(w, r, tx, err)
}

func (s *Server) handleSwapNative(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	tx, err := s.submitter.SwapNativeForToken(r.Context(), req.Amount)
	s.writeTransaction(w, r, tx, err)
}

func (s *Server) handleSwapToken(w http.ResponseWriter, r *http.Request) {
	var req tokenSwapRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	tx, err := s.submitter.SwapTokenForToken(r.Context(), req.TokenIn, req.TokenOut, req.Amount)
	s.writeTransaction(w, r, tx, err)
}

func (s *Server) writeTransaction(w http.ResponseWriter, r *http.Request, tx *swap.PendingTransaction, err error) {
	resp := transactionResponse{Transaction: tx}
	if tx != nil && tx.Hash != "" && s.explorer != nil {
		resp.ExplorerURL = s.explorer.ExplorerTxURL(tx.Hash)
	}
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, resp)
	case xerrors.HasCode(err, xerrors.CodeConfirmationTimeout) && tx != nil:
		resp.Code = xerrors.CodeConfirmationTimeout
		resp.Message = xerrors.UserMessage(err)
		writeJSON(w, http.StatusAccepted, resp)
	default:
		s.writeError(w, r, err)
	}
}

type tokenBalanceResponse struct {
	Token   string `json:"token"`
	Owner   string `json:"owner"`
	Balance string `json:"balance"`
}

func (s *Server) handleTokenBalance(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.PathValue("address"))
	if !common.IsHexAddress(raw) {
		s.writeError(w, r, xerrors.New(xerrors.CodeInvalidArgument, "token address is not valid"))
		return
	}
	token := common.HexToAddress(raw)
	balance, err := s.session.TokenBalance(r.Context(), token)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenBalanceResponse{
		Token:   token.Hex(),
		Owner:   s.session.State().Address,
		Balance: balance,
	})
}

type pricesResponse struct {
	Quotes    map[string]price.Quote `json:"quotes"`
	UpdatedAt *time.Time             `json:"updated_at,omitempty"`
}

func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	if s.prices == nil {
		s.writeError(w, r, xerrors.New(xerrors.CodeInitialization, "price feed is not configured"))
		return
	}
	quotes, updatedAt := s.prices.Latest()
	resp := pricesResponse{Quotes: quotes}
	if resp.Quotes == nil {
		resp.Quotes = map[string]price.Quote{}
	}
	if !updatedAt.IsZero() {
		resp.UpdatedAt = &updatedAt
	}
	writeJSON(w, http.StatusOK, resp)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func instrument(name string, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h.ServeHTTP(rec, r)
		metrics.ObserveHTTPRequest(name, r.Method, rec.status, time.Since(start))
	})
}
