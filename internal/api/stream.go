package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"SageChain/internal/wallet"
)

const (
	streamWriteWait  = 5 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = 30 * time.Second
	streamBuffer     = 16
)

// handleStream 推送会话快照：连接建立时先发送当前状态，此后每次变化推送一次。
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("升级 WebSocket 失败", slog.Any("error", err))
		return
	}
	defer conn.Close()

	updates := make(chan wallet.WalletSession, streamBuffer)
	lagged := make(chan struct{}, 1)
	unsubscribe := s.session.Subscribe(func(ws wallet.WalletSession) {
		select {
		case updates <- ws:
		default:
			select {
			case lagged <- struct{}{}:
			default:
			}
		}
	})
	defer unsubscribe()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(streamPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()

	if err := s.writeSnapshot(conn, s.session.State()); err != nil {
		return
	}
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case ws := <-updates:
			if err := s.writeSnapshot(conn, ws); err != nil {
				return
			}
		case <-lagged:
			// The client fell behind; resynchronise with the current state.
			if err := s.writeSnapshot(conn, s.session.State()); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) writeSnapshot(conn *websocket.Conn, ws wallet.WalletSession) error {
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	if err := conn.WriteJSON(ws); err != nil {
		s.log.Debug("推送会话状态失败", slog.Any("error", err))
		return err
	}
	return nil
}
