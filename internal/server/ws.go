package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	logs "github.com/lilith645/Maat-Network/internal/logging"
)

// wsAddrPrefix keeps WebSocket peers out of the TCP address space in the
// session table.
const wsAddrPrefix = "ws:"

// ServeWebSocket accepts relay clients over WebSocket on ln until ctx is
// cancelled. Every binary message carries exactly one frame.
func (s *Service) ServeWebSocket(ctx context.Context, ln net.Listener) error {
	mux := http.NewServeMux()
	mux.HandleFunc(s.wsPath(), s.handleWS)
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		s.peers.closeAll()
	})
	defer stop()

	logs.Warnf("relay.Service.ServeWebSocket listening addr=%q path=%q", ln.Addr().String(), s.wsPath())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Service) wsPath() string {
	if s.cfg.WSPath == "" {
		return "/ws"
	}
	return s.cfg.WSPath
}

func (s *Service) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.admit() {
		logs.Warnf("relay.ws connection limit reached remote=%q max=%d", r.RemoteAddr, s.cfg.MaxConnections)
		http.Error(w, "connection limit reached", http.StatusServiceUnavailable)
		return
	}
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.active.Add(-1)
		logs.Warnf("relay.ws upgrade remote=%q err=%v", r.RemoteAddr, err)
		return
	}
	conn.SetReadLimit(int64(maxFrameBytes()))
	s.servePeer(newWSWire(conn, wsAddrPrefix+r.RemoteAddr), wsAddrPrefix+r.RemoteAddr)
}

// checkOrigin allows requests without an Origin header, origins listed in
// cors_origins (by full origin or host), and same-host origins otherwise.
func (s *Service) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	if len(s.cfg.CORSOrigins) > 0 {
		for _, allowed := range s.cfg.CORSOrigins {
			allowed = strings.TrimSpace(allowed)
			if allowed == "*" || allowed == origin || allowed == parsed.Host {
				return true
			}
		}
		return false
	}
	return strings.EqualFold(parsed.Host, r.Host)
}
