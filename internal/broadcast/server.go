package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"whale_go/internal/domain"
	"whale_go/internal/infra"

	"github.com/gorilla/websocket"
)

// HealthFunc builds the /healthz document.
type HealthFunc func() any

// Server exposes the subscriber endpoints plus health and metrics.
type Server struct {
	hub          *Hub
	auth         *Authenticator
	upgrader     websocket.Upgrader
	health       HealthFunc
	writeTimeout time.Duration
	logger       *slog.Logger
}

// NewServer wires the routes. health may be nil.
func NewServer(hub *Hub, auth *Authenticator, writeTimeout time.Duration, health HealthFunc) *Server {
	return &Server{
		hub:  hub,
		auth: auth,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		health:       health,
		writeTimeout: writeTimeout,
		logger:       slog.Default().With(slog.String("module", "server")),
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/private", s.serveTier(TierPrivate, "token"))
	mux.HandleFunc("/vip", s.serveTier(TierVIP, "key"))
	mux.HandleFunc("/public", s.serveTier(TierPublic, ""))
	mux.HandleFunc("/healthz", s.serveHealth)
	mux.Handle("/metrics", infra.MetricsHandler())
	return mux
}

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) serveTier(tier Tier, param string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var credential string
		if param != "" {
			credential = r.URL.Query().Get(param)
		}
		if err := s.auth.Check(tier, credential); err != nil {
			status := http.StatusForbidden
			var authErr *domain.AuthError
			if errors.As(err, &authErr) && authErr.Missing {
				status = http.StatusUnauthorized
			}
			s.logger.Warn("Subscriber rejected",
				slog.String("tier", string(tier)),
				slog.String("remote", r.RemoteAddr),
				slog.Any("error", err))
			http.Error(w, err.Error(), status)
			return
		}

		ws, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already wrote the response
			s.logger.Debug("Upgrade failed", slog.Any("error", err))
			return
		}
		sub := s.hub.Register(&wsConn{conn: ws, writeTimeout: s.writeTimeout}, tier)
		s.readLoop(ws, sub)
	}
}

// readLoop discards client frames and notices disconnects.
func (s *Server) readLoop(ws *websocket.Conn, sub *Subscriber) {
	defer sub.Close()
	ws.SetReadLimit(4096)
	for {
		select {
		case <-sub.Done():
			return
		default:
		}
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) serveHealth(w http.ResponseWriter, r *http.Request) {
	var doc any = infra.GlobalMetrics.Snapshot()
	if s.health != nil {
		doc = s.health()
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(doc); err != nil {
		s.logger.Warn("Failed to write health", slog.Any("error", err))
	}
}

// wsConn serialises writes on a gorilla connection.
type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	writeMu      sync.Mutex
}

func (c *wsConn) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.writeTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	deadline := time.Now().Add(10 * time.Second)
	if c.writeTimeout > 0 {
		deadline = time.Now().Add(c.writeTimeout)
	}
	return c.conn.WriteControl(websocket.PingMessage, nil, deadline)
}

func (c *wsConn) Close() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return c.conn.Close()
}
