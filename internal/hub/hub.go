// Package hub implements the Flux signaling hub (C3): it terminates
// websocket connections, authenticates peers, dispatches typed control
// messages, and enforces per-message invariants against the Connection
// Registry (C2) and Session Table (C4).
package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"fluxhub/internal/identity"
	"fluxhub/internal/protocol"
	"fluxhub/internal/registry"
	"fluxhub/internal/session"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

const (
	writeTimeout = 5 * time.Second
	// IdleTimeout bounds how long a connection may go without any client
	// activity before the hub's read deadline expires it. The spec
	// recommends >= 60s; the hub also drives its own ping.
	IdleTimeout = 90 * time.Second
	pingInterval = 30 * time.Second
	authTimeout  = 5 * time.Second

	sendBuffer = 64
)

// Close codes used on the /flux websocket, per §6.
const (
	CloseMissingOrInvalidToken = 4001
	CloseUpgradeFailure        = 4000
	CloseSuperseded            = 1001
)

// Hub owns the live registry, session table, and identity directory, and
// serves the /flux websocket endpoint.
type Hub struct {
	directory *identity.Directory
	registry  *registry.Registry
	sessions  *session.Table
	upgrader  websocket.Upgrader

	perConnRate float64

	mu        sync.Mutex
	perIPConn map[string]int
	maxConns  int
	perIPMax  int
}

// New builds a Hub. perConnRate is the max control messages/sec allowed
// per connection (0 disables the limiter); maxConns/perIPMax are 0 to
// disable those caps.
func New(dir *identity.Directory, reg *registry.Registry, sessions *session.Table, perConnRate float64, maxConns, perIPMax int) *Hub {
	return &Hub{
		directory: dir,
		registry:  reg,
		sessions:  sessions,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
		perConnRate: perConnRate,
		perIPConn:   make(map[string]int),
		maxConns:    maxConns,
		perIPMax:    perIPMax,
	}
}

// Register binds the /flux route on an Echo router.
func (h *Hub) Register(e *echo.Echo) {
	e.GET("/flux", h.handleUpgrade)
}

func (h *Hub) handleUpgrade(c echo.Context) error {
	remoteAddr := c.RealIP()

	if h.overConnLimit(remoteAddr) {
		slog.Warn("flux upgrade rejected: connection limit", "remote", remoteAddr)
		return echo.NewHTTPError(http.StatusTooManyRequests, "connection limit reached")
	}

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Error("flux upgrade failed", "remote", remoteAddr, "err", err)
		return nil
	}
	h.trackConn(remoteAddr, 1)
	defer h.trackConn(remoteAddr, -1)

	h.serveConn(c.Request().Context(), conn, c.Request().URL.Query().Get("token"), remoteAddr)
	return nil
}

func (h *Hub) overConnLimit(remoteAddr string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.maxConns > 0 && h.totalConnsLocked() >= h.maxConns {
		return true
	}
	if h.perIPMax > 0 && h.perIPConn[remoteAddr] >= h.perIPMax {
		return true
	}
	return false
}

func (h *Hub) totalConnsLocked() int {
	total := 0
	for _, n := range h.perIPConn {
		total += n
	}
	return total
}

func (h *Hub) trackConn(remoteAddr string, delta int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.perIPConn[remoteAddr] += delta
	if h.perIPConn[remoteAddr] <= 0 {
		delete(h.perIPConn, remoteAddr)
	}
}

func (h *Hub) serveConn(ctx context.Context, conn *websocket.Conn, token, remoteAddr string) {
	defer conn.Close()

	authCtx, cancel := context.WithTimeout(ctx, authTimeout)
	peer, err := h.authenticate(authCtx, token)
	cancel()
	if err != nil {
		code := CloseUpgradeFailure
		if err == identity.ErrUnauthenticated || token == "" {
			code = CloseMissingOrInvalidToken
		}
		slog.Warn("flux auth failed", "remote", remoteAddr, "err", err)
		closeWithCode(conn, code, "auth failed")
		return
	}

	connection := &registry.Connection{
		UserID:      peer.UserID,
		Send:        make(chan any, sendBuffer),
		Sender:      &wsSender{conn: conn},
		ConnectedAt: time.Now(),
	}
	h.registry.Register(connection)
	slog.Info("flux connected", "user_id", peer.UserID, "remote", remoteAddr)
	h.onConnect(peer.UserID)

	defer func() {
		if h.registry.Unregister(connection) {
			h.onDisconnect(peer.UserID)
		}
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.writeLoop(conn, connection.Send)
	}()

	h.registry.SendTo(peer.UserID, protocol.Message{
		Type:   protocol.TypeConnected,
		UserID: peer.UserID,
		Email:  peer.Email,
	})

	go h.pingLoop(ctx, peer.UserID, connection.Send)

	var limiter *rate.Limiter
	if h.perConnRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(h.perConnRate), int(h.perConnRate)+1)
	}

	_ = conn.SetReadDeadline(time.Now().Add(IdleTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(IdleTimeout))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("flux unexpected close", "user_id", peer.UserID, "err", err)
			}
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(IdleTimeout))

		if limiter != nil && !limiter.Allow() {
			slog.Warn("flux rate limit exceeded, dropping message", "user_id", peer.UserID)
			continue
		}

		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Debug("flux malformed json", "user_id", peer.UserID, "err", err)
			h.registry.SendTo(peer.UserID, protocol.Message{Type: protocol.TypeError, Message: "Internal error"})
			continue
		}
		h.handleInbound(peer.UserID, msg)
	}

	close(connection.Send)
	wg.Wait()
}

func (h *Hub) authenticate(ctx context.Context, token string) (identity.Peer, error) {
	if strings.TrimSpace(token) == "" {
		return identity.Peer{}, identity.ErrUnauthenticated
	}
	return h.directory.Authenticate(ctx, token)
}

func (h *Hub) writeLoop(conn *websocket.Conn, out <-chan any) {
	for msg := range out {
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(msg); err != nil {
			slog.Debug("flux write error", "err", err)
			return
		}
	}
}

func (h *Hub) pingLoop(ctx context.Context, userID string, out chan<- any) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !h.registry.IsOnline(userID) {
				return
			}
			select {
			case out <- protocol.Message{Type: protocol.TypePing, Timestamp: time.Now().UnixMilli()}:
			default:
			}
		}
	}
}

func closeWithCode(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_ = conn.WriteMessage(websocket.CloseMessage, msg)
}

// wsSender adapts *websocket.Conn to registry.Sender.
type wsSender struct {
	conn *websocket.Conn
}

func (s *wsSender) Close(statusCode int, reason string) {
	closeWithCode(s.conn, statusCode, reason)
	_ = s.conn.Close()
}
