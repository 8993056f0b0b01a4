// Package restapi defines the collaborator boundary the core depends on
// but does not implement: file listing, rename, trash, quota, and the
// tus resumable-upload surface. It also serves a minimal stub — health
// and live state — for operational monitoring of the core process.
package restapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"fluxhub/internal/registry"
	"fluxhub/internal/session"
	"fluxhub/internal/transport"

	"github.com/labstack/echo/v4"
)

const shutdownTimeout = 5 * time.Second

// FileRecord is the collaborator's view of one stored file, as far as
// the core needs to know about it (a file hint on a session request).
type FileRecord struct {
	ID       string
	Name     string
	Size     int64
	ParentID string
}

// FileLister is implemented by the external CRUD API; the core never
// calls it directly, but a future in-process deployment could wire it.
type FileLister interface {
	ListFiles(ctx context.Context, ownerID, parentID string) ([]FileRecord, error)
}

// FileStore is implemented by the external blob storage backing the
// CRUD API's download/upload endpoints.
type FileStore interface {
	Open(ctx context.Context, fileID string) (data []byte, err error)
	Put(ctx context.Context, ownerID, name string, data []byte) (FileRecord, error)
}

// UploadTerminator is implemented by a tus-protocol endpoint; the core's
// transfer protocol is a distinct, P2P path and never calls this.
type UploadTerminator interface {
	CreateUpload(ctx context.Context, ownerID string, totalSize int64) (uploadID string, err error)
	PatchUpload(ctx context.Context, uploadID string, offset int64, chunk []byte) (newOffset int64, err error)
}

// Server exposes /health and /api/state for operators; it owns no
// collaborator implementation and never routes the CRUD surface above.
type Server struct {
	registry   *registry.Registry
	sessions   *session.Table
	iceServers []transport.ICEServer
	echo       *echo.Echo
}

// New builds a Server reporting liveness over reg and sessions. The ICE
// server list is surfaced on /api/state so a client can bootstrap its
// own transport.WebRTCChannels without a separate discovery request.
func New(reg *registry.Registry, sessions *session.Table, iceServers []transport.ICEServer) *Server {
	s := &Server{registry: reg, sessions: sessions, iceServers: iceServers, echo: echo.New()}
	s.echo.HideBanner = true
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/api/state", s.handleState)
	return s
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleState(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"connections": s.registry.Count(),
		"sessions":    s.sessions.Count(),
		"iceServers":  s.iceServers,
	})
}

// Run starts the stub server on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			slog.Error("restapi shutdown", "err", err)
		}
	}()

	slog.Info("restapi listening", "addr", addr)
	if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
