package main

import (
	"context"
	"crypto/tls"
	"errors"
	"log"
	"net/http"
	"time"

	"fluxhub/internal/hub"

	"github.com/labstack/echo/v4"
)

// Server holds the Flux signaling server: an Echo app fronting
// internal/hub, terminated over the self-signed TLS config generated at
// startup.
type Server struct {
	addr        string
	tlsConfig   *tls.Config
	hub         *hub.Hub
	idleTimeout time.Duration
	echo        *echo.Echo
}

// NewServer builds a Server that registers h on the /flux route.
func NewServer(addr string, tlsConfig *tls.Config, h *hub.Hub, idleTimeout time.Duration) *Server {
	e := echo.New()
	e.HideBanner = true
	h.Register(e)
	e.GET("/", func(c echo.Context) error {
		return c.String(http.StatusOK, "flux signaling server")
	})

	return &Server{
		addr:        addr,
		tlsConfig:   tlsConfig,
		hub:         h,
		idleTimeout: idleTimeout,
		echo:        e,
	}
}

// Run starts the HTTPS + WebSocket server and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	httpSrv := &http.Server{
		Addr:              s.addr,
		Handler:           s.echo,
		TLSConfig:         s.tlsConfig,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       s.idleTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Printf("[server] shutdown: %v", err)
		}
	}()

	log.Printf("[server] listening on %s", s.addr)

	err := httpSrv.ListenAndServeTLS("", "")
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
