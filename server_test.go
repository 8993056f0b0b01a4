package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"fluxhub/internal/hub"
	"fluxhub/internal/identity"
	"fluxhub/internal/registry"
	"fluxhub/internal/session"
)

var testPort atomic.Int32

func init() {
	testPort.Store(18443)
}

func getFreePort() int {
	addr, err := net.ResolveTCPAddr("tcp", "127.0.0.1:0")
	if err != nil {
		return int(testPort.Add(1))
	}
	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return int(testPort.Add(1))
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return port
}

func startTestServer(t *testing.T) (addr string, cancel context.CancelFunc) {
	t.Helper()

	tlsConfig, _, err := generateTLSConfig(time.Hour, "127.0.0.1")
	if err != nil {
		t.Fatalf("generateTLSConfig: %v", err)
	}

	store, err := identity.OpenStore(":memory:")
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	verifier := identity.NewStaticVerifier()
	verifier.Register("tok-alice", identity.Peer{UserID: "alice", Email: "alice@example.com"})

	dir := identity.NewDirectory(verifier, store)
	reg := registry.New()
	sessions := session.NewTable()
	h := hub.New(dir, reg, sessions, 0, 0, 0)

	port := getFreePort()
	addr = fmt.Sprintf("127.0.0.1:%d", port)

	ctx, cancel := context.WithCancel(context.Background())
	srv := NewServer(addr, tlsConfig, h, defaultIdleTimeout)

	go func() {
		_ = srv.Run(ctx)
	}()

	time.Sleep(200 * time.Millisecond)
	return addr, cancel
}

func TestServerUpgradesFluxWebsocket(t *testing.T) {
	addr, cancel := startTestServer(t)
	defer cancel()

	dialer := websocket.Dialer{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		HandshakeTimeout: 5 * time.Second,
	}
	url := fmt.Sprintf("wss://%s/flux?token=tok-alice", addr)
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var msg map[string]any
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read connected message: %v", err)
	}
	if msg["type"] != "connected" {
		t.Errorf("expected type=connected, got %v", msg["type"])
	}
}

func TestServerRootRespondsOverHTTPS(t *testing.T) {
	addr, cancel := startTestServer(t)
	defer cancel()

	client := &http.Client{
		Transport: &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}},
		Timeout:   5 * time.Second,
	}
	resp, err := client.Get(fmt.Sprintf("https://%s/", addr))
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}
