package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strings"

	"fluxhub/internal/hub"
	"fluxhub/internal/identity"
	"fluxhub/internal/registry"
	"fluxhub/internal/restapi"
	"fluxhub/internal/session"
	"fluxhub/internal/transport"
)

func main() {
	// Check for CLI subcommands before parsing flags.
	if len(os.Args) > 1 {
		// Default DB path for CLI commands (overridable by the -db flag in serve mode).
		cliDB := "fluxhub.db"
		if RunCLI(os.Args[1:], cliDB) {
			return
		}
	}

	addr := flag.String("addr", ":8443", "HTTPS/WebSocket listen address for /flux")
	apiAddr := flag.String("api-addr", ":8080", "REST stub API listen address (empty to disable)")
	dbPath := flag.String("db", "fluxhub.db", "SQLite database path for connect codes and friendships")
	idleTimeout := flag.Duration("idle-timeout", defaultIdleTimeout, "idle timeout of keep-alive HTTP connections on the listener (upgraded /flux websockets use hub.IdleTimeout)")
	certValidity := flag.Duration("cert-validity", defaultCertValidity, "self-signed TLS certificate validity")
	maxConnections := flag.Int("max-connections", defaultMaxConnections, "maximum total /flux connections (0 disables the cap)")
	perIPLimit := flag.Int("per-ip-limit", defaultPerIPLimit, "maximum /flux connections per remote address (0 disables the cap)")
	rateLimit := flag.Float64("rate-limit", defaultRateLimit, "maximum control messages per second per connection (0 disables the limiter)")
	turnURL := flag.String("turn-url", "", "TURN server URL (e.g. turn:turn.example.com:3478)")
	turnUsername := flag.String("turn-username", "", "TURN server username")
	turnCredential := flag.String("turn-credential", "", "TURN server credential")
	devTokens := flag.String("dev-tokens", "", "comma-separated token=userid:email triples, registered with the local StaticVerifier (dev/test only; production deployments front /flux with a real identity provider)")
	metricsInterval := flag.Duration("metrics-interval", defaultMetricsInterval, "interval between metrics log lines")
	flag.Parse()

	store, err := identity.OpenStore(*dbPath)
	if err != nil {
		log.Fatalf("[identity] %v", err)
	}
	defer store.Close()

	verifier := identity.NewStaticVerifier()
	if err := registerDevTokens(verifier, *devTokens); err != nil {
		log.Fatalf("[identity] %v", err)
	}

	dir := identity.NewDirectory(verifier, store)
	reg := registry.New()
	sessions := session.NewTable()
	h := hub.New(dir, reg, sessions, *rateLimit, *maxConnections, *perIPLimit)

	// Extract the hostname from the listen address for the TLS certificate.
	tlsHostname := ""
	if host, _, err := net.SplitHostPort(*addr); err == nil && host != "" {
		tlsHostname = host
	}

	tlsConfig, fingerprint, err := generateTLSConfig(*certValidity, tlsHostname)
	if err != nil {
		log.Fatalf("[server] %v", err)
	}
	log.Printf("[server] TLS certificate fingerprint: %s", fingerprint)

	// Configure ICE servers (STUN + optional TURN) for client-side WebRTC
	// peer connections. The hub itself never touches these — it only
	// relays opaque offer/answer/ICE payloads — so they are surfaced on
	// the REST stub's /api/state for clients to bootstrap with.
	iceServers := []transport.ICEServer{
		{URLs: []string{"stun:stun.l.google.com:19302"}},
	}
	if *turnURL != "" {
		turnServer := transport.ICEServer{URLs: []string{*turnURL}}
		if *turnUsername != "" {
			turnServer.Username = *turnUsername
		}
		if *turnCredential != "" {
			turnServer.Credential = *turnCredential
		}
		iceServers = append(iceServers, turnServer)
		log.Printf("[server] TURN server configured: %s", *turnURL)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Println("[server] shutting down...")
		cancel()
	}()

	go RunMetrics(ctx, reg, sessions, *metricsInterval)

	if *apiAddr != "" {
		api := restapi.New(reg, sessions, iceServers)
		go func() {
			if err := api.Run(ctx, *apiAddr); err != nil {
				log.Printf("[api] %v", err)
			}
		}()
		log.Printf("[api] listening on %s", *apiAddr)
	}

	srv := NewServer(*addr, tlsConfig, h, *idleTimeout)
	if err := srv.Run(ctx); err != nil {
		log.Fatalf("[server] %v", err)
	}
}

// registerDevTokens parses the -dev-tokens flag value ("tok1=u1:a@x.com,
// tok2=u2:b@x.com") into verifier. Empty input is a no-op.
func registerDevTokens(verifier *identity.StaticVerifier, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		tokenAndPeer := strings.SplitN(entry, "=", 2)
		if len(tokenAndPeer) != 2 {
			return fmt.Errorf("malformed -dev-tokens entry %q, want token=userid:email", entry)
		}
		idAndEmail := strings.SplitN(tokenAndPeer[1], ":", 2)
		if len(idAndEmail) != 2 {
			return fmt.Errorf("malformed -dev-tokens entry %q, want token=userid:email", entry)
		}
		verifier.Register(tokenAndPeer[0], identity.Peer{UserID: idAndEmail[0], Email: idAndEmail[1]})
	}
	return nil
}
