package main

import "time"

// Operational limits — named constants for values that were previously
// scattered across multiple source files.
const (
	// defaultIdleTimeout is the idle timeout of keep-alive HTTP
	// connections on the /flux listener (http.Server.IdleTimeout). It
	// does not apply to upgraded websocket connections, whose read
	// deadline is hub.IdleTimeout.
	defaultIdleTimeout = 90 * time.Second

	// defaultCertValidity is how long the self-signed TLS certificate
	// generated at startup remains valid.
	defaultCertValidity = 90 * 24 * time.Hour

	// defaultRateLimit is the default per-connection control-message rate
	// limit, in messages per second. 0 disables the limiter.
	defaultRateLimit = 20.0

	// defaultMaxConnections caps total concurrent /flux connections. 0
	// disables the cap.
	defaultMaxConnections = 0

	// defaultPerIPLimit caps concurrent /flux connections from a single
	// remote address. 0 disables the cap.
	defaultPerIPLimit = 0

	// defaultMetricsInterval is how often RunMetrics logs a snapshot.
	defaultMetricsInterval = 30 * time.Second
)
