package main

import (
	"context"
	"log"
	"time"

	"fluxhub/internal/registry"
	"fluxhub/internal/session"
)

// RunMetrics logs registry and session counts every interval until ctx
// is cancelled.
func RunMetrics(ctx context.Context, reg *registry.Registry, sessions *session.Table, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			connections := reg.Count()
			live := sessions.Count()
			if connections > 0 || live > 0 {
				log.Printf("[metrics] connections=%d sessions=%d", connections, live)
			}
		}
	}
}
