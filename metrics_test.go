package main

import (
	"bytes"
	"context"
	"log"
	"os"
	"strings"
	"testing"
	"time"

	"fluxhub/internal/registry"
	"fluxhub/internal/session"
)

type metricsFakeSender struct{}

func (metricsFakeSender) Close(int, string) {}

func TestRunMetricsLogsWhenActive(t *testing.T) {
	reg := registry.New()
	sessions := session.NewTable()
	reg.Register(&registry.Connection{UserID: "alice", Send: make(chan any, 1), Sender: metricsFakeSender{}, ConnectedAt: time.Now()})
	sessions.Create("s1", "alice", "bob", nil)

	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunMetrics(ctx, reg, sessions, 50*time.Millisecond)
		close(done)
	}()

	time.Sleep(120 * time.Millisecond)
	cancel()
	<-done

	output := buf.String()
	if !strings.Contains(output, "[metrics]") {
		t.Errorf("expected metrics log output, got: %q", output)
	}
	if !strings.Contains(output, "connections=1") {
		t.Errorf("expected connections=1 in output, got: %q", output)
	}
	if !strings.Contains(output, "sessions=1") {
		t.Errorf("expected sessions=1 in output, got: %q", output)
	}
}

func TestRunMetricsSilentWhenEmpty(t *testing.T) {
	reg := registry.New()
	sessions := session.NewTable()

	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunMetrics(ctx, reg, sessions, 50*time.Millisecond)
		close(done)
	}()

	time.Sleep(120 * time.Millisecond)
	cancel()
	<-done

	if strings.Contains(buf.String(), "[metrics]") {
		t.Errorf("expected no output when idle, got: %q", buf.String())
	}
}

func TestRunMetricsStopsOnCancel(t *testing.T) {
	reg := registry.New()
	sessions := session.NewTable()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		RunMetrics(ctx, reg, sessions, 50*time.Millisecond)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunMetrics did not exit after cancel")
	}
}
