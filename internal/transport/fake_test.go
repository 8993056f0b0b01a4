package transport

import (
	"context"
	"testing"
	"time"
)

func TestFakePairOpenChannelsEmitsOpenedEvents(t *testing.T) {
	a, b := NewFakePair(FakeOptions{})
	defer a.Close()
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := a.OpenChannels(ctx, 2, "t"); err != nil {
		t.Fatalf("open channels: %v", err)
	}

	seen := 0
	for seen < 2 {
		select {
		case ev := <-a.Events():
			if ev.Kind == EventChannelOpened {
				seen++
			}
		case <-ctx.Done():
			t.Fatal("timed out waiting for channel-opened events")
		}
	}
}

func TestFakePairDeliversSendToPeer(t *testing.T) {
	a, b := NewFakePair(FakeOptions{})
	defer a.Close()
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := a.OpenChannels(ctx, 1, "t"); err != nil {
		t.Fatalf("open a: %v", err)
	}
	if err := b.OpenChannels(ctx, 1, "t"); err != nil {
		t.Fatalf("open b: %v", err)
	}

	if ok, err := a.Send(0, []byte("hello")); err != nil || !ok {
		t.Fatalf("send: ok=%v err=%v", ok, err)
	}

	for {
		select {
		case ev := <-b.Events():
			if ev.Kind == EventInbound {
				if string(ev.Inbound) != "hello" {
					t.Fatalf("expected 'hello', got %q", ev.Inbound)
				}
				return
			}
		case <-ctx.Done():
			t.Fatal("timed out waiting for inbound delivery")
		}
	}
}

func TestFakeSendToClosedChannelFails(t *testing.T) {
	a, b := NewFakePair(FakeOptions{})
	defer b.Close()

	ctx := context.Background()
	if err := a.OpenChannels(ctx, 1, "t"); err != nil {
		t.Fatalf("open: %v", err)
	}
	a.Close()

	if ok, err := a.Send(0, []byte("x")); ok || err == nil {
		t.Fatalf("expected send on closed channel to fail, got ok=%v err=%v", ok, err)
	}
}

func TestBufferedAmountTracksSendAndDrain(t *testing.T) {
	a, b := NewFakePair(FakeOptions{Latency: 20 * time.Millisecond})
	defer a.Close()
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := a.OpenChannels(ctx, 1, "t"); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := b.OpenChannels(ctx, 1, "t"); err != nil {
		t.Fatalf("open: %v", err)
	}

	if _, err := a.Send(0, make([]byte, 100)); err != nil {
		t.Fatalf("send: %v", err)
	}
	if a.BufferedAmount(0) == 0 {
		t.Fatal("expected buffered amount to be nonzero immediately after send")
	}

	deadline := time.After(time.Second)
	for a.TotalBufferedAmount() != 0 {
		select {
		case <-a.Events():
		case <-deadline:
			t.Fatal("timed out waiting for buffer to drain")
		}
	}
}
