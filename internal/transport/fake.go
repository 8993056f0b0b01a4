package transport

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// FakeChannels is an in-memory Channels implementation for driving the
// transfer protocol in tests without a real peer connection. Two
// instances are linked by NewFakePair; a Send on one delivers an
// EventInbound on the other after the configured latency, optionally
// dropped to simulate loss.
type FakeChannels struct {
	peer *FakeChannels

	latency time.Duration
	loss    float64

	mu       sync.Mutex
	buffered []uint64
	closed   bool

	events   chan Event
	closedCh chan struct{}
}

// FakeOptions configures link conditions for a fake channel pair.
type FakeOptions struct {
	Latency  time.Duration
	LossRate float64 // 0..1, fraction of sends (control and chunk frames alike) silently dropped
}

// NewFakePair returns two linked Channels, each delivering to the other.
func NewFakePair(opts FakeOptions) (a, b *FakeChannels) {
	a = &FakeChannels{latency: opts.Latency, loss: opts.LossRate, events: make(chan Event, 256), closedCh: make(chan struct{})}
	b = &FakeChannels{latency: opts.Latency, loss: opts.LossRate, events: make(chan Event, 256), closedCh: make(chan struct{})}
	a.peer = b
	b.peer = a
	return a, b
}

func (f *FakeChannels) OpenChannels(ctx context.Context, n int, labelPrefix string) error {
	f.mu.Lock()
	f.buffered = make([]uint64, n)
	f.mu.Unlock()

	for i := 0; i < n; i++ {
		select {
		case f.events <- Event{Kind: EventChannelOpened, ChannelIndex: i}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (f *FakeChannels) Send(channelIndex int, frame []byte) (bool, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return false, errors.New("fake channel closed")
	}
	if channelIndex < 0 || channelIndex >= len(f.buffered) {
		f.mu.Unlock()
		return false, fmt.Errorf("invalid channel index %d", channelIndex)
	}
	f.buffered[channelIndex] += uint64(len(frame))
	f.mu.Unlock()

	go f.deliver(channelIndex, frame)
	return true, nil
}

func (f *FakeChannels) deliver(channelIndex int, frame []byte) {
	if f.latency > 0 {
		time.Sleep(f.latency)
	}

	dropped := f.loss > 0 && rand.Float64() < f.loss
	f.drain(channelIndex, len(frame))
	if dropped {
		return
	}

	if f.peer == nil {
		return
	}
	select {
	case f.peer.events <- Event{Kind: EventInbound, ChannelIndex: channelIndex, Inbound: frame}:
	case <-f.peer.closedCh:
	}
}

func (f *FakeChannels) drain(channelIndex int, n int) {
	f.mu.Lock()
	if int(f.buffered[channelIndex]) >= n {
		f.buffered[channelIndex] -= uint64(n)
	} else {
		f.buffered[channelIndex] = 0
	}
	total := f.totalLocked()
	f.mu.Unlock()

	select {
	case f.events <- Event{Kind: EventBufferDrained, ChannelIndex: channelIndex, BufferedAmt: total}:
	default:
	}
}

func (f *FakeChannels) BufferedAmount(channelIndex int) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if channelIndex < 0 || channelIndex >= len(f.buffered) {
		return 0
	}
	return f.buffered[channelIndex]
}

func (f *FakeChannels) TotalBufferedAmount() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.totalLocked()
}

func (f *FakeChannels) totalLocked() uint64 {
	var total uint64
	for _, b := range f.buffered {
		total += b
	}
	return total
}

func (f *FakeChannels) Events() <-chan Event { return f.events }

func (f *FakeChannels) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	f.mu.Unlock()
	close(f.closedCh)
	return nil
}
