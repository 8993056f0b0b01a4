package transfer

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"fluxhub/internal/transport"
)

// channelsOpenTimeout bounds how long a sender or receiver waits for all
// N transport channels to report open before giving up.
const channelsOpenTimeout = 30 * time.Second

type chunkFrame struct {
	index   uint32
	payload []byte
}

// controlListener decodes the raw transport.Channels event stream into
// the typed signals both Sender and Receiver drive their state machines
// from. One listener is created per transfer.
type controlListener struct {
	channels   transport.Channels
	transferID string

	done chan struct{}

	opened      chan struct{}
	openedCount atomic.Int32

	ack       chan struct{}
	success   chan struct{}
	failed    chan string
	cancelled chan struct{}
	drained   chan struct{}

	metadata chan FileMetadata
	chunk    chan chunkFrame
	complete chan string
}

func newControlListener(channels transport.Channels, transferID string) *controlListener {
	l := &controlListener{
		channels:   channels,
		transferID: transferID,
		done:       make(chan struct{}),
		opened:     make(chan struct{}, 1),
		ack:        make(chan struct{}, 1),
		success:    make(chan struct{}, 1),
		failed:     make(chan string, 1),
		cancelled:  make(chan struct{}, 1),
		drained:    make(chan struct{}, 1),
		metadata:   make(chan FileMetadata, 1),
		chunk:      make(chan chunkFrame, 512),
		complete:   make(chan string, 1),
	}
	go l.run()
	return l
}

func (l *controlListener) run() {
	events := l.channels.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			l.handle(ev)
		case <-l.done:
			return
		}
	}
}

func (l *controlListener) handle(ev transport.Event) {
	switch ev.Kind {
	case transport.EventChannelOpened:
		l.openedCount.Add(1)
		nonBlockingSignal(l.opened)
	case transport.EventBufferDrained:
		nonBlockingSignal(l.drained)
	case transport.EventInbound:
		l.handleInbound(ev.Inbound)
	}
}

func (l *controlListener) handleInbound(frame []byte) {
	t, body, err := Decode(frame)
	if err != nil {
		return
	}
	switch t {
	case FrameMetadata:
		if meta, err := DecodeMetadata(body); err == nil {
			nonBlockingSend(l.metadata, meta)
		}
	case FrameChunk:
		if index, payload, err := DecodeChunk(body); err == nil {
			cp := make([]byte, len(payload))
			copy(cp, payload)
			select {
			case l.chunk <- chunkFrame{index: index, payload: cp}:
			case <-l.done:
			}
		}
	case FrameComplete:
		nonBlockingSend(l.complete, string(body))
	case FrameAck:
		nonBlockingSignal(l.ack)
	case FrameSuccess:
		nonBlockingSignal(l.success)
	case FrameFailed:
		nonBlockingSend(l.failed, string(body))
	case FrameCancel:
		nonBlockingSignal(l.cancelled)
	}
}

func (l *controlListener) awaitChannelsOpen(ctx context.Context, n int) error {
	if int(l.openedCount.Load()) >= n {
		return nil
	}
	timeout := time.After(channelsOpenTimeout)
	for {
		select {
		case <-l.opened:
			if int(l.openedCount.Load()) >= n {
				return nil
			}
		case <-timeout:
			return fmt.Errorf("timed out waiting for %d channels to open", n)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (l *controlListener) stop() {
	select {
	case <-l.done:
	default:
		close(l.done)
	}
}

func nonBlockingSignal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func nonBlockingSend[T any](ch chan T, v T) {
	select {
	case ch <- v:
	default:
	}
}
