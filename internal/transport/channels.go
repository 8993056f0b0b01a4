// Package transport implements the Transport Adapter (C6): the only
// piece of the core that knows about the underlying peer-to-peer
// transport library. Everything above this package — the transfer
// protocol in internal/transfer — speaks in terms of the Channels
// interface and never imports a transport-specific type.
package transport

import "context"

// ConnState is the adapter's connection lifecycle state.
type ConnState int

const (
	StateConnecting ConnState = iota
	StateConnected
	StateDisconnected
	StateFailed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Event is one occurrence on the adapter's event stream.
type Event struct {
	Kind          EventKind
	ChannelIndex  int
	Inbound       []byte
	BufferedAmt   uint64
	State         ConnState
	Err           error
}

// EventKind discriminates Event.
type EventKind int

const (
	EventChannelOpened EventKind = iota
	EventChannelClosed
	EventInbound
	EventBufferDrained
	EventStateChanged
)

// Channels is the capability set the transfer protocol depends on. A
// concrete adapter (WebRTC data channels in production, an in-memory
// pair in tests) implements this without the core ever knowing which.
type Channels interface {
	// OpenChannels negotiates n ordered, reliable binary channels
	// labeled labelPrefix-0 .. labelPrefix-(n-1).
	OpenChannels(ctx context.Context, n int, labelPrefix string) error

	// Send enqueues a binary frame on channelIndex. ok=false signals a
	// transient failure (e.g. channel not yet open); the caller may retry.
	Send(channelIndex int, frame []byte) (ok bool, err error)

	// BufferedAmount returns the current send-buffer depth for one channel.
	BufferedAmount(channelIndex int) uint64

	// TotalBufferedAmount sums BufferedAmount across all open channels.
	TotalBufferedAmount() uint64

	// Events returns the adapter's event stream. Close does not close
	// the returned channel.
	Events() <-chan Event

	// Close tears down every channel and the underlying connection.
	Close() error
}
