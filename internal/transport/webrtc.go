package transport

import (
	"context"
	"fmt"
	"sync"

	pion "github.com/pion/webrtc/v4"
)

// ICEServer mirrors the subset of pion's ICEServer the operator CLI
// flags (-turn-url, -turn-username, -turn-credential) populate.
type ICEServer struct {
	URLs       []string
	Username   string
	Credential string
}

// WebRTCChannels is the production Channels adapter: it wraps one
// *pion.PeerConnection and the N ordered data channels negotiated over
// it. The signaling hub never sees this type — offer/answer/ICE
// candidates are relayed as opaque JSON by C3, and WebRTCChannels only
// exposes the methods a caller needs to drive that negotiation
// (CreateOffer, SetRemoteDescription, AddICECandidate) plus Channels.
type WebRTCChannels struct {
	pc *pion.PeerConnection

	mu       sync.Mutex
	channels []*pion.DataChannel

	events chan Event

	// pendingCandidates buffers ICE candidates that arrive before the
	// remote description is set, applied once SetRemoteDescription runs.
	pendingCandidates []pion.ICECandidateInit
	remoteDescSet     bool
}

// NewWebRTCChannels opens a peer connection configured with the given
// ICE servers. forceRelay restricts ICE to TURN-only, for operators
// behind especially restrictive NATs.
func NewWebRTCChannels(iceServers []ICEServer, forceRelay bool) (*WebRTCChannels, error) {
	servers := make([]pion.ICEServer, 0, len(iceServers))
	for _, s := range iceServers {
		servers = append(servers, pion.ICEServer{URLs: s.URLs, Username: s.Username, Credential: s.Credential})
	}

	policy := pion.ICETransportPolicyAll
	if forceRelay {
		policy = pion.ICETransportPolicyRelay
	}

	pc, err := pion.NewPeerConnection(pion.Configuration{
		ICEServers:         servers,
		ICETransportPolicy: policy,
	})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	w := &WebRTCChannels{pc: pc, events: make(chan Event, 256)}

	pc.OnConnectionStateChange(func(s pion.PeerConnectionState) {
		w.emitState(connStateFromPion(s))
	})
	pc.OnICECandidate(func(c *pion.ICECandidate) {
		if c == nil {
			return
		}
		w.emit(Event{Kind: EventStateChanged, State: StateConnecting})
	})

	return w, nil
}

func connStateFromPion(s pion.PeerConnectionState) ConnState {
	switch s {
	case pion.PeerConnectionStateConnected:
		return StateConnected
	case pion.PeerConnectionStateDisconnected, pion.PeerConnectionStateClosed:
		return StateDisconnected
	case pion.PeerConnectionStateFailed:
		return StateFailed
	default:
		return StateConnecting
	}
}

func (w *WebRTCChannels) emit(e Event) {
	select {
	case w.events <- e:
	default:
	}
}

func (w *WebRTCChannels) emitState(s ConnState) {
	w.emit(Event{Kind: EventStateChanged, State: s})
}

// OpenChannels creates n ordered, reliable data channels labeled
// labelPrefix-0 .. labelPrefix-(n-1). Channel 0 is used for control
// frames by convention of the caller (internal/transfer), not enforced
// here.
func (w *WebRTCChannels) OpenChannels(ctx context.Context, n int, labelPrefix string) error {
	ordered := true
	channels := make([]*pion.DataChannel, n)

	for i := 0; i < n; i++ {
		dc, err := w.pc.CreateDataChannel(fmt.Sprintf("%s-%d", labelPrefix, i), &pion.DataChannelInit{Ordered: &ordered})
		if err != nil {
			return fmt.Errorf("create data channel %d: %w", i, err)
		}
		idx := i
		dc.OnOpen(func() {
			w.emit(Event{Kind: EventChannelOpened, ChannelIndex: idx})
		})
		dc.OnClose(func() {
			w.emit(Event{Kind: EventChannelClosed, ChannelIndex: idx})
		})
		dc.OnMessage(func(msg pion.DataChannelMessage) {
			w.emit(Event{Kind: EventInbound, ChannelIndex: idx, Inbound: msg.Data})
		})
		dc.SetBufferedAmountLowThreshold(lowWaterMarkBytes)
		dc.OnBufferedAmountLow(func() {
			w.emit(Event{Kind: EventBufferDrained, ChannelIndex: idx, BufferedAmt: w.BufferedAmount(idx)})
		})
		channels[i] = dc
	}

	w.mu.Lock()
	w.channels = channels
	w.mu.Unlock()
	return nil
}

// lowWaterMarkBytes is the pion buffered-amount-low threshold; actual
// transfer-level watermarks are enforced by internal/transfer, which
// polls TotalBufferedAmount and reacts to EventBufferDrained.
const lowWaterMarkBytes = 4 * 1024 * 1024

func (w *WebRTCChannels) Send(channelIndex int, frame []byte) (bool, error) {
	w.mu.Lock()
	if channelIndex < 0 || channelIndex >= len(w.channels) {
		w.mu.Unlock()
		return false, fmt.Errorf("invalid channel index %d", channelIndex)
	}
	dc := w.channels[channelIndex]
	w.mu.Unlock()

	if dc.ReadyState() != pion.DataChannelStateOpen {
		return false, nil
	}
	if err := dc.Send(frame); err != nil {
		return false, fmt.Errorf("send on channel %d: %w", channelIndex, err)
	}
	return true, nil
}

func (w *WebRTCChannels) BufferedAmount(channelIndex int) uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	if channelIndex < 0 || channelIndex >= len(w.channels) {
		return 0
	}
	return w.channels[channelIndex].BufferedAmount()
}

func (w *WebRTCChannels) TotalBufferedAmount() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	var total uint64
	for _, dc := range w.channels {
		total += dc.BufferedAmount()
	}
	return total
}

func (w *WebRTCChannels) Events() <-chan Event { return w.events }

func (w *WebRTCChannels) Close() error {
	w.mu.Lock()
	channels := w.channels
	w.mu.Unlock()
	for _, dc := range channels {
		_ = dc.Close()
	}
	return w.pc.Close()
}

// CreateOffer starts local SDP negotiation. ICE candidates are gathered
// asynchronously via OnICECandidate and must be relayed by the caller
// through C3 as they arrive (trickle ICE).
func (w *WebRTCChannels) CreateOffer() (pion.SessionDescription, error) {
	offer, err := w.pc.CreateOffer(nil)
	if err != nil {
		return pion.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	if err := w.pc.SetLocalDescription(offer); err != nil {
		return pion.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	return offer, nil
}

// CreateAnswer mirrors CreateOffer for the responding side, after
// SetRemoteDescription has been called with the initiator's offer.
func (w *WebRTCChannels) CreateAnswer() (pion.SessionDescription, error) {
	answer, err := w.pc.CreateAnswer(nil)
	if err != nil {
		return pion.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	if err := w.pc.SetLocalDescription(answer); err != nil {
		return pion.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	return answer, nil
}

// SetRemoteDescription applies the counterparty's SDP and flushes any
// ICE candidates buffered before it arrived (§9 open question: a
// session may see rtc_session_accept before the remote description).
func (w *WebRTCChannels) SetRemoteDescription(desc pion.SessionDescription) error {
	if err := w.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}

	w.mu.Lock()
	pending := w.pendingCandidates
	w.pendingCandidates = nil
	w.remoteDescSet = true
	w.mu.Unlock()

	for _, c := range pending {
		if err := w.pc.AddICECandidate(c); err != nil {
			return fmt.Errorf("add buffered ICE candidate: %w", err)
		}
	}
	return nil
}

// AddICECandidate applies an incoming candidate, buffering it if the
// remote description has not yet been set.
func (w *WebRTCChannels) AddICECandidate(candidate pion.ICECandidateInit) error {
	w.mu.Lock()
	if !w.remoteDescSet {
		w.pendingCandidates = append(w.pendingCandidates, candidate)
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()
	if err := w.pc.AddICECandidate(candidate); err != nil {
		return fmt.Errorf("add ICE candidate: %w", err)
	}
	return nil
}

// LocalDescription returns the current local SDP, if one has been set.
func (w *WebRTCChannels) LocalDescription() *pion.SessionDescription {
	return w.pc.LocalDescription()
}

// OnICECandidate registers a callback invoked once per locally gathered
// candidate, for the caller to relay through C3 as rtc_ice_candidate.
func (w *WebRTCChannels) OnICECandidate(fn func(pion.ICECandidateInit)) {
	w.pc.OnICECandidate(func(c *pion.ICECandidate) {
		if c == nil {
			return
		}
		fn(c.ToJSON())
	})
}
