package hub

import (
	"context"
	"log/slog"
	"time"

	"fluxhub/internal/identity"
	"fluxhub/internal/protocol"
	"fluxhub/internal/session"
)

const dispatchTimeout = 3 * time.Second

// handleInbound dispatches one decoded control message from userID.
func (h *Hub) handleInbound(userID string, msg protocol.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()

	switch msg.Type {
	case protocol.TypePing:
		h.registry.SendTo(userID, protocol.Message{Type: protocol.TypePong, Timestamp: msg.Timestamp})

	case protocol.TypeGetConnectCode:
		h.handleGetConnectCode(ctx, userID)

	case protocol.TypeGetFriends:
		h.handleGetFriends(ctx, userID)

	case protocol.TypeAddFriend:
		h.handleAddFriend(ctx, userID, msg)

	case protocol.TypeRTCSessionRequest:
		h.handleSessionRequest(ctx, userID, msg)
	case protocol.TypeRTCSessionAccept:
		h.handleSessionAccept(userID, msg)
	case protocol.TypeRTCSessionReject:
		h.handleSessionReject(userID, msg)
	case protocol.TypeRTCSessionReady:
		h.handleSessionReady(userID, msg)
	case protocol.TypeRTCSessionClose:
		h.handleSessionClose(userID, msg)

	case protocol.TypeRTCOffer, protocol.TypeRTCAnswer, protocol.TypeRTCIceCandidate:
		h.relaySessionPayload(userID, msg)

	default:
		slog.Debug("flux unknown message type", "user_id", userID, "type", msg.Type)
	}
}

func (h *Hub) handleGetConnectCode(ctx context.Context, userID string) {
	code, err := h.directory.GetOrCreateConnectCode(ctx, userID)
	if err != nil {
		slog.Error("flux get connect code", "user_id", userID, "err", err)
		h.registry.SendTo(userID, protocol.Message{Type: protocol.TypeError, Message: "Internal error"})
		return
	}
	h.registry.SendTo(userID, protocol.Message{Type: protocol.TypeConnectCode, Code: code})
}

func (h *Hub) handleGetFriends(ctx context.Context, userID string) {
	ids, err := h.directory.FriendIDs(ctx, userID)
	if err != nil {
		slog.Error("flux get friends", "user_id", userID, "err", err)
		h.registry.SendTo(userID, protocol.Message{Type: protocol.TypeError, Message: "Internal error"})
		return
	}

	views := make([]protocol.FriendView, 0, len(ids))
	for _, id := range ids {
		view := protocol.FriendView{ID: id, IsOnline: h.registry.IsOnline(id)}
		if peer, ok := h.directory.PeerByID(id); ok {
			view.Email = peer.Email
			view.Handle = peer.Handle()
		}
		views = append(views, view)
	}
	h.registry.SendTo(userID, protocol.Message{Type: protocol.TypeFriendsList, Friends: views})
}

func (h *Hub) handleAddFriend(ctx context.Context, userID string, msg protocol.Message) {
	if msg.Code == "" {
		h.registry.SendTo(userID, protocol.Message{Type: protocol.TypeError, Message: "Missing connect code"})
		return
	}

	friendID, err := h.directory.ResolveCode(ctx, msg.Code)
	if err != nil {
		h.registry.SendTo(userID, protocol.Message{Type: protocol.TypeError, Message: "Invalid connect code"})
		return
	}

	if err := h.directory.AddFriendship(ctx, userID, friendID); err != nil {
		switch err {
		case identity.ErrAlreadyFriends:
			h.registry.SendTo(userID, protocol.Message{Type: protocol.TypeError, Message: "Already friends"})
		case identity.ErrSelfFriend:
			h.registry.SendTo(userID, protocol.Message{Type: protocol.TypeError, Message: "Cannot add yourself"})
		default:
			slog.Error("flux add friend", "user_id", userID, "err", err)
			h.registry.SendTo(userID, protocol.Message{Type: protocol.TypeError, Message: "Internal error"})
		}
		return
	}

	friendView := protocol.FriendView{ID: friendID, IsOnline: h.registry.IsOnline(friendID)}
	if peer, ok := h.directory.PeerByID(friendID); ok {
		friendView.Email = peer.Email
		friendView.Handle = peer.Handle()
	}
	h.registry.SendTo(userID, protocol.Message{Type: protocol.TypeFriendAdded, Friend: &friendView})

	selfView := protocol.FriendView{ID: userID, IsOnline: true}
	if peer, ok := h.directory.PeerByID(userID); ok {
		selfView.Email = peer.Email
		selfView.Handle = peer.Handle()
	}
	h.registry.SendTo(friendID, protocol.Message{Type: protocol.TypeFriendAdded, Friend: &selfView})
}

// handleSessionRequest begins a new session, provided the responder is
// online and the two peers are friends (§4.4 invariant: signaling is only
// brokered between peers who already hold each other's id).
func (h *Hub) handleSessionRequest(ctx context.Context, userID string, msg protocol.Message) {
	if msg.PeerID == "" {
		h.registry.SendTo(userID, protocol.Message{Type: protocol.TypeError, Message: "Missing peerId"})
		return
	}
	if !h.registry.IsOnline(msg.PeerID) {
		h.registry.SendTo(userID, protocol.Message{Type: protocol.TypeError, Message: "Peer not connected"})
		return
	}
	if msg.SessionID == "" {
		h.registry.SendTo(userID, protocol.Message{Type: protocol.TypeError, Message: "Missing sessionId"})
		return
	}
	if _, exists := h.sessions.Get(msg.SessionID); exists {
		h.registry.SendTo(userID, protocol.Message{Type: protocol.TypeError, Message: "Session already exists"})
		return
	}

	areFriends, err := h.areFriends(ctx, userID, msg.PeerID)
	if err != nil {
		slog.Error("flux check friendship", "err", err)
		h.registry.SendTo(userID, protocol.Message{Type: protocol.TypeError, Message: "Internal error"})
		return
	}
	if !areFriends {
		h.registry.SendTo(userID, protocol.Message{Type: protocol.TypeError, Message: "Not friends with peer"})
		return
	}

	var hint *session.FileHint
	if msg.FileName != "" {
		hint = &session.FileHint{Name: msg.FileName, Size: msg.FileSize, Ext: msg.FileExt}
	}

	s := h.sessions.Create(msg.SessionID, userID, msg.PeerID, hint)

	selfPeer, _ := h.directory.PeerByID(userID)
	h.registry.SendTo(msg.PeerID, protocol.Message{
		Type:       protocol.TypeRTCSessionRequest,
		SessionID:  s.ID,
		SenderID:   userID,
		SenderName: selfPeer.Handle(),
		FileName:   msg.FileName,
		FileSize:   msg.FileSize,
		FileExt:    msg.FileExt,
	})
}

func (h *Hub) areFriends(ctx context.Context, a, b string) (bool, error) {
	ids, err := h.directory.FriendIDs(ctx, a)
	if err != nil {
		return false, err
	}
	for _, id := range ids {
		if id == b {
			return true, nil
		}
	}
	return false, nil
}

func (h *Hub) handleSessionAccept(userID string, msg protocol.Message) {
	s, err := h.sessions.Accept(msg.SessionID)
	if err != nil {
		h.registry.SendTo(userID, protocol.Message{Type: protocol.TypeError, Message: "Session not found"})
		return
	}
	if !s.Involves(userID) {
		h.registry.SendTo(userID, protocol.Message{Type: protocol.TypeError, Message: "Not a party to session"})
		return
	}
	h.registry.SendTo(s.Other(userID), protocol.Message{Type: protocol.TypeRTCSessionAccept, SessionID: s.ID, PeerID: userID})
}

func (h *Hub) handleSessionReject(userID string, msg protocol.Message) {
	s, ok := h.sessions.Delete(msg.SessionID)
	if !ok || !s.Involves(userID) {
		return
	}
	h.registry.SendTo(s.Other(userID), protocol.Message{Type: protocol.TypeRTCSessionReject, SessionID: s.ID, PeerID: userID})
}

func (h *Hub) handleSessionReady(userID string, msg protocol.Message) {
	s, err := h.sessions.Ready(msg.SessionID)
	if err != nil {
		h.registry.SendTo(userID, protocol.Message{Type: protocol.TypeError, Message: "Session not found"})
		return
	}
	if !s.Involves(userID) {
		return
	}
	h.registry.SendTo(s.Other(userID), protocol.Message{Type: protocol.TypeRTCSessionReady, SessionID: s.ID, PeerID: userID})
}

func (h *Hub) handleSessionClose(userID string, msg protocol.Message) {
	s, ok := h.sessions.Delete(msg.SessionID)
	if !ok || !s.Involves(userID) {
		return
	}
	h.registry.SendTo(s.Other(userID), protocol.Message{Type: protocol.TypeRTCSessionClose, SessionID: s.ID, PeerID: userID})
}

// relaySessionPayload forwards an SDP offer/answer or ICE candidate to the
// peerId named by the sender, verbatim (§4.3). The hub never inspects
// Payload — it is opaque transport-negotiation content owned by C6.
func (h *Hub) relaySessionPayload(userID string, msg protocol.Message) {
	if msg.PeerID == "" {
		h.registry.SendTo(userID, protocol.Message{Type: protocol.TypeError, Message: "Missing peerId"})
		return
	}
	h.registry.SendTo(msg.PeerID, protocol.Message{
		Type:      msg.Type,
		SessionID: msg.SessionID,
		SenderID:  userID,
		Payload:   msg.Payload,
	})
}

// onConnect broadcasts online presence to userID's friends who are
// themselves currently online — narrowed the same way as onDisconnect.
func (h *Hub) onConnect(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()
	ids, err := h.directory.FriendIDs(ctx, userID)
	if err != nil {
		slog.Error("flux connect friend lookup", "user_id", userID, "err", err)
		return
	}
	for _, id := range ids {
		if h.registry.IsOnline(id) {
			h.registry.SendTo(id, protocol.Message{Type: protocol.TypeFriendOnline, FriendID: userID})
		}
	}
}

// onDisconnect purges any sessions involving userID, notifies their
// survivors, and broadcasts offline presence to online friends only —
// never to every connected peer, which would be an O(n^2) broadcast over
// a population that shares no relationship with userID.
func (h *Hub) onDisconnect(userID string) {
	for _, s := range h.sessions.PurgePeer(userID) {
		h.registry.SendTo(s.Other(userID), protocol.Message{Type: protocol.TypeRTCSessionClose, SessionID: s.ID, PeerID: userID})
	}

	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()
	ids, err := h.directory.FriendIDs(ctx, userID)
	if err != nil {
		slog.Error("flux disconnect friend lookup", "user_id", userID, "err", err)
		return
	}
	for _, id := range ids {
		h.registry.SendTo(id, protocol.Message{Type: protocol.TypeFriendOffline, FriendID: userID})
	}
}
