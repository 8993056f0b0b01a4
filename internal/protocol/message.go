// Package protocol defines the JSON control envelope exchanged over the
// Flux signaling websocket, plus the peer and session snapshots carried
// inside it.
package protocol

// Message types recognized by the hub. Unknown types are logged and
// ignored on ingress; the hub never emits a type outside this set.
const (
	TypeConnected     = "connected"
	TypePing          = "ping"
	TypePong          = "pong"
	TypeError         = "error"
	TypeFriendOnline  = "friend_online"
	TypeFriendOffline = "friend_offline"

	TypeGetConnectCode = "get_connect_code"
	TypeConnectCode    = "connect_code"

	TypeGetFriends  = "get_friends"
	TypeFriendsList = "friends_list"

	TypeAddFriend   = "add_friend"
	TypeFriendAdded = "friend_added"

	TypeRTCSessionRequest = "rtc_session_request"
	TypeRTCSessionAccept  = "rtc_session_accept"
	TypeRTCSessionReject  = "rtc_session_reject"
	TypeRTCSessionReady   = "rtc_session_ready"
	TypeRTCSessionClose   = "rtc_session_close"

	TypeRTCOffer        = "rtc_offer"
	TypeRTCAnswer       = "rtc_answer"
	TypeRTCIceCandidate = "rtc_ice_candidate"
)

// Message is the JSON control envelope exchanged over the /flux websocket.
// Only the fields relevant to Type are populated; the rest are omitted.
type Message struct {
	Type string `json:"type"`

	// connected
	UserID string `json:"userId,omitempty"`
	Email  string `json:"email,omitempty"`

	// error
	Message string `json:"message,omitempty"`

	// ping/pong
	Timestamp int64 `json:"ts,omitempty"`

	// get_connect_code / connect_code / add_friend (request code)
	Code string `json:"code,omitempty"`

	// get_friends / friends_list
	Friends []FriendView `json:"friends,omitempty"`

	// friend_added / friend_online / friend_offline
	Friend   *FriendView `json:"friend,omitempty"`
	FriendID string      `json:"friendId,omitempty"`

	// rtc_session_request / rtc_session_accept / rtc_session_reject /
	// rtc_session_ready / rtc_session_close — the session this message
	// concerns, and the peer to relay to or that originated it.
	SessionID  string `json:"sessionId,omitempty"`
	PeerID     string `json:"peerId,omitempty"`
	SenderID   string `json:"senderId,omitempty"`
	SenderName string `json:"senderName,omitempty"`

	// rtc_session_request optional file descriptor hint.
	FileName string `json:"fileName,omitempty"`
	FileSize int64  `json:"fileSize,omitempty"`
	FileExt  string `json:"fileExt,omitempty"`

	// rtc_offer / rtc_answer / rtc_ice_candidate — opaque relayed payload.
	// The hub never parses this; it is forwarded verbatim.
	Payload any `json:"payload,omitempty"`
}

// FriendView is a friend as seen by the requesting user: identity plus
// presence overlaid live from the Connection Registry.
type FriendView struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Handle   string `json:"handle"`
	IsOnline bool   `json:"isOnline"`
}
