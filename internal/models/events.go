package models

// Wire event types pushed to clients over the live channel.
const (
	EventPresenceSnapshot = "presence_snapshot"
	EventNewMessage       = "new_message"
	EventMessageEdited    = "message_edited"
	EventMessageSeen      = "message_seen"
)

// Client event types received over the live channel.
const (
	EventJoinRoom  = "join_room"
	EventMarkSeen  = "mark_seen"
	EventSetActive = "set_active"
)

// WireEvent is the envelope pushed to clients.
type WireEvent struct {
	Type      string   `json:"type"`
	Message   *Message `json:"message,omitempty"`
	MessageID int64    `json:"message_id,omitempty"`
	UserIDs   []int64  `json:"user_ids,omitempty"`
}

// ClientEvent is the envelope read from clients. Peer and group ids are
// mutually exclusive on set_active; both absent means "no open conversation".
type ClientEvent struct {
	Type            string `json:"type"`
	GroupID         int64  `json:"group_id,omitempty"`
	ConversationKey string `json:"conversation_key,omitempty"`
	PeerID          int64  `json:"peer_id,omitempty"`
}
