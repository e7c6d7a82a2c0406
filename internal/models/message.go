package models

import (
	"time"

	"github.com/lib/pq"
)

// Message is a persisted chat message. Exactly one of ReceiverID / GroupID is
// set: a peer message carries the receiver, a group message carries the group.
// The id is assigned by the database before any live push happens.
type Message struct {
	ID           int64         `db:"id" json:"id"`
	SenderID     int64         `db:"sender_id" json:"sender_id"`
	ReceiverID   *int64        `db:"receiver_id" json:"receiver_id,omitempty"`
	GroupID      *int64        `db:"group_id" json:"group_id,omitempty"`
	Text         string        `db:"text" json:"text,omitempty"`
	ImageURL     string        `db:"image_url" json:"image_url,omitempty"`
	AudioURL     string        `db:"audio_url" json:"audio_url,omitempty"`
	DocumentURL  string        `db:"document_url" json:"document_url,omitempty"`
	DocumentName string        `db:"document_name" json:"document_name,omitempty"`
	ReplyToID    *int64        `db:"reply_to_id" json:"reply_to_id,omitempty"`
	ForwardOfID  *int64        `db:"forward_of_id" json:"forward_of_id,omitempty"`
	Seen         bool          `db:"seen" json:"seen"`
	Edited       bool          `db:"edited" json:"edited"`
	DeletedFor   pq.Int64Array `db:"deleted_for" json:"-"`
	ClearedBy    pq.Int64Array `db:"cleared_by" json:"-"`
	CreatedAt    time.Time     `db:"created_at" json:"created_at"`
}

// IsGroup reports whether the message belongs to a group conversation.
func (m Message) IsGroup() bool {
	return m.GroupID != nil
}

// ConversationKeyFor returns the conversation this message lands in from the
// given viewer's perspective.
func (m Message) ConversationKeyFor(viewerID int64) ConversationKey {
	if m.GroupID != nil {
		return GroupKey(*m.GroupID)
	}
	if m.ReceiverID != nil && *m.ReceiverID != viewerID {
		return PeerKey(*m.ReceiverID)
	}
	return PeerKey(m.SenderID)
}

// MessageInput is the payload accepted by the send endpoints.
type MessageInput struct {
	Text         string `json:"text"`
	ImageURL     string `json:"image_url"`
	AudioURL     string `json:"audio_url"`
	DocumentURL  string `json:"document_url"`
	DocumentName string `json:"document_name"`
	ReplyToID    *int64 `json:"reply_to_id"`
	ForwardOfID  *int64 `json:"forward_of_id"`
}

// Empty reports whether the input carries no body variant at all.
func (in MessageInput) Empty() bool {
	return in.Text == "" && in.ImageURL == "" && in.AudioURL == "" && in.DocumentURL == "" && in.ForwardOfID == nil
}
