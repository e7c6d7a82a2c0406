package models

import (
	"fmt"
	"strconv"
	"strings"
)

// ConversationKey identifies a conversation from one viewer's perspective:
// either a peer chat (keyed by the other user's id) or a group chat.
type ConversationKey string

// PeerKey builds the key for a one-to-one conversation with the given user.
func PeerKey(userID int64) ConversationKey {
	return ConversationKey("user:" + strconv.FormatInt(userID, 10))
}

// GroupKey builds the key for a group conversation.
func GroupKey(groupID int64) ConversationKey {
	return ConversationKey("group:" + strconv.FormatInt(groupID, 10))
}

// ParseConversationKey parses the wire form ("user:<id>" or "group:<id>").
func ParseConversationKey(s string) (ConversationKey, error) {
	kind, raw, ok := strings.Cut(s, ":")
	if !ok || (kind != "user" && kind != "group") {
		return "", fmt.Errorf("invalid conversation key %q", s)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return "", fmt.Errorf("invalid conversation key %q", s)
	}
	return ConversationKey(kind + ":" + strconv.FormatInt(id, 10)), nil
}

// PeerID returns the peer user id when the key names a peer conversation.
func (k ConversationKey) PeerID() (int64, bool) {
	return k.idFor("user")
}

// GroupID returns the group id when the key names a group conversation.
func (k ConversationKey) GroupID() (int64, bool) {
	return k.idFor("group")
}

func (k ConversationKey) idFor(kind string) (int64, bool) {
	prefix := kind + ":"
	if !strings.HasPrefix(string(k), prefix) {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(string(k), prefix), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

type viewKind int

const (
	viewNone viewKind = iota
	viewPeer
	viewGroup
)

// ActiveView is the conversation a client currently has open: nothing, one
// peer chat, or one group chat. The zero value means no open conversation.
type ActiveView struct {
	kind    viewKind
	peerID  int64
	groupID int64
}

// ViewNone reports no open conversation.
func ViewNone() ActiveView { return ActiveView{} }

// ViewPeer reports the peer chat with userID as the open conversation.
func ViewPeer(userID int64) ActiveView {
	return ActiveView{kind: viewPeer, peerID: userID}
}

// ViewGroup reports the group chat as the open conversation.
func ViewGroup(groupID int64) ActiveView {
	return ActiveView{kind: viewGroup, groupID: groupID}
}

// Key returns the conversation key of the open conversation, if any.
func (v ActiveView) Key() (ConversationKey, bool) {
	switch v.kind {
	case viewPeer:
		return PeerKey(v.peerID), true
	case viewGroup:
		return GroupKey(v.groupID), true
	default:
		return "", false
	}
}

// IsNone reports whether no conversation is open.
func (v ActiveView) IsNone() bool { return v.kind == viewNone }
