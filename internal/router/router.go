// Package router fans persisted messages out to live connections. It owns no
// transport: pushes go through the Pusher interface, and the durable
// group-membership record is consulted through GroupMembers so a stale live
// room join can never leak a message to a removed member.
package router

import (
	"context"
	"errors"
	"fmt"
	"log"

	"messenger-service/internal/ledger"
	"messenger-service/internal/models"
	"messenger-service/internal/observability"
	"messenger-service/internal/presence"
)

var (
	ErrInvalidScope = errors.New("message must target exactly one of receiver or group")
	ErrNotMember    = errors.New("sender is not a member of the target group")
)

// Pusher writes one wire event to one connection. A failed push closes that
// connection's delivery only; the error is absorbed by the router.
type Pusher interface {
	Push(connID string, event models.WireEvent) error
}

// GroupMembers is the durable membership record, re-validated at delivery time.
type GroupMembers interface {
	ListMemberIDs(ctx context.Context, groupID int64) ([]int64, error)
}

// SeenMarker persists the seen flag when a peer message lands while its
// recipient is actively viewing the conversation.
type SeenMarker interface {
	MarkSeen(ctx context.Context, messageID int64) error
}

// DeliveryResult reports what one Deliver call did. Persistence has already
// succeeded by the time the router runs; none of these fields affect the
// sender's response.
type DeliveryResult struct {
	Scope          string
	Pushed         int
	Failed         int
	StaleExcluded  int
	SeenAtPush     bool
	UnseenRecorded int
}

// Router routes persisted messages to live recipients.
type Router struct {
	registry *presence.Registry
	rooms    *presence.RoomIndex
	ledger   *ledger.Ledger
	groups   GroupMembers
	marker   SeenMarker
	pusher   Pusher
}

// New constructs a Router.
func New(registry *presence.Registry, rooms *presence.RoomIndex, led *ledger.Ledger, groups GroupMembers, marker SeenMarker, pusher Pusher) *Router {
	return &Router{
		registry: registry,
		rooms:    rooms,
		ledger:   led,
		groups:   groups,
		marker:   marker,
		pusher:   pusher,
	}
}

// Deliver pushes an already-persisted message to every live connection in its
// recipient scope and updates the seen/unseen ledger. The message must carry
// its durable id; recipients deduplicate by id, so a lost push is recovered by
// the next conversation fetch rather than retried here.
func (r *Router) Deliver(ctx context.Context, msg models.Message) (DeliveryResult, error) {
	if msg.ID == 0 {
		return DeliveryResult{}, fmt.Errorf("message has no durable id")
	}
	switch {
	case msg.ReceiverID != nil && msg.GroupID == nil:
		return r.deliverPeer(ctx, msg)
	case msg.GroupID != nil && msg.ReceiverID == nil:
		return r.deliverGroup(ctx, msg)
	default:
		return DeliveryResult{}, ErrInvalidScope
	}
}

func (r *Router) deliverPeer(ctx context.Context, msg models.Message) (DeliveryResult, error) {
	res := DeliveryResult{Scope: "peer"}
	receiverID := *msg.ReceiverID
	key := models.PeerKey(msg.SenderID)

	// Seen-at-push vs unseen-increment is decided synchronously against the
	// ledger so a concurrent view switch cannot mis-attribute the message.
	if r.ledger.IsViewing(receiverID, key) {
		if err := r.marker.MarkSeen(ctx, msg.ID); err != nil {
			log.Printf("mark seen at push failed for message %d: %v", msg.ID, err)
		} else {
			msg.Seen = true
			res.SeenAtPush = true
			r.notifySeen(msg.SenderID, msg.ID)
		}
	} else {
		r.ledger.RecordIncoming(key, receiverID)
		res.UnseenRecorded = 1
		observability.IncUnseenIncrement()
	}

	event := models.WireEvent{Type: models.EventNewMessage, Message: &msg}
	for _, connID := range r.registry.ConnectionsFor(receiverID) {
		r.push(connID, event, "peer", &res)
	}
	if res.Pushed == 0 && res.Failed == 0 {
		observability.IncDelivery("peer", "offline")
	}
	return res, nil
}

func (r *Router) deliverGroup(ctx context.Context, msg models.Message) (DeliveryResult, error) {
	res := DeliveryResult{Scope: "group"}
	groupID := *msg.GroupID

	memberIDs, err := r.groups.ListMemberIDs(ctx, groupID)
	if err != nil {
		return res, fmt.Errorf("load group members: %w", err)
	}
	members := make(map[int64]struct{}, len(memberIDs))
	for _, id := range memberIDs {
		members[id] = struct{}{}
	}
	if _, ok := members[msg.SenderID]; !ok {
		return res, ErrNotMember
	}

	key := models.GroupKey(groupID)
	for _, memberID := range memberIDs {
		if memberID == msg.SenderID {
			continue
		}
		if r.ledger.IsViewing(memberID, key) {
			continue
		}
		r.ledger.RecordIncoming(key, memberID)
		res.UnseenRecorded++
		observability.IncUnseenIncrement()
	}

	event := models.WireEvent{Type: models.EventNewMessage, Message: &msg}
	for _, connID := range r.rooms.MembersOf(groupID) {
		userID, ok := r.registry.UserOf(connID)
		if !ok {
			r.rooms.Leave(connID, groupID)
			continue
		}
		if _, member := members[userID]; !member {
			// Stale live join: the durable record wins. Prune it so the
			// connection stops receiving group traffic.
			r.rooms.Leave(connID, groupID)
			res.StaleExcluded++
			observability.IncDelivery("group", "stale_excluded")
			continue
		}
		r.push(connID, event, "group", &res)
	}
	return res, nil
}

// DeliverEdit pushes the edited message to every live connection in scope,
// including the sender's own other connections.
func (r *Router) DeliverEdit(ctx context.Context, msg models.Message) error {
	event := models.WireEvent{Type: models.EventMessageEdited, Message: &msg}
	if msg.GroupID != nil {
		memberIDs, err := r.groups.ListMemberIDs(ctx, *msg.GroupID)
		if err != nil {
			return fmt.Errorf("load group members: %w", err)
		}
		members := make(map[int64]struct{}, len(memberIDs))
		for _, id := range memberIDs {
			members[id] = struct{}{}
		}
		for _, connID := range r.rooms.MembersOf(*msg.GroupID) {
			userID, ok := r.registry.UserOf(connID)
			if !ok {
				continue
			}
			if _, member := members[userID]; !member {
				continue
			}
			if err := r.pusher.Push(connID, event); err != nil {
				log.Printf("push edit to %s failed: %v", connID, err)
			}
		}
		return nil
	}
	if msg.ReceiverID == nil {
		return ErrInvalidScope
	}
	for _, userID := range []int64{*msg.ReceiverID, msg.SenderID} {
		for _, connID := range r.registry.ConnectionsFor(userID) {
			if err := r.pusher.Push(connID, event); err != nil {
				log.Printf("push edit to %s failed: %v", connID, err)
			}
		}
	}
	return nil
}

// NotifySeen tells every connection of a user that the given messages were
// seen by their recipient.
func (r *Router) NotifySeen(userID int64, messageIDs ...int64) {
	for _, id := range messageIDs {
		event := models.WireEvent{Type: models.EventMessageSeen, MessageID: id}
		for _, connID := range r.registry.ConnectionsFor(userID) {
			if err := r.pusher.Push(connID, event); err != nil {
				log.Printf("push seen notice to %s failed: %v", connID, err)
			}
		}
	}
}

func (r *Router) notifySeen(userID, messageID int64) {
	r.NotifySeen(userID, messageID)
}

func (r *Router) push(connID string, event models.WireEvent, scope string, res *DeliveryResult) {
	if err := r.pusher.Push(connID, event); err != nil {
		// Non-fatal: the message is persisted and will be fetched later.
		log.Printf("push to %s failed: %v", connID, err)
		res.Failed++
		observability.IncDelivery(scope, "push_failed")
		return
	}
	res.Pushed++
	observability.IncDelivery(scope, "pushed")
}
