package router

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"messenger-service/internal/ledger"
	"messenger-service/internal/mocks"
	"messenger-service/internal/models"
	"messenger-service/internal/presence"
)

// fakePusher records pushed events per connection and can be told to fail
// specific connections.
type fakePusher struct {
	mu     sync.Mutex
	events map[string][]models.WireEvent
	failed map[string]bool
}

func newFakePusher() *fakePusher {
	return &fakePusher{
		events: make(map[string][]models.WireEvent),
		failed: make(map[string]bool),
	}
}

func (p *fakePusher) Push(connID string, event models.WireEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failed[connID] {
		return errors.New("connection gone")
	}
	p.events[connID] = append(p.events[connID], event)
	return nil
}

func (p *fakePusher) eventsFor(connID string) []models.WireEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events[connID]
}

type routerFixture struct {
	registry *presence.Registry
	rooms    *presence.RoomIndex
	ledger   *ledger.Ledger
	groups   *mocks.GroupRepositoryMock
	messages *mocks.MessageRepositoryMock
	pusher   *fakePusher
	router   *Router
}

func newRouterFixture() *routerFixture {
	rooms := presence.NewRoomIndex()
	registry := presence.NewRegistry(rooms)
	led := ledger.New()
	groups := new(mocks.GroupRepositoryMock)
	messages := new(mocks.MessageRepositoryMock)
	pusher := newFakePusher()
	return &routerFixture{
		registry: registry,
		rooms:    rooms,
		ledger:   led,
		groups:   groups,
		messages: messages,
		pusher:   pusher,
		router:   New(registry, rooms, led, groups, messages, pusher),
	}
}

func peerMessage(id, senderID, receiverID int64) models.Message {
	return models.Message{ID: id, SenderID: senderID, ReceiverID: &receiverID, Text: "hi"}
}

func groupMessage(id, senderID, groupID int64) models.Message {
	return models.Message{ID: id, SenderID: senderID, GroupID: &groupID, Text: "hi"}
}

func TestDeliverRejectsMessageWithoutDurableID(t *testing.T) {
	f := newRouterFixture()
	receiverID := int64(2)

	_, err := f.router.Deliver(context.Background(), models.Message{SenderID: 1, ReceiverID: &receiverID})
	assert.Error(t, err)
}

func TestDeliverRejectsAmbiguousScope(t *testing.T) {
	f := newRouterFixture()
	receiverID, groupID := int64(2), int64(9)

	_, err := f.router.Deliver(context.Background(), models.Message{ID: 1, SenderID: 1, ReceiverID: &receiverID, GroupID: &groupID})
	assert.ErrorIs(t, err, ErrInvalidScope)

	_, err = f.router.Deliver(context.Background(), models.Message{ID: 1, SenderID: 1})
	assert.ErrorIs(t, err, ErrInvalidScope)
}

func TestPeerDeliveryToOfflineReceiverRecordsUnseen(t *testing.T) {
	f := newRouterFixture()

	res, err := f.router.Deliver(context.Background(), peerMessage(1, 1, 2))
	require.NoError(t, err)

	assert.Equal(t, 0, res.Pushed)
	assert.Equal(t, 1, res.UnseenRecorded)
	assert.False(t, res.SeenAtPush)
	assert.Equal(t, map[models.ConversationKey]int{models.PeerKey(1): 1}, f.ledger.UnseenSnapshot(2))
}

func TestPeerDeliveryToOnlineReceiverNotViewing(t *testing.T) {
	f := newRouterFixture()
	f.registry.Register(2, "conn-b")

	res, err := f.router.Deliver(context.Background(), peerMessage(1, 1, 2))
	require.NoError(t, err)

	assert.Equal(t, 1, res.Pushed)
	assert.Equal(t, 1, res.UnseenRecorded)

	events := f.pusher.eventsFor("conn-b")
	require.Len(t, events, 1)
	assert.Equal(t, models.EventNewMessage, events[0].Type)
	assert.False(t, events[0].Message.Seen)
}

func TestPeerDeliverySeenAtPushWhenReceiverIsViewing(t *testing.T) {
	f := newRouterFixture()
	f.registry.Register(1, "conn-a")
	f.registry.Register(2, "conn-b")
	f.ledger.SetActive(2, models.ViewPeer(1))

	f.messages.On("MarkSeen", mock.Anything, int64(5)).Return(nil).Once()

	res, err := f.router.Deliver(context.Background(), peerMessage(5, 1, 2))
	require.NoError(t, err)

	assert.True(t, res.SeenAtPush)
	assert.Equal(t, 0, res.UnseenRecorded)
	assert.Empty(t, f.ledger.UnseenSnapshot(2))

	// The receiver gets the message already marked seen.
	events := f.pusher.eventsFor("conn-b")
	require.Len(t, events, 1)
	assert.True(t, events[0].Message.Seen)

	// The sender gets a seen notice for the same message.
	senderEvents := f.pusher.eventsFor("conn-a")
	require.Len(t, senderEvents, 1)
	assert.Equal(t, models.EventMessageSeen, senderEvents[0].Type)
	assert.Equal(t, int64(5), senderEvents[0].MessageID)

	f.messages.AssertExpectations(t)
}

func TestPeerDeliveryFallsBackToUnseenWhenMarkSeenFails(t *testing.T) {
	f := newRouterFixture()
	f.registry.Register(2, "conn-b")
	f.ledger.SetActive(2, models.ViewPeer(1))

	f.messages.On("MarkSeen", mock.Anything, int64(5)).Return(assert.AnError).Once()

	res, err := f.router.Deliver(context.Background(), peerMessage(5, 1, 2))
	require.NoError(t, err)

	assert.False(t, res.SeenAtPush)
	events := f.pusher.eventsFor("conn-b")
	require.Len(t, events, 1)
	assert.False(t, events[0].Message.Seen)
}

func TestPeerDeliveryPushesToEveryReceiverConnection(t *testing.T) {
	f := newRouterFixture()
	f.registry.Register(2, "conn-b1")
	f.registry.Register(2, "conn-b2")

	res, err := f.router.Deliver(context.Background(), peerMessage(1, 1, 2))
	require.NoError(t, err)

	assert.Equal(t, 2, res.Pushed)
	assert.Len(t, f.pusher.eventsFor("conn-b1"), 1)
	assert.Len(t, f.pusher.eventsFor("conn-b2"), 1)
}

func TestPeerDeliveryAbsorbsPushFailure(t *testing.T) {
	f := newRouterFixture()
	f.registry.Register(2, "conn-b1")
	f.registry.Register(2, "conn-b2")
	f.pusher.failed["conn-b1"] = true

	res, err := f.router.Deliver(context.Background(), peerMessage(1, 1, 2))
	require.NoError(t, err)

	assert.Equal(t, 1, res.Pushed)
	assert.Equal(t, 1, res.Failed)
}

func TestGroupDeliveryCountsUnseenForAbsentMembers(t *testing.T) {
	f := newRouterFixture()

	// Three members; sender plus one connected member in the room, one offline.
	f.registry.Register(1, "conn-a")
	f.registry.Register(2, "conn-b")
	f.rooms.Join("conn-a", 9)
	f.rooms.Join("conn-b", 9)

	f.groups.On("ListMemberIDs", mock.Anything, int64(9)).Return([]int64{1, 2, 3}, nil).Once()

	res, err := f.router.Deliver(context.Background(), groupMessage(1, 1, 9))
	require.NoError(t, err)

	// Members 2 and 3 were not viewing the group, so both gain an unseen count.
	assert.Equal(t, 2, res.UnseenRecorded)
	assert.Equal(t, map[models.ConversationKey]int{models.GroupKey(9): 1}, f.ledger.UnseenSnapshot(2))
	assert.Equal(t, map[models.ConversationKey]int{models.GroupKey(9): 1}, f.ledger.UnseenSnapshot(3))
	assert.Empty(t, f.ledger.UnseenSnapshot(1))

	// Only room joiners get a push; the sender's own room conn included.
	assert.Equal(t, 2, res.Pushed)
	f.groups.AssertExpectations(t)
}

func TestGroupDeliverySkipsUnseenForViewingMembers(t *testing.T) {
	f := newRouterFixture()
	f.registry.Register(2, "conn-b")
	f.rooms.Join("conn-b", 9)
	f.ledger.SetActive(2, models.ViewGroup(9))

	f.groups.On("ListMemberIDs", mock.Anything, int64(9)).Return([]int64{1, 2}, nil).Once()

	res, err := f.router.Deliver(context.Background(), groupMessage(1, 1, 9))
	require.NoError(t, err)

	assert.Equal(t, 0, res.UnseenRecorded)
	assert.Empty(t, f.ledger.UnseenSnapshot(2))
	assert.Equal(t, 1, res.Pushed)
}

func TestGroupDeliveryRejectsNonMemberSender(t *testing.T) {
	f := newRouterFixture()

	f.groups.On("ListMemberIDs", mock.Anything, int64(9)).Return([]int64{2, 3}, nil).Once()

	_, err := f.router.Deliver(context.Background(), groupMessage(1, 1, 9))
	assert.ErrorIs(t, err, ErrNotMember)
}

func TestGroupDeliveryExcludesStaleRoomJoin(t *testing.T) {
	f := newRouterFixture()

	// User 4 joined the room while a member, then was removed from the
	// durable record. The live join is still present.
	f.registry.Register(2, "conn-b")
	f.registry.Register(4, "conn-d")
	f.rooms.Join("conn-b", 9)
	f.rooms.Join("conn-d", 9)

	f.groups.On("ListMemberIDs", mock.Anything, int64(9)).Return([]int64{1, 2}, nil).Once()

	res, err := f.router.Deliver(context.Background(), groupMessage(1, 1, 9))
	require.NoError(t, err)

	assert.Equal(t, 1, res.Pushed)
	assert.Equal(t, 1, res.StaleExcluded)
	assert.Empty(t, f.pusher.eventsFor("conn-d"))

	// The stale join is pruned, not just skipped.
	assert.NotContains(t, f.rooms.MembersOf(9), "conn-d")
}

func TestGroupDeliveryPrunesDeadConnections(t *testing.T) {
	f := newRouterFixture()
	f.rooms.Join("conn-ghost", 9)

	f.groups.On("ListMemberIDs", mock.Anything, int64(9)).Return([]int64{1}, nil).Once()

	res, err := f.router.Deliver(context.Background(), groupMessage(1, 1, 9))
	require.NoError(t, err)

	assert.Equal(t, 0, res.Pushed)
	assert.Empty(t, f.rooms.MembersOf(9))
}

func TestDeliverEditPeerReachesBothSides(t *testing.T) {
	f := newRouterFixture()
	f.registry.Register(1, "conn-a")
	f.registry.Register(2, "conn-b")

	msg := peerMessage(5, 1, 2)
	msg.Edited = true

	require.NoError(t, f.router.DeliverEdit(context.Background(), msg))

	for _, connID := range []string{"conn-a", "conn-b"} {
		events := f.pusher.eventsFor(connID)
		require.Len(t, events, 1)
		assert.Equal(t, models.EventMessageEdited, events[0].Type)
		assert.True(t, events[0].Message.Edited)
	}
}

func TestDeliverEditGroupFiltersByDurableMembership(t *testing.T) {
	f := newRouterFixture()
	f.registry.Register(2, "conn-b")
	f.registry.Register(4, "conn-d")
	f.rooms.Join("conn-b", 9)
	f.rooms.Join("conn-d", 9)

	f.groups.On("ListMemberIDs", mock.Anything, int64(9)).Return([]int64{1, 2}, nil).Once()

	msg := groupMessage(5, 1, 9)
	require.NoError(t, f.router.DeliverEdit(context.Background(), msg))

	assert.Len(t, f.pusher.eventsFor("conn-b"), 1)
	assert.Empty(t, f.pusher.eventsFor("conn-d"))
}

func TestNotifySeenFansOutPerMessage(t *testing.T) {
	f := newRouterFixture()
	f.registry.Register(1, "conn-a1")
	f.registry.Register(1, "conn-a2")

	f.router.NotifySeen(1, 5, 6)

	for _, connID := range []string{"conn-a1", "conn-a2"} {
		events := f.pusher.eventsFor(connID)
		require.Len(t, events, 2)
		assert.Equal(t, models.EventMessageSeen, events[0].Type)
	}
}
