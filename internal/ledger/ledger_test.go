package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"messenger-service/internal/models"
)

func TestRecordIncomingIncrementsByOne(t *testing.T) {
	led := New()
	key := models.PeerKey(2)

	assert.Equal(t, 1, led.RecordIncoming(key, 1))
	assert.Equal(t, 2, led.RecordIncoming(key, 1))
	assert.Equal(t, 3, led.RecordIncoming(key, 1))

	assert.Equal(t, map[models.ConversationKey]int{key: 3}, led.UnseenSnapshot(1))
}

func TestCountsAreKeyedPerViewerAndConversation(t *testing.T) {
	led := New()

	led.RecordIncoming(models.PeerKey(2), 1)
	led.RecordIncoming(models.GroupKey(9), 1)
	led.RecordIncoming(models.PeerKey(2), 3)

	assert.Equal(t, map[models.ConversationKey]int{
		models.PeerKey(2):  1,
		models.GroupKey(9): 1,
	}, led.UnseenSnapshot(1))
	assert.Equal(t, map[models.ConversationKey]int{models.PeerKey(2): 1}, led.UnseenSnapshot(3))
}

func TestAcknowledgeSeenResetsOnlyThatConversation(t *testing.T) {
	led := New()

	led.RecordIncoming(models.PeerKey(2), 1)
	led.RecordIncoming(models.GroupKey(9), 1)

	led.AcknowledgeSeen(models.PeerKey(2), 1)

	assert.Equal(t, map[models.ConversationKey]int{models.GroupKey(9): 1}, led.UnseenSnapshot(1))
}

func TestAcknowledgeSeenWithoutCountsIsNoOp(t *testing.T) {
	led := New()
	led.AcknowledgeSeen(models.PeerKey(2), 1)
	assert.Empty(t, led.UnseenSnapshot(1))
}

func TestSetActiveReplacesOpenConversation(t *testing.T) {
	led := New()

	led.SetActive(1, models.ViewPeer(2))
	assert.True(t, led.IsViewing(1, models.PeerKey(2)))

	led.SetActive(1, models.ViewGroup(9))
	assert.False(t, led.IsViewing(1, models.PeerKey(2)))
	assert.True(t, led.IsViewing(1, models.GroupKey(9)))
}

func TestMarkInactiveClearsOpenConversation(t *testing.T) {
	led := New()

	led.SetActive(1, models.ViewPeer(2))
	led.MarkInactive(1)

	assert.False(t, led.IsViewing(1, models.PeerKey(2)))
}

func TestIsViewingIsExact(t *testing.T) {
	led := New()

	led.SetActive(1, models.ViewPeer(2))

	assert.False(t, led.IsViewing(1, models.PeerKey(3)))
	assert.False(t, led.IsViewing(1, models.GroupKey(2)))
	assert.False(t, led.IsViewing(2, models.PeerKey(2)))
}
