package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"messenger-service/internal/models"
)

func msg(id int64, text string) models.Message {
	return models.Message{ID: id, SenderID: 1, Text: text}
}

func ids(msgs []models.Message) []int64 {
	out := make([]int64, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func loadedView(t *testing.T, msgs ...models.Message) *View {
	t.Helper()
	v := NewView(models.PeerKey(2))
	require.NoError(t, v.ApplyInitialFetch(msgs))
	return v
}

func TestApplyIncomingBeforeFetchFails(t *testing.T) {
	v := NewView(models.PeerKey(2))
	assert.ErrorIs(t, v.ApplyIncoming(msg(1, "a")), ErrNotLoaded)
}

func TestInitialFetchDeduplicatesByID(t *testing.T) {
	v := loadedView(t, msg(1, "a"), msg(2, "b"), msg(2, "b"))

	assert.Equal(t, 2, v.Len())
	assert.Equal(t, []int64{1, 2}, ids(v.Messages()))
}

func TestInitialFetchRejectsMessageWithoutID(t *testing.T) {
	v := NewView(models.PeerKey(2))
	err := v.ApplyInitialFetch([]models.Message{{Text: "no id"}})
	assert.ErrorIs(t, err, ErrMissingID)
}

func TestIncomingUnknownIDAppends(t *testing.T) {
	v := loadedView(t, msg(1, "a"))

	require.NoError(t, v.ApplyIncoming(msg(2, "b")))

	assert.Equal(t, []int64{1, 2}, ids(v.Messages()))
}

func TestIncomingKnownIDReplacesInPlace(t *testing.T) {
	v := loadedView(t, msg(1, "a"), msg(2, "b"), msg(3, "c"))

	edited := msg(2, "b (fixed)")
	edited.Edited = true
	require.NoError(t, v.ApplyIncoming(edited))

	msgs := v.Messages()
	assert.Equal(t, []int64{1, 2, 3}, ids(msgs))
	assert.Equal(t, "b (fixed)", msgs[1].Text)
	assert.Equal(t, 3, v.Len())
}

func TestIncomingDuplicatePushIsIdempotent(t *testing.T) {
	v := loadedView(t, msg(1, "a"))

	require.NoError(t, v.ApplyIncoming(msg(2, "b")))
	require.NoError(t, v.ApplyIncoming(msg(2, "b")))

	assert.Equal(t, 2, v.Len())
}

func TestIncomingConflictingBodyFailsIntegrity(t *testing.T) {
	v := loadedView(t, msg(1, "a"))

	err := v.ApplyIncoming(msg(1, "something else"))
	assert.ErrorIs(t, err, ErrIntegrity)

	// The original body survives.
	assert.Equal(t, "a", v.Messages()[0].Text)
}

func TestRefetchReplacesConfirmedKeepsOptimistic(t *testing.T) {
	v := loadedView(t, msg(1, "a"))

	localID, err := v.ApplyOptimisticSend(models.Message{SenderID: 1, Text: "draft"})
	require.NoError(t, err)

	require.NoError(t, v.ApplyInitialFetch([]models.Message{msg(1, "a"), msg(2, "b")}))

	msgs := v.Messages()
	require.Equal(t, 3, len(msgs))
	assert.Equal(t, []int64{1, 2, 0}, ids(msgs))
	assert.Equal(t, "draft", msgs[2].Text)

	// The re-appended optimistic entry still reconciles by its local id.
	require.NoError(t, v.ReconcileOptimistic(localID, msg(3, "draft")))
	assert.Equal(t, []int64{1, 2, 3}, ids(v.Messages()))
}

func TestReconcileOptimisticSwapsInPlace(t *testing.T) {
	v := loadedView(t, msg(1, "a"))

	localID, err := v.ApplyOptimisticSend(models.Message{SenderID: 1, Text: "draft"})
	require.NoError(t, err)
	require.Equal(t, 2, v.Len())

	require.NoError(t, v.ReconcileOptimistic(localID, msg(2, "draft")))

	// Exactly one entry for the send, now carrying the durable id.
	assert.Equal(t, 2, v.Len())
	assert.Equal(t, []int64{1, 2}, ids(v.Messages()))

	// The local id is spent.
	assert.ErrorIs(t, v.ReconcileOptimistic(localID, msg(3, "x")), ErrUnknownLocalID)
}

func TestReconcileDropsOptimisticWhenPushArrivedFirst(t *testing.T) {
	v := loadedView(t, msg(1, "a"))

	localID, err := v.ApplyOptimisticSend(models.Message{SenderID: 1, Text: "draft"})
	require.NoError(t, err)

	// The confirmed copy raced in through the live channel.
	confirmed := msg(2, "draft")
	require.NoError(t, v.ApplyIncoming(confirmed))

	require.NoError(t, v.ReconcileOptimistic(localID, confirmed))

	assert.Equal(t, 2, v.Len())
	assert.Equal(t, []int64{1, 2}, ids(v.Messages()))
}

func TestDropOptimisticRemovesGhost(t *testing.T) {
	v := loadedView(t, msg(1, "a"))

	localID, err := v.ApplyOptimisticSend(models.Message{SenderID: 1, Text: "rejected"})
	require.NoError(t, err)

	require.NoError(t, v.DropOptimistic(localID))

	assert.Equal(t, 1, v.Len())
	assert.Equal(t, []int64{1}, ids(v.Messages()))
	assert.ErrorIs(t, v.DropOptimistic(localID), ErrUnknownLocalID)
}

func TestRemoveReindexesLaterEntries(t *testing.T) {
	v := loadedView(t, msg(1, "a"))

	first, err := v.ApplyOptimisticSend(models.Message{SenderID: 1, Text: "first"})
	require.NoError(t, err)
	second, err := v.ApplyOptimisticSend(models.Message{SenderID: 1, Text: "second"})
	require.NoError(t, err)

	require.NoError(t, v.DropOptimistic(first))

	// The surviving optimistic entry still resolves after the shift.
	require.NoError(t, v.ReconcileOptimistic(second, msg(2, "second")))
	assert.Equal(t, []int64{1, 2}, ids(v.Messages()))
}
