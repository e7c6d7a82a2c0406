// Package reconcile merges the three message sources a chat client sees --
// the initial REST fetch, incremental live pushes, and its own optimistic
// sends -- into one ordered, duplicate-free conversation view.
package reconcile

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"messenger-service/internal/models"
)

var (
	// ErrIntegrity flags two messages claiming the same durable id with
	// divergent bodies. Id assignment order makes this impossible in a
	// healthy system, so it is surfaced rather than silently resolved.
	ErrIntegrity = errors.New("conflicting messages with the same id")

	ErrNotLoaded      = errors.New("view has no initial fetch yet")
	ErrUnknownLocalID = errors.New("unknown optimistic message id")
	ErrMissingID      = errors.New("message has no durable id")
)

type entry struct {
	msg     models.Message
	localID string // non-empty while the entry is optimistic
}

// View is the ordered conversation state for one conversation. Messages are
// kept in an ordered slice with an id index for O(1) lookup; a merge either
// replaces in place on id match or appends. It is not safe for concurrent
// use; callers serialize access the way a UI event loop does.
type View struct {
	key    models.ConversationKey
	loaded bool
	order  []entry
	byID   map[int64]int
	byLoc  map[string]int
}

// NewView creates an empty view for the conversation.
func NewView(key models.ConversationKey) *View {
	return &View{
		key:   key,
		byID:  make(map[int64]int),
		byLoc: make(map[string]int),
	}
}

// Key returns the conversation this view belongs to.
func (v *View) Key() models.ConversationKey { return v.key }

// Loaded reports whether the initial fetch has been applied.
func (v *View) Loaded() bool { return v.loaded }

// ApplyInitialFetch loads the authoritative conversation. Confirmed entries
// are replaced wholesale; optimistic entries still awaiting their server
// round-trip are re-appended at the tail.
func (v *View) ApplyInitialFetch(msgs []models.Message) error {
	pending := make([]entry, 0, len(v.byLoc))
	for _, e := range v.order {
		if e.localID != "" {
			pending = append(pending, e)
		}
	}

	v.order = v.order[:0]
	v.byID = make(map[int64]int, len(msgs))
	v.byLoc = make(map[string]int, len(pending))

	for _, msg := range msgs {
		if msg.ID == 0 {
			return ErrMissingID
		}
		if at, ok := v.byID[msg.ID]; ok {
			v.order[at] = entry{msg: msg}
			continue
		}
		v.byID[msg.ID] = len(v.order)
		v.order = append(v.order, entry{msg: msg})
	}
	for _, e := range pending {
		v.byLoc[e.localID] = len(v.order)
		v.order = append(v.order, e)
	}
	v.loaded = true
	return nil
}

// ApplyIncoming merges a pushed message. A known id is replaced in place
// (edit-in-place and push/fetch overlap); an unknown id is appended. Server
// messages arrive in creation order, so append preserves conversation order.
func (v *View) ApplyIncoming(msg models.Message) error {
	if !v.loaded {
		return ErrNotLoaded
	}
	if msg.ID == 0 {
		return ErrMissingID
	}
	if at, ok := v.byID[msg.ID]; ok {
		existing := v.order[at].msg
		if existing.Text != msg.Text && !existing.Edited && !msg.Edited {
			return fmt.Errorf("message %d: %w", msg.ID, ErrIntegrity)
		}
		v.order[at] = entry{msg: msg}
		return nil
	}
	v.byID[msg.ID] = len(v.order)
	v.order = append(v.order, entry{msg: msg})
	return nil
}

// ApplyOptimisticSend appends a not-yet-confirmed outgoing message and
// returns its local id for the later reconcile or removal.
func (v *View) ApplyOptimisticSend(draft models.Message) (string, error) {
	if !v.loaded {
		return "", ErrNotLoaded
	}
	localID := uuid.NewString()
	v.byLoc[localID] = len(v.order)
	v.order = append(v.order, entry{msg: draft, localID: localID})
	return localID, nil
}

// ReconcileOptimistic swaps the optimistic entry for the server-confirmed
// copy, which carries the durable id and may differ in derived fields. If the
// confirmed copy already arrived through a push, the optimistic duplicate is
// dropped instead.
func (v *View) ReconcileOptimistic(localID string, server models.Message) error {
	at, ok := v.byLoc[localID]
	if !ok {
		return ErrUnknownLocalID
	}
	if server.ID == 0 {
		return ErrMissingID
	}
	if _, exists := v.byID[server.ID]; exists {
		v.removeAt(at)
		delete(v.byLoc, localID)
		return nil
	}
	v.order[at] = entry{msg: server}
	v.byID[server.ID] = at
	delete(v.byLoc, localID)
	return nil
}

// DropOptimistic removes a failed optimistic entry so no ghost message
// without a durable id survives a rejected send.
func (v *View) DropOptimistic(localID string) error {
	at, ok := v.byLoc[localID]
	if !ok {
		return ErrUnknownLocalID
	}
	v.removeAt(at)
	delete(v.byLoc, localID)
	return nil
}

// Messages returns the ordered conversation snapshot.
func (v *View) Messages() []models.Message {
	out := make([]models.Message, len(v.order))
	for i, e := range v.order {
		out[i] = e.msg
	}
	return out
}

// Len reports the number of entries in the view.
func (v *View) Len() int { return len(v.order) }

func (v *View) removeAt(at int) {
	v.order = append(v.order[:at], v.order[at+1:]...)
	for id, pos := range v.byID {
		if pos > at {
			v.byID[id] = pos - 1
		}
	}
	for loc, pos := range v.byLoc {
		if pos > at {
			v.byLoc[loc] = pos - 1
		}
	}
}
