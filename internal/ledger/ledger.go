// Package ledger holds the server-side seen/unseen accounting: which
// conversation each user currently has open, and how many messages landed in
// each conversation while its viewer was looking elsewhere. Counters are
// process-lifetime state, rebuilt from the message store after a restart.
package ledger

import (
	"sync"

	"messenger-service/internal/models"
)

// Ledger is safe for concurrent use from many connection handlers.
type Ledger struct {
	mu     sync.RWMutex
	active map[int64]models.ActiveView                // user id -> open conversation
	unseen map[int64]map[models.ConversationKey]int   // viewer id -> conversation -> count
}

// New constructs an empty Ledger.
func New() *Ledger {
	return &Ledger{
		active: make(map[int64]models.ActiveView),
		unseen: make(map[int64]map[models.ConversationKey]int),
	}
}

// SetActive replaces the user's open conversation. Deactivating the previous
// view and activating the new one happens under one lock acquisition, so a
// concurrent delivery can never observe the gap between the two.
func (l *Ledger) SetActive(userID int64, view models.ActiveView) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if view.IsNone() {
		delete(l.active, userID)
		return
	}
	l.active[userID] = view
}

// MarkInactive clears the user's open conversation.
func (l *Ledger) MarkInactive(userID int64) {
	l.SetActive(userID, models.ViewNone())
}

// IsViewing reports whether the user currently has exactly this conversation open.
func (l *Ledger) IsViewing(userID int64, key models.ConversationKey) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	open, ok := l.active[userID].Key()
	return ok && open == key
}

// RecordIncoming increments the viewer's unseen count for the conversation by
// exactly one and returns the new count.
func (l *Ledger) RecordIncoming(key models.ConversationKey, viewerID int64) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	counts, ok := l.unseen[viewerID]
	if !ok {
		counts = make(map[models.ConversationKey]int)
		l.unseen[viewerID] = counts
	}
	counts[key]++
	return counts[key]
}

// AcknowledgeSeen resets the viewer's unseen count for the conversation. The
// reset only ever happens on an explicit client acknowledgement, never on a
// timer.
func (l *Ledger) AcknowledgeSeen(key models.ConversationKey, viewerID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if counts, ok := l.unseen[viewerID]; ok {
		delete(counts, key)
		if len(counts) == 0 {
			delete(l.unseen, viewerID)
		}
	}
}

// UnseenSnapshot returns a copy of the viewer's per-conversation unseen counts.
func (l *Ledger) UnseenSnapshot(viewerID int64) map[models.ConversationKey]int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[models.ConversationKey]int, len(l.unseen[viewerID]))
	for key, count := range l.unseen[viewerID] {
		out[key] = count
	}
	return out
}
