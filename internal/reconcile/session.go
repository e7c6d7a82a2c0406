package reconcile

import (
	"errors"
	"sync"

	"messenger-service/internal/models"
	"messenger-service/internal/moderation"
)

// ErrForbiddenContent is returned when the moderation gate rejects a draft
// before any send is attempted.
var ErrForbiddenContent = errors.New("message contains restricted content")

// Session is one client's view of the whole chat state: which conversation is
// open, the per-conversation views, and the local unseen counts mirrored from
// incoming pushes. Unlike View it is safe for concurrent use, since pushes
// arrive on a reader goroutine while the UI drives sends.
type Session struct {
	selfID int64
	gate   moderation.Gate

	mu     sync.Mutex
	active models.ActiveView
	views  map[models.ConversationKey]*View
	unseen map[models.ConversationKey]int
}

// NewSession creates a session for the given user.
func NewSession(selfID int64, gate moderation.Gate) *Session {
	return &Session{
		selfID: selfID,
		gate:   gate,
		views:  make(map[models.ConversationKey]*View),
		unseen: make(map[models.ConversationKey]int),
	}
}

// Open switches the active conversation and loads its fetched history. The
// previous conversation is deactivated and the new one activated in one step,
// and the local unseen count for the opened conversation is cleared.
func (s *Session) Open(view models.ActiveView, fetched []models.Message) (*View, error) {
	key, ok := view.Key()
	if !ok {
		s.Close()
		return nil, errors.New("open requires a conversation")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	v, exists := s.views[key]
	if !exists {
		v = NewView(key)
		s.views[key] = v
	}
	if err := v.ApplyInitialFetch(fetched); err != nil {
		return nil, err
	}
	s.active = view
	delete(s.unseen, key)
	return v, nil
}

// Close deactivates the open conversation.
func (s *Session) Close() {
	s.mu.Lock()
	s.active = models.ViewNone()
	s.mu.Unlock()
}

// Receive routes a pushed message. When its conversation is the open one the
// message is merged into the view and needAck tells the caller to send the
// seen acknowledgement; otherwise the local unseen count is incremented.
func (s *Session) Receive(msg models.Message) (needAck bool, err error) {
	key := msg.ConversationKeyFor(s.selfID)

	s.mu.Lock()
	defer s.mu.Unlock()
	activeKey, open := s.active.Key()
	if open && activeKey == key {
		if v, ok := s.views[key]; ok && v.Loaded() {
			if err := v.ApplyIncoming(msg); err != nil {
				return false, err
			}
		}
		return msg.SenderID != s.selfID, nil
	}
	if msg.SenderID != s.selfID {
		s.unseen[key]++
	}
	return false, nil
}

// ApplyEdit merges an edited message into its view if that view is loaded.
func (s *Session) ApplyEdit(msg models.Message) error {
	key := msg.ConversationKeyFor(s.selfID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.views[key]; ok && v.Loaded() {
		return v.ApplyIncoming(msg)
	}
	return nil
}

// PrepareSend runs the moderation gate over a draft before any network call.
func (s *Session) PrepareSend(text string) error {
	if s.gate != nil && s.gate.IsForbidden(text) {
		return ErrForbiddenContent
	}
	return nil
}

// OptimisticSend validates the draft and inserts it into the open
// conversation, returning the local id for the confirm/fail step.
func (s *Session) OptimisticSend(draft models.Message) (string, error) {
	if err := s.PrepareSend(draft.Text); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key, open := s.active.Key()
	if !open {
		return "", errors.New("no open conversation")
	}
	v, ok := s.views[key]
	if !ok {
		return "", ErrNotLoaded
	}
	return v.ApplyOptimisticSend(draft)
}

// ConfirmSend swaps the optimistic entry for the server-confirmed message.
func (s *Session) ConfirmSend(localID string, server models.Message) error {
	key := server.ConversationKeyFor(s.selfID)
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.views[key]
	if !ok {
		return ErrUnknownLocalID
	}
	return v.ReconcileOptimistic(localID, server)
}

// FailSend removes the optimistic entry after a rejected send.
func (s *Session) FailSend(localID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.views {
		if err := v.DropOptimistic(localID); err == nil {
			return
		}
	}
}

// ApplyPresence replaces the online set mirrored by the client.
func (s *Session) ApplyPresence(userIDs []int64) map[int64]bool {
	online := make(map[int64]bool, len(userIDs))
	for _, id := range userIDs {
		online[id] = true
	}
	return online
}

// Unseen returns a copy of the local unseen counts.
func (s *Session) Unseen() map[models.ConversationKey]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[models.ConversationKey]int, len(s.unseen))
	for k, n := range s.unseen {
		out[k] = n
	}
	return out
}
