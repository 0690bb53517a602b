// Package session keeps per-session cursors over conversation trees and
// turns lines of user input into navigation commands or completion turns.
package session

import (
	"sync"
	"time"

	"github.com/go-go-golems/loom/pkg/conversation"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const DefaultSessionID = "local"

var (
	ErrSessionNil           = errors.New("session is nil")
	ErrSessionAlreadyActive = errors.New("session already has an active turn")
	ErrSessionNoActive      = errors.New("session has no active turn")
	ErrNoEngine             = errors.New("session manager has no completion engine")
)

// Session is a caller's position in one conversation tree.
//
// It owns:
// - a stable SessionID
// - the conversation id and cursor, moved by commands and replies
// - the invariant that only one turn runs at a time
type Session struct {
	SessionID string
	CreatedAt time.Time

	mu             sync.Mutex
	conversationID string
	cursor         conversation.NodeID
	active         *ExecutionHandle

	// turn serializes HandleInput calls of this session.
	turn sync.Mutex
}

func newSession(id string, now time.Time) *Session {
	return &Session{
		SessionID:      id,
		CreatedAt:      now,
		conversationID: uuid.NewString(),
		cursor:         conversation.NullNode,
	}
}

// Cursor returns the current position of the session.
func (s *Session) Cursor() conversation.Cursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return conversation.Cursor{ConversationID: s.conversationID, ParentMessageID: s.cursor}
}

func (s *Session) moveTo(id conversation.NodeID) {
	s.mu.Lock()
	s.cursor = id
	s.mu.Unlock()
}

func (s *Session) reset(cursor conversation.Cursor) {
	s.mu.Lock()
	s.conversationID = cursor.ConversationID
	s.cursor = cursor.ParentMessageID
	s.mu.Unlock()
}

// IsRunning reports whether the session currently has an active turn.
func (s *Session) IsRunning() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil && s.active.IsRunning()
}

// CancelActive cancels the current active turn, if any.
func (s *Session) CancelActive() error {
	if s == nil {
		return ErrSessionNil
	}
	s.mu.Lock()
	h := s.active
	s.mu.Unlock()
	if h == nil || !h.IsRunning() {
		return ErrSessionNoActive
	}
	h.Cancel()
	return nil
}
