package store

import (
	"context"
	"sort"
	"sync"

	"github.com/go-go-golems/loom/pkg/conversation"
)

// InMemoryStore is a thread-safe Store backed by maps.
type InMemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*conversation.Conversation
	cursors       map[string]conversation.Cursor
	closed        bool
}

var _ Store = (*InMemoryStore)(nil)

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		conversations: map[string]*conversation.Conversation{},
		cursors:       map[string]conversation.Cursor{},
	}
}

func (s *InMemoryStore) Get(_ context.Context, id string) (*conversation.Conversation, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ensureOpen(); err != nil {
		return nil, false, err
	}
	conv, ok := s.conversations[id]
	if !ok || conv == nil {
		return nil, false, nil
	}
	return conv.Clone(), true, nil
}

func (s *InMemoryStore) Set(_ context.Context, id string, conv *conversation.Conversation) error {
	if id == "" {
		return ErrEmptyID
	}
	if conv == nil {
		return ErrNilRecord
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return err
	}
	c := conv.Clone()
	if c.ID == "" {
		c.ID = id
	}
	s.conversations[id] = c
	return nil
}

func (s *InMemoryStore) List(_ context.Context) ([]Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(s.conversations))
	for id, conv := range s.conversations {
		out = append(out, summarize(id, conv))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *InMemoryStore) GetCursor(_ context.Context, key string) (*conversation.Cursor, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ensureOpen(); err != nil {
		return nil, false, err
	}
	c, ok := s.cursors[key]
	if !ok {
		return nil, false, nil
	}
	return &c, true, nil
}

func (s *InMemoryStore) SetCursor(_ context.Context, key string, cursor conversation.Cursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return err
	}
	s.cursors[key] = cursor
	return nil
}

func (s *InMemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *InMemoryStore) ensureOpen() error {
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// snapshot copies the current contents, used by the persisting stores.
func (s *InMemoryStore) snapshot() (map[string]*conversation.Conversation, map[string]conversation.Cursor) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	convs := make(map[string]*conversation.Conversation, len(s.conversations))
	for id, c := range s.conversations {
		convs[id] = c.Clone()
	}
	cursors := make(map[string]conversation.Cursor, len(s.cursors))
	for k, c := range s.cursors {
		cursors[k] = c
	}
	return convs, cursors
}
