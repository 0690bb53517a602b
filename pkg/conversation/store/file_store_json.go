package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-go-golems/loom/pkg/conversation"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type fileDocument struct {
	Conversations map[string]*conversation.Conversation `json:"conversations"`
	Pointers      map[string]conversation.Cursor        `json:"pointers"`
}

// JSONFileStore keeps every conversation in a single JSON document. The whole
// document is rewritten through a temp file and rename on every mutation.
type JSONFileStore struct {
	mu     sync.Mutex
	path   string
	store  *InMemoryStore
	closed bool
}

var _ Store = (*JSONFileStore)(nil)

func NewJSONFileStore(path string) (*JSONFileStore, error) {
	if path == "" {
		return nil, errors.New("json conversation store path is required")
	}
	s := &JSONFileStore{
		path:  path,
		store: NewInMemoryStore(),
	}
	if err := s.loadFromDisk(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *JSONFileStore) Get(ctx context.Context, id string) (*conversation.Conversation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return nil, false, err
	}
	return s.store.Get(ctx, id)
}

func (s *JSONFileStore) Set(ctx context.Context, id string, conv *conversation.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return err
	}
	if id == "" {
		return ErrEmptyID
	}
	if conv == nil {
		return ErrNilRecord
	}
	convs, cursors := s.store.snapshot()
	staged := conv.Clone()
	if staged.ID == "" {
		staged.ID = id
	}
	convs[id] = staged
	if err := s.persistLocked(convs, cursors); err != nil {
		return err
	}
	return s.store.Set(ctx, id, conv)
}

func (s *JSONFileStore) List(ctx context.Context) ([]Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	return s.store.List(ctx)
}

func (s *JSONFileStore) GetCursor(ctx context.Context, key string) (*conversation.Cursor, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return nil, false, err
	}
	return s.store.GetCursor(ctx, key)
}

func (s *JSONFileStore) SetCursor(ctx context.Context, key string, cursor conversation.Cursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return err
	}
	convs, cursors := s.store.snapshot()
	cursors[key] = cursor
	if err := s.persistLocked(convs, cursors); err != nil {
		return err
	}
	return s.store.SetCursor(ctx, key, cursor)
}

func (s *JSONFileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return s.store.Close()
}

func (s *JSONFileStore) loadFromDisk() error {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, "read conversation store %s", s.path)
	}
	if len(b) == 0 {
		return nil
	}

	var doc fileDocument
	if err := json.Unmarshal(b, &doc); err != nil {
		return errors.Wrapf(err, "parse conversation store %s", s.path)
	}
	for id, conv := range doc.Conversations {
		if conv == nil {
			continue
		}
		if conv.Messages == nil {
			conv.Messages = []*conversation.Message{}
		}
		s.store.conversations[id] = conv
	}
	for key, cursor := range doc.Pointers {
		s.store.cursors[key] = cursor
	}
	return nil
}

// persistLocked writes the staged contents. Memory is only updated by the
// caller once this succeeds.
func (s *JSONFileStore) persistLocked(convs map[string]*conversation.Conversation, cursors map[string]conversation.Cursor) error {
	b, err := json.MarshalIndent(fileDocument{Conversations: convs, Pointers: cursors}, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode conversation store")
	}

	dir := filepath.Dir(s.path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmpPath := s.path + "." + uuid.NewString() + ".tmp"
	if err := os.WriteFile(tmpPath, b, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

func (s *JSONFileStore) ensureOpen() error {
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}
