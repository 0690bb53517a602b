package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-go-golems/loom/pkg/conversation"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

const sqliteConversationsSchemaV1 = `
CREATE TABLE IF NOT EXISTS conversations (
    id TEXT PRIMARY KEY,
    payload_json TEXT NOT NULL,
    updated_at_ms INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS conversation_pointers (
    key TEXT PRIMARY KEY,
    payload_json TEXT NOT NULL,
    updated_at_ms INTEGER NOT NULL DEFAULT 0
);
`

// SQLiteStore persists one JSON payload per conversation row. Reads are
// served from an in-memory mirror loaded at open time.
type SQLiteStore struct {
	mu     sync.RWMutex
	dsn    string
	store  *InMemoryStore
	db     *sql.DB
	closed bool
}

var _ Store = (*SQLiteStore)(nil)

func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, errors.New("sqlite conversation store: empty dsn")
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}

	s := &SQLiteStore{
		dsn:   dsn,
		store: NewInMemoryStore(),
		db:    db,
	}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.loadFromDB(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*conversation.Conversation, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ensureOpen(); err != nil {
		return nil, false, err
	}
	return s.store.Get(ctx, id)
}

func (s *SQLiteStore) Set(ctx context.Context, id string, conv *conversation.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return err
	}
	if err := s.store.Set(ctx, id, conv); err != nil {
		return err
	}
	stored, _, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(stored)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO conversations (id, payload_json, updated_at_ms)
VALUES (?, ?, ?)
ON CONFLICT(id) DO UPDATE SET payload_json = excluded.payload_json, updated_at_ms = excluded.updated_at_ms`,
		id,
		string(payload),
		time.Now().UnixMilli(),
	)
	return errors.Wrapf(err, "persist conversation %s", id)
}

func (s *SQLiteStore) List(ctx context.Context) ([]Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	return s.store.List(ctx)
}

func (s *SQLiteStore) GetCursor(ctx context.Context, key string) (*conversation.Cursor, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ensureOpen(); err != nil {
		return nil, false, err
	}
	return s.store.GetCursor(ctx, key)
}

func (s *SQLiteStore) SetCursor(ctx context.Context, key string, cursor conversation.Cursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return err
	}
	if err := s.store.SetCursor(ctx, key, cursor); err != nil {
		return err
	}
	payload, err := json.Marshal(cursor)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO conversation_pointers (key, payload_json, updated_at_ms)
VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET payload_json = excluded.payload_json, updated_at_ms = excluded.updated_at_ms`,
		key,
		string(payload),
		time.Now().UnixMilli(),
	)
	return errors.Wrapf(err, "persist pointer %s", key)
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteStore) migrate() error {
	if s.db == nil {
		return errors.New("sqlite conversation store: db is nil")
	}
	if _, err := s.db.Exec(sqliteConversationsSchemaV1); err != nil {
		return errors.Wrap(err, "sqlite conversation store: migrate")
	}
	return nil
}

func (s *SQLiteStore) loadFromDB() error {
	rows, err := s.db.Query(`SELECT id, payload_json FROM conversations ORDER BY id ASC`)
	if err != nil {
		return err
	}
	defer func() {
		_ = rows.Close()
	}()

	for rows.Next() {
		var id string
		var payload string
		if err := rows.Scan(&id, &payload); err != nil {
			return err
		}
		conv := &conversation.Conversation{}
		if err := json.Unmarshal([]byte(payload), conv); err != nil {
			return errors.Wrapf(err, "sqlite conversation store: decode %s", id)
		}
		if conv.Messages == nil {
			conv.Messages = []*conversation.Message{}
		}
		s.store.conversations[id] = conv
	}
	if err := rows.Err(); err != nil {
		return err
	}

	pointerRows, err := s.db.Query(`SELECT key, payload_json FROM conversation_pointers`)
	if err != nil {
		return err
	}
	defer func() {
		_ = pointerRows.Close()
	}()
	for pointerRows.Next() {
		var key string
		var payload string
		if err := pointerRows.Scan(&key, &payload); err != nil {
			return err
		}
		var cursor conversation.Cursor
		if err := json.Unmarshal([]byte(payload), &cursor); err != nil {
			return errors.Wrapf(err, "sqlite conversation store: decode pointer %s", key)
		}
		s.store.cursors[key] = cursor
	}
	return pointerRows.Err()
}

func (s *SQLiteStore) ensureOpen() error {
	if s.closed {
		return ErrStoreClosed
	}
	if s.db == nil {
		return errors.New("sqlite conversation store db is nil")
	}
	return nil
}

func SQLiteDSNForFile(path string) (string, error) {
	if path == "" {
		return "", errors.New("sqlite conversation store: empty path")
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path), nil
}
