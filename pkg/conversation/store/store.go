package store

import (
	"context"
	"time"

	"github.com/go-go-golems/loom/pkg/conversation"
	"github.com/pkg/errors"
)

// LastConversationKey is the pointer key holding the most recent cursor.
const LastConversationKey = "lastConversation"

var (
	ErrStoreClosed = errors.New("conversation store closed")
	ErrEmptyID     = errors.New("conversation id is required")
	ErrNilRecord   = errors.New("conversation is nil")
)

// Summary is a lightweight listing entry.
type Summary struct {
	ID           string    `json:"id"`
	Name         string    `json:"name,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	MessageCount int       `json:"messageCount"`
}

// Store persists conversations keyed by id, plus named cursor pointers.
//
// Set replaces the whole record, so a batch of appended nodes lands in a
// single write. Returned conversations are copies owned by the caller.
type Store interface {
	Get(ctx context.Context, id string) (*conversation.Conversation, bool, error)
	Set(ctx context.Context, id string, conv *conversation.Conversation) error
	List(ctx context.Context) ([]Summary, error)
	GetCursor(ctx context.Context, key string) (*conversation.Cursor, bool, error)
	SetCursor(ctx context.Context, key string, cursor conversation.Cursor) error
	Close() error
}

type Type string

const (
	TypeMemory Type = "memory"
	TypeFile   Type = "file"
	TypeSQLite Type = "sqlite"
)

// Open creates the store selected by storeType. path is ignored for the
// memory store.
func Open(storeType Type, path string) (Store, error) {
	switch storeType {
	case TypeMemory, "":
		return NewInMemoryStore(), nil
	case TypeFile:
		return NewJSONFileStore(path)
	case TypeSQLite:
		dsn, err := SQLiteDSNForFile(path)
		if err != nil {
			return nil, err
		}
		return NewSQLiteStore(dsn)
	default:
		return nil, errors.Errorf("unknown conversation store type %q", storeType)
	}
}

func summarize(id string, conv *conversation.Conversation) Summary {
	return Summary{
		ID:           id,
		Name:         conv.Name,
		CreatedAt:    conv.CreatedAt,
		MessageCount: len(conv.Messages),
	}
}
