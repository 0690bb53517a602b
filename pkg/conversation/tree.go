package conversation

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type NodeID uuid.UUID

// NullNode is the parent id of root nodes. It serializes as JSON null.
var NullNode NodeID = NodeID(uuid.Nil)

func (id NodeID) MarshalJSON() ([]byte, error) {
	if id == NullNode {
		return []byte("null"), nil
	}
	return json.Marshal(uuid.UUID(id))
}

func (id *NodeID) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*id = NullNode
		return nil
	}
	var uuid uuid.UUID
	if err := json.Unmarshal(data, &uuid); err != nil {
		return err
	}
	*id = NodeID(uuid)
	return nil
}

func (id NodeID) String() string {
	if id == NullNode {
		return ""
	}
	return uuid.UUID(id).String()
}

func (id NodeID) IsNull() bool {
	return id == NullNode
}

func NewNodeID() NodeID {
	return NodeID(uuid.New())
}

// ParseNodeID parses a textual id. The empty string parses to NullNode.
func ParseNodeID(s string) (NodeID, error) {
	if s == "" {
		return NullNode, nil
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return NullNode, err
	}
	return NodeID(u), nil
}

// Conversation is the persisted record of a single tree. Messages are kept in
// insertion order and only ever appended to.
type Conversation struct {
	ID        string     `json:"id,omitempty"`
	Name      string     `json:"name,omitempty"`
	Messages  []*Message `json:"messages"`
	CreatedAt time.Time  `json:"createdAt"`
}

func NewConversation(id string) *Conversation {
	return &Conversation{
		ID:        id,
		Messages:  []*Message{},
		CreatedAt: time.Now(),
	}
}

// Append adds messages to the end of the conversation.
func (c *Conversation) Append(msgs ...*Message) {
	c.Messages = append(c.Messages, msgs...)
}

// Clone returns a deep copy, so that the caller can keep a snapshot that is
// not affected by later appends.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	ret := *c
	ret.Messages = make([]*Message, len(c.Messages))
	for i, m := range c.Messages {
		ret.Messages[i] = m.Clone()
	}
	return &ret
}

func (c *Conversation) Find(id NodeID) *Message {
	if c == nil {
		return nil
	}
	return Find(c.Messages, id)
}

// Cursor is the caller's position in a conversation. The active path is
// root to ParentMessageID inclusive.
type Cursor struct {
	ConversationID  string `json:"conversationId"`
	ParentMessageID NodeID `json:"parentMessageId"`
}
