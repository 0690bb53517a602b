package conversation

import (
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrMessageNotFound  = errors.New("message not found")
	ErrNoParent         = errors.New("message has no parent")
	ErrEmptyMessage     = errors.New("message empty")
	ErrMessageUnchanged = errors.New("message unchanged")
)

// The functions in this file are pure lookups over an insertion-ordered slice
// of messages. Unknown ids yield nil or empty results, never a panic.

func Find(messages []*Message, id NodeID) *Message {
	if id == NullNode {
		return nil
	}
	for _, m := range messages {
		if m != nil && m.ID == id {
			return m
		}
	}
	return nil
}

// Path returns the messages from the root down to id, inclusive. The walk
// stops if a parent id is repeated, so cycles in corrupted data terminate.
func Path(messages []*Message, id NodeID) []*Message {
	if id == NullNode {
		return []*Message{}
	}
	byID := make(map[NodeID]*Message, len(messages))
	for _, m := range messages {
		if m == nil {
			continue
		}
		if _, ok := byID[m.ID]; !ok {
			byID[m.ID] = m
		}
	}

	var reversed []*Message
	seen := map[NodeID]bool{}
	for current, ok := byID[id]; ok; current, ok = byID[current.ParentID] {
		if seen[current.ID] {
			break
		}
		seen[current.ID] = true
		reversed = append(reversed, current)
		if current.ParentID == NullNode {
			break
		}
	}

	ret := make([]*Message, len(reversed))
	for i, m := range reversed {
		ret[len(reversed)-1-i] = m
	}
	return ret
}

// Children returns the direct children of id in insertion order. Children of
// NullNode are the roots.
func Children(messages []*Message, id NodeID) []*Message {
	ret := []*Message{}
	for _, m := range messages {
		if m != nil && m.ParentID == id && m.ID != id {
			ret = append(ret, m)
		}
	}
	return ret
}

// Siblings returns all children of id's parent, id included.
func Siblings(messages []*Message, id NodeID) []*Message {
	node := Find(messages, id)
	if node == nil {
		return []*Message{}
	}
	return Children(messages, node.ParentID)
}

// SiblingIndex returns the position of id among its siblings, or -1.
func SiblingIndex(messages []*Message, id NodeID) int {
	for i, m := range Siblings(messages, id) {
		if m.ID == id {
			return i
		}
	}
	return -1
}

func Parent(messages []*Message, id NodeID) *Message {
	node := Find(messages, id)
	if node == nil || node.ParentID == NullNode {
		return nil
	}
	return Find(messages, node.ParentID)
}

// PathAt addresses a node on the active path. Non-negative indices count from
// the root. Negative indices count back from the cursor, so -1 is the parent
// of the last element of path.
func PathAt(path []*Message, index int) *Message {
	if index < 0 {
		index = len(path) - 1 + index
	}
	if index < 0 || index >= len(path) {
		return nil
	}
	return path[index]
}

// SiblingAt addresses a sibling of anchor. Negative indices are relative to
// the anchor's own position and wrap around once. Indices past the last
// sibling yield nil.
func SiblingAt(messages []*Message, anchor NodeID, index int) *Message {
	siblings := Siblings(messages, anchor)
	if len(siblings) == 0 {
		return nil
	}
	if index < 0 {
		index = SiblingIndex(messages, anchor) + index
		if index < 0 {
			index = len(siblings) + index
		}
	}
	if index < 0 || index >= len(siblings) {
		return nil
	}
	return siblings[index]
}

// NextSibling cycles forward through the siblings of anchor, wrapping at the
// end.
func NextSibling(messages []*Message, anchor NodeID) *Message {
	siblings := Siblings(messages, anchor)
	if len(siblings) < 2 {
		return nil
	}
	i := SiblingIndex(messages, anchor)
	return siblings[(i+1)%len(siblings)]
}

// EditedCopy derives a replacement for node carrying text. The copy keeps
// the node's parent, so it becomes a sibling of the original.
func EditedCopy(node *Message, text string) (*Message, error) {
	if node == nil {
		return nil, ErrMessageNotFound
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	if text == node.Text {
		return nil, ErrMessageUnchanged
	}
	ret := node.Clone()
	ret.ID = NewNodeID()
	ret.Text = text
	return ret, nil
}

// MergeIntoParent derives a copy of id's parent whose text is the parent's
// text followed by the child's. The copy is a sibling of the parent and
// neither original is modified.
func MergeIntoParent(messages []*Message, id NodeID) (*Message, error) {
	node := Find(messages, id)
	if node == nil {
		return nil, ErrMessageNotFound
	}
	parent := Parent(messages, id)
	if parent == nil {
		return nil, ErrNoParent
	}
	ret := parent.Clone()
	ret.ID = NewNodeID()
	ret.Text = parent.Text + node.Text
	return ret, nil
}

// Chain links msgs into a consecutive chain below parent, in order.
// It returns the id of the last message, or parent for an empty chain.
func Chain(parent NodeID, msgs ...*Message) NodeID {
	last := parent
	for _, m := range msgs {
		m.ParentID = last
		last = m.ID
	}
	return last
}

// Parallel attaches every message directly to parent, making them siblings.
// It returns the id of the last message, or parent if msgs is empty.
func Parallel(parent NodeID, msgs ...*Message) NodeID {
	last := parent
	for _, m := range msgs {
		m.ParentID = parent
		last = m.ID
	}
	return last
}
