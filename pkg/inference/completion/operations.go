package completion

import (
	"context"

	"github.com/go-go-golems/loom/pkg/conversation"
	"github.com/go-go-golems/loom/pkg/conversation/store"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Conversation returns a copy of the stored conversation id.
func (e *Engine) Conversation(ctx context.Context, id string) (*conversation.Conversation, bool, error) {
	if id == "" {
		return nil, false, store.ErrEmptyID
	}
	return e.store.Get(ctx, id)
}

// LastCursor returns the cursor of the most recent turn.
func (e *Engine) LastCursor(ctx context.Context) (*conversation.Cursor, bool, error) {
	return e.store.GetCursor(ctx, store.LastConversationKey)
}

// AddMessages appends msgs below parent without calling the provider. With
// chain the messages form a consecutive chain, otherwise they become
// siblings. All messages land in a single write and the returned cursor
// points at the last one.
func (e *Engine) AddMessages(ctx context.Context, id string, parent conversation.NodeID, msgs []*conversation.Message, chain bool) (conversation.Cursor, error) {
	if id == "" {
		return conversation.Cursor{}, store.ErrEmptyID
	}
	conv, err := e.loadOrCreate(ctx, id)
	if err != nil {
		return conversation.Cursor{}, err
	}
	if parent != conversation.NullNode && conv.Find(parent) == nil {
		return conversation.Cursor{}, errors.Wrapf(conversation.ErrMessageNotFound, "%s", parent)
	}

	added := make([]*conversation.Message, 0, len(msgs))
	for _, m := range msgs {
		if m == nil {
			continue
		}
		c := m.Clone()
		if c.ID == conversation.NullNode {
			c.ID = conversation.NewNodeID()
		}
		if c.Role == "" {
			c.Role = e.participants.User.Display
		}
		if c.Time.IsZero() {
			c.Time = e.now()
		}
		added = append(added, c)
	}
	if len(added) == 0 {
		return conversation.Cursor{ConversationID: id, ParentMessageID: parent}, nil
	}

	var last conversation.NodeID
	if chain {
		last = conversation.Chain(parent, added...)
	} else {
		last = conversation.Parallel(parent, added...)
	}

	conv.Append(added...)
	if err := e.store.Set(ctx, id, conv); err != nil {
		return conversation.Cursor{}, errors.Wrap(err, "persist messages")
	}

	cursor := conversation.Cursor{ConversationID: id, ParentMessageID: last}
	if err := e.store.SetCursor(ctx, store.LastConversationKey, cursor); err != nil {
		log.Warn().Err(err).Msg("could not update last conversation pointer")
	}
	return cursor, nil
}

// Edit appends an edited copy of nodeID as its sibling and returns the copy.
func (e *Engine) Edit(ctx context.Context, id string, nodeID conversation.NodeID, text string) (*conversation.Message, error) {
	conv, ok, err := e.Conversation(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Wrapf(conversation.ErrMessageNotFound, "conversation %s", id)
	}
	edited, err := conversation.EditedCopy(conv.Find(nodeID), text)
	if err != nil {
		return nil, err
	}
	edited.Time = e.now()
	conv.Append(edited)
	if err := e.store.Set(ctx, id, conv); err != nil {
		return nil, errors.Wrap(err, "persist edit")
	}
	return edited, nil
}

// MergeUp appends a copy of the cursor's parent that carries the cursor
// node's text appended to its own.
func (e *Engine) MergeUp(ctx context.Context, cursor conversation.Cursor) (*conversation.Message, error) {
	conv, ok, err := e.Conversation(ctx, cursor.ConversationID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Wrapf(conversation.ErrMessageNotFound, "conversation %s", cursor.ConversationID)
	}
	merged, err := conversation.MergeIntoParent(conv.Messages, cursor.ParentMessageID)
	if err != nil {
		return nil, err
	}
	merged.Time = e.now()
	conv.Append(merged)
	if err := e.store.Set(ctx, cursor.ConversationID, conv); err != nil {
		return nil, errors.Wrap(err, "persist merge")
	}
	return merged, nil
}

// Import stores conv under its id unless a conversation with that id
// already exists. It reports whether conv was written.
func (e *Engine) Import(ctx context.Context, conv *conversation.Conversation) (bool, error) {
	if conv == nil {
		return false, store.ErrNilRecord
	}
	if conv.ID == "" {
		return false, store.ErrEmptyID
	}
	_, ok, err := e.store.Get(ctx, conv.ID)
	if err != nil || ok {
		return false, err
	}
	if err := e.store.Set(ctx, conv.ID, conv); err != nil {
		return false, errors.Wrapf(err, "import conversation %s", conv.ID)
	}
	return true, nil
}
