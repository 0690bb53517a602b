package engine

import (
	"context"
	"strings"

	"github.com/go-go-golems/loom/pkg/conversation"
)

// PromptMessage is one entry of the prompt sent to a provider, already
// converted from display labels to wire authors.
type PromptMessage struct {
	Author       conversation.Author
	Text         string
	Type         conversation.MessageType
	// Prompt replaces Text when building multi-part content.
	Prompt       string
	Attachments  []*conversation.Attachment
	ContentParts []conversation.ContentPart
}

// Parts returns the multi-part content of the message, or nil when the
// message is plain text. Explicit content parts win. Otherwise the prompt
// (or the text) is followed by one image part per attachment.
func (p PromptMessage) Parts() []conversation.ContentPart {
	if len(p.ContentParts) > 0 {
		return p.ContentParts
	}
	if p.Prompt == "" && len(p.Attachments) == 0 {
		return nil
	}

	var parts []conversation.ContentPart
	if p.Prompt != "" {
		parts = append(parts, conversation.ContentPart{Type: conversation.ContentPartText, Text: p.Prompt})
	}
	for _, a := range p.Attachments {
		if a == nil || a.Type != "image" || a.Source() == "" {
			continue
		}
		parts = append(parts, conversation.ContentPart{Type: conversation.ContentPartImage, URL: a.Source()})
	}
	if p.Prompt == "" && strings.TrimSpace(p.Text) != "" {
		parts = append([]conversation.ContentPart{{Type: conversation.ContentPartText, Text: p.Text}}, parts...)
	}
	if len(parts) == 0 {
		return nil
	}
	return parts
}

// IsTextOnly reports whether the message is sent as a single text block.
func (p PromptMessage) IsTextOnly() bool {
	for _, part := range p.Parts() {
		if part.Type != conversation.ContentPartText {
			return false
		}
	}
	return true
}

// NewPromptMessage converts a stored node using participants to resolve
// its author.
func NewPromptMessage(m *conversation.Message, participants conversation.Participants) PromptMessage {
	ret := PromptMessage{
		Author: participants.AuthorOf(m.Role),
		Text:   m.Text,
		Type:   m.Type,
	}
	if m.Details != nil {
		ret.Prompt = m.Details.Prompt
		ret.Attachments = m.Details.Attachments
		ret.ContentParts = m.Details.ContentParts
	}
	return ret
}

// EventHandler receives normalized stream events in arrival order. Returning
// an error aborts the stream with that error.
type EventHandler func(event StreamEvent) error

// Adapter translates between the normalized prompt model and one vendor's
// wire protocol.
//
// Stream calls onEvent synchronously from the calling goroutine, so deltas of
// a candidate are never reordered. Each candidate receives exactly one event
// with Done set, unless the stream fails first.
type Adapter interface {
	// Name identifies the provider, matching the settings api type.
	Name() string
	BuildRequest(path []PromptMessage, system *PromptMessage, opts ModelOptions) (*WireRequest, error)
	Stream(ctx context.Context, req *WireRequest, apiKey string, onEvent EventHandler) error
}
