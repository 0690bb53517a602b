package api

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// MessageRequest is the Messages API request payload.
type MessageRequest struct {
	Model         string    `json:"model"`
	Messages      []Message `json:"messages"`
	MaxTokens     int       `json:"max_tokens"`
	Metadata      *Metadata `json:"metadata,omitempty"`
	StopSequences []string  `json:"stop_sequences,omitempty"`
	Stream        bool      `json:"stream"`
	System        string    `json:"system,omitempty"`
	Temperature   *float64  `json:"temperature,omitempty"`
	TopK          *int      `json:"top_k,omitempty"`
	TopP          *float64  `json:"top_p,omitempty"`
}

type Metadata struct {
	UserID string `json:"user_id,omitempty"`
}

type Message struct {
	Role    string    `json:"role"`
	Content []Content `json:"content"`
}

// IsTextOnly reports whether every block of the message is text.
func (m Message) IsTextOnly() bool {
	for _, c := range m.Content {
		if c.Type() != ContentTypeText {
			return false
		}
	}
	return true
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var aux struct {
		Role    string            `json:"role"`
		Content []json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	m.Role = aux.Role
	m.Content = make([]Content, 0, len(aux.Content))
	for _, raw := range aux.Content {
		c, err := unmarshalContent(raw)
		if err != nil {
			return err
		}
		m.Content = append(m.Content, c)
	}
	return nil
}

func unmarshalContent(raw json.RawMessage) (Content, error) {
	var base BaseContent
	if err := json.Unmarshal(raw, &base); err != nil {
		return nil, err
	}
	switch base.Type_ {
	case ContentTypeText:
		var t TextContent
		if err := json.Unmarshal(raw, &t); err != nil {
			return nil, err
		}
		return t, nil
	case ContentTypeImage:
		var i ImageContent
		if err := json.Unmarshal(raw, &i); err != nil {
			return nil, err
		}
		return i, nil
	default:
		return nil, errors.Errorf("unknown content type %q", base.Type_)
	}
}

// MessageResponse is the non-streaming Messages API response. Content keeps
// the raw blocks since responses may carry block types we do not model.
type MessageResponse struct {
	ID           string            `json:"id"`
	Type         string            `json:"type"`
	Role         string            `json:"role"`
	Content      []json.RawMessage `json:"content"`
	Model        string            `json:"model"`
	StopReason   string            `json:"stop_reason,omitempty"`
	StopSequence string            `json:"stop_sequence,omitempty"`
	Usage        Usage             `json:"usage"`
}

// FullText concatenates the text blocks of the response.
func (m *MessageResponse) FullText() string {
	if m == nil {
		return ""
	}
	ret := ""
	for _, raw := range m.Content {
		var block struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}
		if err := json.Unmarshal(raw, &block); err != nil || block.Type != string(ContentTypeText) {
			continue
		}
		ret += block.Text
	}
	return ret
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}
