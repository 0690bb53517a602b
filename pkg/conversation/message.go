package conversation

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type MessageType string

const (
	MessageTypeMessage MessageType = "message"
)

// Author is the wire-level speaker of a message, as opposed to the display
// label stored in Message.Role.
type Author string

const (
	AuthorSystem    Author = "system"
	AuthorAssistant Author = "assistant"
	AuthorUser      Author = "user"
)

// Message is a single node of a conversation tree.
//
// Nodes are never mutated once appended. Edits and merges derive new nodes
// that become siblings of the original.
type Message struct {
	ID       NodeID `json:"id"`
	ParentID NodeID `json:"parentMessageId"`
	// Role holds the display label of the speaker ("User", "Claude", ...).
	Role      string      `json:"role"`
	Text      string      `json:"message"`
	Unvisited bool        `json:"unvisited"`
	Type      MessageType `json:"type,omitempty"`
	Details   *Details    `json:"details,omitempty"`
	Time      time.Time   `json:"createdAt"`
}

// Details carries the optional structured payload of a node.
type Details struct {
	Attachments  []*Attachment `json:"attachments,omitempty"`
	ContentParts []ContentPart `json:"contentParts,omitempty"`
	Prompt       string        `json:"prompt,omitempty"`
	StopReason   string        `json:"stopReason,omitempty"`
	Error        string        `json:"error,omitempty"`
	Usage        *Usage        `json:"usage,omitempty"`
	Model        string        `json:"model,omitempty"`
	// Raw is the last provider event seen for this candidate.
	Raw      json.RawMessage        `json:"raw,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

type ContentPartType string

const (
	ContentPartText  ContentPartType = "text"
	ContentPartImage ContentPartType = "image"
)

// ContentPart is an explicit multi-part content element. When a node carries
// content parts they are sent instead of Text.
type ContentPart struct {
	Type ContentPartType `json:"type"`
	Text string          `json:"text,omitempty"`
	// URL is either a remote URL or a data: URL.
	URL string `json:"url,omitempty"`
}

// Attachment is an image attached to a message, referenced either as a data
// URL or as a remote URL.
type Attachment struct {
	Type      string `json:"type"`
	Name      string `json:"name,omitempty"`
	MediaType string `json:"mediaType,omitempty"`
	DataURL   string `json:"dataUrl,omitempty"`
	URL       string `json:"url,omitempty"`
}

// Source returns the URL the attachment should be sent as, preferring the
// inline data URL.
func (a *Attachment) Source() string {
	if a == nil {
		return ""
	}
	if a.DataURL != "" {
		return a.DataURL
	}
	return a.URL
}

type MessageOption func(*Message)

func WithID(id NodeID) MessageOption {
	return func(m *Message) {
		m.ID = id
	}
}

func WithParentID(id NodeID) MessageOption {
	return func(m *Message) {
		m.ParentID = id
	}
}

func WithTime(t time.Time) MessageOption {
	return func(m *Message) {
		m.Time = t
	}
}

func WithType(t MessageType) MessageOption {
	return func(m *Message) {
		m.Type = t
	}
}

func WithDetails(d *Details) MessageOption {
	return func(m *Message) {
		m.Details = d
	}
}

// NewMessage creates an unvisited node with a fresh id and no parent.
func NewMessage(role string, text string, options ...MessageOption) *Message {
	ret := &Message{
		ID:        NewNodeID(),
		ParentID:  NullNode,
		Role:      role,
		Text:      text,
		Unvisited: true,
		Type:      MessageTypeMessage,
		Time:      time.Now(),
	}

	for _, option := range options {
		option(ret)
	}

	return ret
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	ret := *m
	ret.Details = m.Details.Clone()
	return &ret
}

func (d *Details) Clone() *Details {
	if d == nil {
		return nil
	}
	ret := *d
	if d.Attachments != nil {
		ret.Attachments = make([]*Attachment, len(d.Attachments))
		for i, a := range d.Attachments {
			if a == nil {
				continue
			}
			a_ := *a
			ret.Attachments[i] = &a_
		}
	}
	if d.ContentParts != nil {
		ret.ContentParts = append([]ContentPart(nil), d.ContentParts...)
	}
	if d.Usage != nil {
		u := *d.Usage
		ret.Usage = &u
	}
	if d.Raw != nil {
		ret.Raw = append(json.RawMessage(nil), d.Raw...)
	}
	if d.Metadata != nil {
		ret.Metadata = make(map[string]interface{}, len(d.Metadata))
		for k, v := range d.Metadata {
			ret.Metadata[k] = v
		}
	}
	return &ret
}

func (m *Message) String() string {
	return fmt.Sprintf("[%s]: %s", m.Role, strings.TrimRight(m.Text, "\n"))
}

// NewImageAttachmentFromFile reads a local image and inlines it as a data URL.
// http(s) paths are kept as remote URLs.
func NewImageAttachmentFromFile(path string) (*Attachment, error) {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return &Attachment{
			Type: "image",
			Name: filepath.Base(path),
			URL:  path,
		}, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %v", err)
	}
	defer func(file *os.File) {
		_ = file.Close()
	}(file)

	fileInfo, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to get file info: %v", err)
	}
	if fileInfo.Size() > 20*1024*1024 {
		return nil, fmt.Errorf("image size exceeds 20MB limit")
	}

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read file content: %v", err)
	}

	mediaType := getMediaTypeFromExtension(filepath.Ext(path))
	if mediaType == "" {
		return nil, fmt.Errorf("unsupported image format: %s", filepath.Ext(path))
	}

	return &Attachment{
		Type:      "image",
		Name:      fileInfo.Name(),
		MediaType: mediaType,
		DataURL:   EncodeDataURL(mediaType, content),
	}, nil
}

func getMediaTypeFromExtension(ext string) string {
	switch strings.ToLower(ext) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	default:
		return ""
	}
}
