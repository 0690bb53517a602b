package api

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const multipleContentTypesExpected = `{"role":"user","content":[{"type":"text","text":"Text"},{"type":"image","source":{"type":"base64","media_type":"image/jpeg","data":"base64data"}},{"type":"image","source":{"type":"url","url":"https://example.com/a.png"}}]}`

func TestMessageSerialization(t *testing.T) {
	tests := []struct {
		name     string
		message  Message
		expected string
	}{
		{
			name: "Single TextContent",
			message: Message{
				Role:    "user",
				Content: []Content{NewTextContent("Hello")},
			},
			expected: `{"role":"user","content":[{"type":"text","text":"Hello"}]}`,
		},
		{
			name: "Multiple Content types",
			message: Message{
				Role: "user",
				Content: []Content{
					NewTextContent("Text"),
					NewImageContent("image/jpeg", "base64data"),
					NewImageURLContent("https://example.com/a.png"),
				},
			},
			expected: multipleContentTypesExpected,
		},
		{
			name: "Empty Content",
			message: Message{
				Role:    "user",
				Content: []Content{},
			},
			expected: `{"role":"user","content":[]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := json.Marshal(tt.message)
			require.NoError(t, err)
			assert.JSONEq(t, tt.expected, string(got))
		})
	}
}

func TestMessageDeserialization(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected Message
		wantErr  bool
	}{
		{
			name:  "Single TextContent",
			input: `{"role":"user","content":[{"type":"text","text":"Hello"}]}`,
			expected: Message{
				Role:    "user",
				Content: []Content{TextContent{BaseContent: BaseContent{Type_: "text"}, Text: "Hello"}},
			},
		},
		{
			name:  "Multiple Content types",
			input: multipleContentTypesExpected,
			expected: Message{
				Role: "user",
				Content: []Content{
					TextContent{BaseContent: BaseContent{Type_: "text"}, Text: "Text"},
					ImageContent{BaseContent: BaseContent{Type_: "image"}, Source: ImageSource{Type: "base64", MediaType: "image/jpeg", Data: "base64data"}},
					ImageContent{BaseContent: BaseContent{Type_: "image"}, Source: ImageSource{Type: "url", URL: "https://example.com/a.png"}},
				},
			},
		},
		{
			name:    "Unknown Content type",
			input:   `{"role":"user","content":[{"type":"unknown","data":"test"}]}`,
			wantErr: true,
		},
		{
			name:    "Malformed JSON",
			input:   `{"role":"user","content":[{"type":"text","text":"Hello"}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Message
			err := json.Unmarshal([]byte(tt.input), &got)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestFullText(t *testing.T) {
	var r MessageResponse
	require.NoError(t, json.Unmarshal([]byte(`{"content":[{"type":"text","text":"a"},{"type":"tool_use","id":"x"},{"type":"text","text":"b"}]}`), &r))
	assert.Equal(t, "ab", r.FullText())
	assert.True(t, Message{Content: []Content{NewTextContent("x")}}.IsTextOnly())
	assert.False(t, Message{Content: []Content{NewImageURLContent("u")}}.IsTextOnly())
}
