package openai

import (
	"strings"

	"github.com/go-go-golems/loom/pkg/conversation"
	"github.com/go-go-golems/loom/pkg/inference/engine"
	go_openai "github.com/sashabaranov/go-openai"
)

// MakeChatMessages converts the prompt into chat messages: the system prompt
// first, then the path in order. Messages with attachments or explicit
// content parts are sent as multi-part content.
func MakeChatMessages(path []engine.PromptMessage, system *engine.PromptMessage) []go_openai.ChatCompletionMessage {
	ret := make([]go_openai.ChatCompletionMessage, 0, len(path)+1)
	if system != nil && system.Text != "" {
		ret = append(ret, go_openai.ChatCompletionMessage{
			Role:    go_openai.ChatMessageRoleSystem,
			Content: system.Text,
		})
	}
	for _, m := range path {
		ret = append(ret, makeChatMessage(m))
	}
	return ret
}

func makeChatMessage(m engine.PromptMessage) go_openai.ChatCompletionMessage {
	role := roleOf(m.Author)
	parts := m.Parts()
	if parts == nil {
		return go_openai.ChatCompletionMessage{Role: role, Content: m.Text}
	}

	multi := make([]go_openai.ChatMessagePart, 0, len(parts))
	for _, p := range parts {
		switch p.Type {
		case conversation.ContentPartImage:
			multi = append(multi, go_openai.ChatMessagePart{
				Type: go_openai.ChatMessagePartTypeImageURL,
				ImageURL: &go_openai.ChatMessageImageURL{
					URL:    p.URL,
					Detail: go_openai.ImageURLDetailAuto,
				},
			})
		default:
			multi = append(multi, go_openai.ChatMessagePart{
				Type: go_openai.ChatMessagePartTypeText,
				Text: p.Text,
			})
		}
	}
	return go_openai.ChatCompletionMessage{Role: role, MultiContent: multi}
}

func roleOf(author conversation.Author) string {
	switch author {
	case conversation.AuthorSystem:
		return go_openai.ChatMessageRoleSystem
	case conversation.AuthorAssistant:
		return go_openai.ChatMessageRoleAssistant
	default:
		return go_openai.ChatMessageRoleUser
	}
}

// MakeTranscript flattens the prompt for completion-style models. Each
// message becomes "Display: text" with the default participant labels,
// separated by blank lines, and the prompt ends with an open assistant turn.
func MakeTranscript(path []engine.PromptMessage, system *engine.PromptMessage) string {
	participants := conversation.DefaultParticipants()
	var sb strings.Builder
	if system != nil && system.Text != "" {
		sb.WriteString(participants.DisplayOf(conversation.AuthorSystem))
		sb.WriteString(": ")
		sb.WriteString(system.Text)
		sb.WriteString("\n\n")
	}
	for _, m := range path {
		text := m.Text
		if m.Prompt != "" {
			text = m.Prompt
		}
		sb.WriteString(participants.DisplayOf(m.Author))
		sb.WriteString(": ")
		sb.WriteString(text)
		sb.WriteString("\n\n")
	}
	sb.WriteString(participants.DisplayOf(conversation.AuthorAssistant))
	sb.WriteString(":")
	return sb.String()
}

func float32Ptr(f *float64) float32 {
	if f == nil {
		return 0
	}
	return float32(*f)
}

// withZeroTemperature re-adds an explicit temperature of 0, which the request
// structs drop through omitempty. A temperature already in extra wins.
func withZeroTemperature(extra map[string]interface{}, temperature *float64) map[string]interface{} {
	if temperature == nil || *temperature != 0 {
		return extra
	}
	if _, ok := extra["temperature"]; ok {
		return extra
	}
	out := make(map[string]interface{}, len(extra)+1)
	for k, v := range extra {
		out[k] = v
	}
	out["temperature"] = 0
	return out
}
