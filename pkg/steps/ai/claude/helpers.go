package claude

import (
	"strings"

	"github.com/go-go-golems/loom/pkg/conversation"
	"github.com/go-go-golems/loom/pkg/inference/engine"
	"github.com/go-go-golems/loom/pkg/steps/ai/claude/api"
)

// MakeMessages converts the prompt path into Anthropic messages.
// Consecutive messages of the same role are merged when both are text only,
// since the API expects alternating roles. A message whose parts all drop
// out is sent as a single empty text block.
func MakeMessages(path []engine.PromptMessage) []api.Message {
	merged := make([]api.Message, 0, len(path))
	for _, m := range path {
		msg := api.Message{
			Role:    roleOf(m.Author),
			Content: makeContent(m),
		}
		if n := len(merged); n > 0 {
			last := &merged[n-1]
			if last.Role == msg.Role && last.IsTextOnly() && msg.IsTextOnly() {
				last.Content = mergeText(last.Content, msg.Content)
				continue
			}
		}
		merged = append(merged, msg)
	}

	for i := range merged {
		if len(merged[i].Content) == 0 {
			merged[i].Content = []api.Content{api.NewTextContent("")}
		}
	}
	return merged
}

func roleOf(author conversation.Author) string {
	if author == conversation.AuthorAssistant {
		return "assistant"
	}
	return "user"
}

func makeContent(m engine.PromptMessage) []api.Content {
	parts := m.Parts()
	if parts == nil {
		return []api.Content{api.NewTextContent(m.Text)}
	}
	ret := make([]api.Content, 0, len(parts))
	for _, p := range parts {
		if c := makeContentPart(p); c != nil {
			ret = append(ret, c)
		}
	}
	return ret
}

// makeContentPart maps data urls to inline base64 images and anything else
// to url sources. Malformed data urls are dropped.
func makeContentPart(p conversation.ContentPart) api.Content {
	switch p.Type {
	case conversation.ContentPartImage:
		if p.URL == "" {
			return nil
		}
		if strings.HasPrefix(p.URL, "data:") {
			mediaType, data, ok := conversation.ParseDataURL(p.URL)
			if !ok {
				return nil
			}
			return api.NewImageContent(mediaType, data)
		}
		return api.NewImageURLContent(p.URL)
	case conversation.ContentPartText:
		return api.NewTextContent(p.Text)
	default:
		return nil
	}
}

// mergeText collapses a merged turn into a single text block holding the
// last text of prev followed by the first text of next.
func mergeText(prev, next []api.Content) []api.Content {
	return []api.Content{api.NewTextContent(lastText(prev) + firstText(next))}
}

func lastText(content []api.Content) string {
	if len(content) == 0 {
		return ""
	}
	if t, ok := content[len(content)-1].(api.TextContent); ok {
		return t.Text
	}
	return ""
}

func firstText(content []api.Content) string {
	if len(content) == 0 {
		return ""
	}
	if t, ok := content[0].(api.TextContent); ok {
		return t.Text
	}
	return ""
}
