package gemini

import (
	"strings"

	"github.com/go-go-golems/loom/pkg/conversation"
	"github.com/go-go-golems/loom/pkg/inference/engine"
)

// IsGeminiEngine reports whether engine names a Gemini model.
func IsGeminiEngine(engine string) bool {
	return strings.HasPrefix(engine, "gemini")
}

const (
	RoleUser  = "user"
	RoleModel = "model"

	systemPrefix          = "System instruction: "
	systemAcknowledgement = "Understood."
)

type Part struct {
	Text string `json:"text"`
}

type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

type GenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	TopK            *int     `json:"topK,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
	CandidateCount  *int     `json:"candidateCount,omitempty"`
}

func (g *GenerationConfig) empty() bool {
	return g.Temperature == nil && g.TopP == nil && g.TopK == nil &&
		g.MaxOutputTokens == nil && len(g.StopSequences) == 0 && g.CandidateCount == nil
}

type Request struct {
	Contents          []Content         `json:"contents"`
	GenerationConfig  *GenerationConfig `json:"generationConfig,omitempty"`
	SystemInstruction *Content          `json:"systemInstruction,omitempty"`
}

type Candidate struct {
	Content      Content `json:"content"`
	FinishReason string  `json:"finishReason,omitempty"`
	Index        int     `json:"index"`
}

type UsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
}

type Response struct {
	Candidates    []Candidate    `json:"candidates"`
	UsageMetadata *UsageMetadata `json:"usageMetadata,omitempty"`
}

// MakeContents flattens the prompt into text turns. Without a dedicated
// system field the system prompt becomes a user turn acknowledged by the
// model.
func MakeContents(path []engine.PromptMessage, system *engine.PromptMessage, useSystemInstruction bool) ([]Content, *Content) {
	contents := make([]Content, 0, len(path)+2)
	var instruction *Content
	if system != nil && system.Text != "" {
		if useSystemInstruction {
			instruction = &Content{Parts: []Part{{Text: system.Text}}}
		} else {
			contents = append(contents,
				Content{Role: RoleUser, Parts: []Part{{Text: systemPrefix + system.Text}}},
				Content{Role: RoleModel, Parts: []Part{{Text: systemAcknowledgement}}},
			)
		}
	}
	for _, m := range path {
		contents = append(contents, Content{
			Role:  roleOf(m.Author),
			Parts: []Part{{Text: textOf(m)}},
		})
	}
	return contents, instruction
}

func roleOf(author conversation.Author) string {
	if author == conversation.AuthorAssistant {
		return RoleModel
	}
	return RoleUser
}

// textOf joins the text parts of a message. Images are not sent.
func textOf(m engine.PromptMessage) string {
	parts := m.Parts()
	if parts == nil {
		return m.Text
	}
	var texts []string
	for _, p := range parts {
		if p.Type == conversation.ContentPartText && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// Text concatenates the text parts of a candidate.
func (c Candidate) Text() string {
	var sb strings.Builder
	for _, p := range c.Content.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String()
}
