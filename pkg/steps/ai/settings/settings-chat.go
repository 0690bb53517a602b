package settings

import (
	"github.com/go-go-golems/loom/pkg/steps/ai/types"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/huandu/go-clone"
)

type ChatSettings struct {
	// Engine is the provider model name. It wins over ModelAlias.
	Engine            *string        `yaml:"engine,omitempty"`
	ModelAlias        *string        `yaml:"model_alias,omitempty"`
	ApiType           *types.ApiType `yaml:"api_type,omitempty"`
	MaxResponseTokens *int           `yaml:"max_response_tokens,omitempty"`
	TopP              *float64       `yaml:"top_p,omitempty"`
	Temperature       *float64       `yaml:"temperature,omitempty"`
	Stop              []string       `yaml:"stop,omitempty"`
	// N is the number of candidates per turn.
	N       *int              `yaml:"n,omitempty"`
	APIKeys map[string]string `yaml:"api_keys,omitempty"`
	Stream  bool              `yaml:"stream,omitempty"`

	SystemPrompt *string `yaml:"system_prompt,omitempty"`
	// BotDisplay is the label stored on assistant nodes.
	BotDisplay *string `yaml:"bot_display,omitempty"`
	// Extra is passed through into the request body.
	Extra map[string]interface{} `yaml:"extra,omitempty"`
}

func NewChatSettings() *ChatSettings {
	return &ChatSettings{
		Stop:    []string{},
		APIKeys: map[string]string{},
		Stream:  true,
	}
}

func (s *ChatSettings) Clone() *ChatSettings {
	return clone.Clone(s).(*ChatSettings)
}

var knownApiTypes = []interface{}{
	types.ApiTypeOpenAI,
	types.ApiTypeAnyScale,
	types.ApiTypeFireworks,
	types.ApiTypeClaude,
	types.ApiTypeGemini,
	types.ApiTypeOpenRouter,
	types.ApiType("anthropic"),
	types.ApiType("google"),
}

func (s *ChatSettings) Validate() error {
	return validation.ValidateStruct(s,
		validation.Field(&s.ApiType, validation.NilOrNotEmpty, validation.In(knownApiTypes...)),
		validation.Field(&s.MaxResponseTokens, validation.NilOrNotEmpty, validation.Min(1)),
		validation.Field(&s.Temperature, validation.Min(0.0), validation.Max(2.0)),
		validation.Field(&s.TopP, validation.Min(0.0), validation.Max(1.0)),
		validation.Field(&s.N, validation.NilOrNotEmpty, validation.Min(1), validation.Max(16)),
	)
}
