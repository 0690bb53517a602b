package completion

import (
	"github.com/go-go-golems/loom/pkg/conversation"
	"github.com/go-go-golems/loom/pkg/conversation/store"
	"github.com/go-go-golems/loom/pkg/inference/engine/factory"
	"github.com/go-go-golems/loom/pkg/steps/ai/settings"
	"github.com/go-go-golems/loom/pkg/steps/ai/types"
)

var botDisplays = map[types.ApiType]string{
	types.ApiTypeClaude:     "Claude",
	types.ApiTypeGemini:     "Gemini",
	types.ApiTypeOpenRouter: "OpenRouter",
}

// NewFromSettings builds an engine for the provider selected by ss.
// options are applied after the settings derived ones.
func NewFromSettings(s store.Store, ss *settings.StepSettings, presets *settings.ModelPresets, options ...Option) (*Engine, error) {
	if presets == nil {
		presets = settings.NewModelPresets()
	}
	adapter, err := factory.NewAdapterFromStepSettings(ss, presets)
	if err != nil {
		return nil, err
	}
	opts, err := ss.ModelOptions(presets)
	if err != nil {
		return nil, err
	}

	provider := types.ApiType(adapter.Name())
	participants := conversation.DefaultParticipants().WithBotDisplay(botDisplays[provider])
	if ss.Chat != nil && ss.Chat.BotDisplay != nil {
		participants = participants.WithBotDisplay(*ss.Chat.BotDisplay)
	}

	base := []Option{
		WithDefaultOptions(opts),
		WithParticipants(participants),
		WithCredentials(func(string) (string, error) {
			return ss.APIKey(provider)
		}),
	}
	return New(s, adapter, append(base, options...)...), nil
}
