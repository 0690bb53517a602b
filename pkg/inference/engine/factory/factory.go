package factory

import (
	"strings"

	"github.com/go-go-golems/loom/pkg/inference/engine"
	"github.com/go-go-golems/loom/pkg/steps/ai/claude"
	"github.com/go-go-golems/loom/pkg/steps/ai/gemini"
	"github.com/go-go-golems/loom/pkg/steps/ai/openai"
	"github.com/go-go-golems/loom/pkg/steps/ai/openrouter"
	"github.com/go-go-golems/loom/pkg/steps/ai/settings"
	"github.com/go-go-golems/loom/pkg/steps/ai/types"
	"github.com/pkg/errors"
)

// AdapterFactory creates provider adapters from settings.
// This interface allows external control over which provider is used
// without the calling code needing to know specific implementations.
type AdapterFactory interface {
	// CreateAdapter returns the adapter for the provider resolved from
	// settings and presets. Unknown providers wrap engine.ErrUnknownProvider.
	CreateAdapter(settings *settings.StepSettings, presets *settings.ModelPresets) (engine.Adapter, error)

	// SupportedProviders returns the provider names, matching the ApiType
	// constants.
	SupportedProviders() []string

	// DefaultProvider is used when neither the api type nor the model preset
	// names a provider.
	DefaultProvider() string
}

// StandardAdapterFactory is the default implementation of AdapterFactory.
type StandardAdapterFactory struct{}

func NewStandardAdapterFactory() *StandardAdapterFactory {
	return &StandardAdapterFactory{}
}

func (f *StandardAdapterFactory) CreateAdapter(ss *settings.StepSettings, presets *settings.ModelPresets) (engine.Adapter, error) {
	if ss == nil {
		return nil, errors.New("settings cannot be nil")
	}
	if presets == nil {
		presets = settings.NewModelPresets()
	}

	provider := providerOf(ss, presets)
	if err := f.validateSettings(ss, provider); err != nil {
		return nil, errors.Wrapf(err, "invalid settings for provider %s", provider)
	}

	switch provider {
	case string(types.ApiTypeOpenAI):
		return openai.NewAdapter(ss), nil

	case string(types.ApiTypeAnyScale), string(types.ApiTypeFireworks):
		return openai.NewAdapter(ss, openai.WithName(provider)), nil

	case string(types.ApiTypeClaude), "anthropic":
		return claude.NewAdapter(ss), nil

	case string(types.ApiTypeGemini), "google":
		return gemini.NewAdapter(ss), nil

	case string(types.ApiTypeOpenRouter):
		return openrouter.NewAdapter(ss), nil

	default:
		supported := strings.Join(f.SupportedProviders(), ", ")
		return nil, errors.Wrapf(engine.ErrUnknownProvider, "%s. Supported providers: %s", provider, supported)
	}
}

// providerOf resolves the provider from settings. When neither the api type
// nor a preset names one, a gemini engine name selects gemini.
func providerOf(ss *settings.StepSettings, presets *settings.ModelPresets) string {
	provider := ss.Provider(presets)
	if provider == types.ApiTypeOpenAI && ss.Chat != nil && ss.Chat.ApiType == nil &&
		ss.Chat.Engine != nil && gemini.IsGeminiEngine(*ss.Chat.Engine) {
		provider = types.ApiTypeGemini
	}
	return strings.ToLower(string(provider))
}

func (f *StandardAdapterFactory) SupportedProviders() []string {
	return []string{
		string(types.ApiTypeOpenAI),
		string(types.ApiTypeAnyScale),
		string(types.ApiTypeFireworks),
		string(types.ApiTypeClaude),
		"anthropic", // alias for claude
		string(types.ApiTypeGemini),
		"google", // alias for gemini
		string(types.ApiTypeOpenRouter),
	}
}

func (f *StandardAdapterFactory) DefaultProvider() string {
	return string(types.ApiTypeOpenAI)
}

// validateSettings checks that the provider section exists.
func (f *StandardAdapterFactory) validateSettings(ss *settings.StepSettings, provider string) error {
	if ss.Chat == nil {
		return errors.New("chat settings cannot be nil")
	}

	switch provider {
	case string(types.ApiTypeOpenAI), string(types.ApiTypeAnyScale), string(types.ApiTypeFireworks):
		if ss.OpenAI == nil {
			return errors.New("OpenAI-specific settings cannot be nil")
		}
	case string(types.ApiTypeClaude), "anthropic":
		if ss.Claude == nil {
			return errors.New("Claude-specific settings cannot be nil")
		}
	case string(types.ApiTypeGemini), "google":
		if ss.Gemini == nil {
			return errors.New("Gemini-specific settings cannot be nil")
		}
	case string(types.ApiTypeOpenRouter):
		if ss.OpenRouter == nil {
			return errors.New("OpenRouter-specific settings cannot be nil")
		}
	}
	return nil
}

var _ AdapterFactory = (*StandardAdapterFactory)(nil)
