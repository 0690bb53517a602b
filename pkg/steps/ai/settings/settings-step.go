package settings

import (
	"io"
	"strings"

	"github.com/go-go-golems/loom/pkg/inference/engine"
	"github.com/go-go-golems/loom/pkg/steps/ai/settings/claude"
	"github.com/go-go-golems/loom/pkg/steps/ai/settings/gemini"
	"github.com/go-go-golems/loom/pkg/steps/ai/settings/openai"
	"github.com/go-go-golems/loom/pkg/steps/ai/settings/openrouter"
	"github.com/go-go-golems/loom/pkg/steps/ai/types"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type StorageSettings struct {
	// Type is one of memory, file or sqlite.
	Type string `yaml:"type,omitempty"`
	Path string `yaml:"path,omitempty"`
}

type SaveSettings struct {
	Directory string `yaml:"directory,omitempty"`
}

type StepSettings struct {
	Chat       *ChatSettings        `yaml:"chat,omitempty"`
	Client     *ClientSettings      `yaml:"client,omitempty"`
	OpenAI     *openai.Settings     `yaml:"openai,omitempty"`
	Claude     *claude.Settings     `yaml:"claude,omitempty"`
	Gemini     *gemini.Settings     `yaml:"gemini,omitempty"`
	OpenRouter *openrouter.Settings `yaml:"openrouter,omitempty"`
	Storage    *StorageSettings     `yaml:"storage,omitempty"`
	Saves      *SaveSettings        `yaml:"saves,omitempty"`
}

func NewStepSettings() *StepSettings {
	return &StepSettings{
		Chat:       NewChatSettings(),
		Client:     NewClientSettings(),
		OpenAI:     openai.NewSettings(),
		Claude:     claude.NewSettings(),
		Gemini:     gemini.NewSettings(),
		OpenRouter: openrouter.NewSettings(),
		Storage:    &StorageSettings{Type: "memory"},
		Saves:      &SaveSettings{Directory: "saved_states"},
	}
}

// NewStepSettingsFromYAML decodes settings over the defaults, so that
// sections missing from the document keep their default values.
func NewStepSettingsFromYAML(s io.Reader) (*StepSettings, error) {
	ret := NewStepSettings()
	if err := yaml.NewDecoder(s).Decode(ret); err != nil && err != io.EOF {
		return nil, err
	}
	ret.fillDefaults()
	return ret, nil
}

func (ss *StepSettings) fillDefaults() {
	d := NewStepSettings()
	if ss.Chat == nil {
		ss.Chat = d.Chat
	}
	if ss.Chat.APIKeys == nil {
		ss.Chat.APIKeys = map[string]string{}
	}
	if ss.Client == nil {
		ss.Client = d.Client
	}
	if ss.OpenAI == nil {
		ss.OpenAI = d.OpenAI
	}
	if ss.Claude == nil {
		ss.Claude = d.Claude
	}
	if ss.Gemini == nil {
		ss.Gemini = d.Gemini
	}
	if ss.OpenRouter == nil {
		ss.OpenRouter = d.OpenRouter
	}
	if ss.Storage == nil {
		ss.Storage = d.Storage
	}
	if ss.Saves == nil {
		ss.Saves = d.Saves
	}
}

func (ss *StepSettings) Clone() *StepSettings {
	ret := &StepSettings{
		Chat:       ss.Chat.Clone(),
		Client:     ss.Client.Clone(),
		OpenAI:     ss.OpenAI.Clone(),
		Claude:     ss.Claude.Clone(),
		Gemini:     ss.Gemini.Clone(),
		OpenRouter: ss.OpenRouter.Clone(),
	}
	if ss.Storage != nil {
		s := *ss.Storage
		ret.Storage = &s
	}
	if ss.Saves != nil {
		s := *ss.Saves
		ret.Saves = &s
	}
	return ret
}

func (ss *StepSettings) Validate() error {
	return validation.ValidateStruct(ss,
		validation.Field(&ss.Chat, validation.Required),
		validation.Field(&ss.OpenAI),
		validation.Field(&ss.Claude),
		validation.Field(&ss.Gemini),
		validation.Field(&ss.OpenRouter),
	)
}

// Provider returns the configured api type. Without an explicit type the
// company of the selected preset decides, then OpenAI.
func (ss *StepSettings) Provider(presets *ModelPresets) types.ApiType {
	if ss.Chat != nil && ss.Chat.ApiType != nil && *ss.Chat.ApiType != "" {
		name := strings.ToLower(string(*ss.Chat.ApiType))
		if t, ok := types.ApiTypeForCompany(name); ok {
			return t
		}
		return types.ApiType(name)
	}
	if ss.Chat != nil && ss.Chat.ModelAlias != nil {
		if preset, err := presets.Resolve(*ss.Chat.ModelAlias); err == nil {
			if t, ok := types.ApiTypeForCompany(preset.Company); ok {
				return t
			}
		}
	}
	return types.ApiTypeOpenAI
}

// ModelOptions resolves the generation options of a turn. An explicit engine
// wins, otherwise the model alias is looked up in presets. A configured
// alias that is not in presets is an error.
func (ss *StepSettings) ModelOptions(presets *ModelPresets) (engine.ModelOptions, error) {
	chat := ss.Chat
	if chat == nil {
		chat = NewChatSettings()
	}

	ret := engine.ModelOptions{
		Temperature: chat.Temperature,
		TopP:        chat.TopP,
		Stop:        append([]string(nil), chat.Stop...),
		Stream:      chat.Stream,
	}
	if chat.N != nil {
		ret.N = *chat.N
	}
	if len(chat.Extra) > 0 {
		ret.Extra = make(map[string]interface{}, len(chat.Extra))
		for k, v := range chat.Extra {
			ret.Extra[k] = v
		}
	}

	var preset *ModelPreset
	switch {
	case chat.Engine != nil && *chat.Engine != "":
		ret.Model = *chat.Engine
	case chat.ModelAlias != nil && *chat.ModelAlias != "":
		p, err := presets.Resolve(*chat.ModelAlias)
		if err != nil {
			return engine.ModelOptions{}, err
		}
		preset = &p
		ret.Model = p.APIName
	default:
		if alias := presets.DefaultAlias(companyOf(ss.Provider(presets))); alias != "" {
			p, _ := presets.Resolve(alias)
			preset = &p
			ret.Model = p.APIName
		}
	}

	switch {
	case chat.MaxResponseTokens != nil:
		v := *chat.MaxResponseTokens
		ret.MaxTokens = &v
	case preset != nil && preset.MaxTokens != nil:
		v := *preset.MaxTokens
		ret.MaxTokens = &v
	case presets != nil && presets.Globals.MaxTokens != nil:
		v := *presets.Globals.MaxTokens
		ret.MaxTokens = &v
	}

	return ret, nil
}

func companyOf(t types.ApiType) string {
	switch t {
	case types.ApiTypeClaude:
		return "anthropic"
	case types.ApiTypeGemini:
		return "google"
	case types.ApiTypeOpenRouter:
		return "openrouter"
	default:
		return "openai"
	}
}

// APIKey looks up the credential of provider: the provider section first,
// then chat.api_keys under "<provider>-api-key" or "<provider>".
func (ss *StepSettings) APIKey(provider types.ApiType) (string, error) {
	var key *string
	switch provider {
	case types.ApiTypeOpenAI, types.ApiTypeAnyScale, types.ApiTypeFireworks:
		if ss.OpenAI != nil {
			key = ss.OpenAI.APIKey
		}
	case types.ApiTypeClaude:
		if ss.Claude != nil {
			key = ss.Claude.APIKey
		}
	case types.ApiTypeGemini:
		if ss.Gemini != nil {
			key = ss.Gemini.APIKey
		}
	case types.ApiTypeOpenRouter:
		if ss.OpenRouter != nil {
			key = ss.OpenRouter.APIKey
		}
	default:
		return "", errors.Wrapf(engine.ErrUnknownProvider, "%s", provider)
	}
	if key != nil && *key != "" {
		return *key, nil
	}
	if ss.Chat != nil {
		for _, k := range []string{string(provider) + "-api-key", string(provider)} {
			if v := ss.Chat.APIKeys[k]; v != "" {
				return v, nil
			}
		}
	}
	return "", errors.Wrapf(engine.ErrMissingCredential, "provider %s", provider)
}

// SystemPrompt returns the configured system prompt, or "".
func (ss *StepSettings) SystemPrompt() string {
	if ss.Chat == nil || ss.Chat.SystemPrompt == nil {
		return ""
	}
	return *ss.Chat.SystemPrompt
}
