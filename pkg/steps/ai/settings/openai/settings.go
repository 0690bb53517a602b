package openai

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/huandu/go-clone"
)

const DefaultBaseURL = "https://api.openai.com/v1/chat/completions"

type Settings struct {
	// How many choice to create for each prompt
	N *int `yaml:"n,omitempty"`
	// PresencePenalty to use
	PresencePenalty *float64 `yaml:"presence_penalty,omitempty"`
	// FrequencyPenalty to use
	FrequencyPenalty *float64 `yaml:"frequency_penalty,omitempty"`
	LogitBias        map[string]int `yaml:"logit_bias,omitempty"`
	// BaseURL is the full completions endpoint.
	BaseURL *string `yaml:"base_url,omitempty"`
	APIKey  *string `yaml:"api_key,omitempty"`
	// CompletionStyle sends a flattened transcript as `prompt` and reads
	// choices[].text instead of choices[].delta.content.
	CompletionStyle bool `yaml:"completion_style,omitempty"`
}

func NewSettings() *Settings {
	return &Settings{
		LogitBias: map[string]int{},
	}
}

func (s *Settings) Clone() *Settings {
	return clone.Clone(s).(*Settings)
}

func (s *Settings) GetBaseURL() string {
	if s == nil || s.BaseURL == nil || *s.BaseURL == "" {
		return DefaultBaseURL
	}
	return *s.BaseURL
}

func (s *Settings) Validate() error {
	return validation.ValidateStruct(s,
		validation.Field(&s.N, validation.NilOrNotEmpty, validation.Min(1)),
		validation.Field(&s.BaseURL, validation.NilOrNotEmpty, is.URL),
	)
}
