package gemini

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/huandu/go-clone"
)

const DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta/models/gemini-2.0-flash:generateContent"

type Settings struct {
	BaseURL *string `yaml:"base_url,omitempty"`
	APIKey  *string `yaml:"api_key,omitempty"`
	TopK    *int    `yaml:"top_k,omitempty"`
	// UseSystemInstruction sends the system prompt as systemInstruction
	// instead of a leading user/model exchange.
	UseSystemInstruction bool `yaml:"use_system_instruction,omitempty"`
}

func NewSettings() *Settings {
	return &Settings{}
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
		validation.Field(&s.TopK, validation.NilOrNotEmpty, validation.Min(1)),
		validation.Field(&s.BaseURL, validation.NilOrNotEmpty, is.URL),
	)
}
