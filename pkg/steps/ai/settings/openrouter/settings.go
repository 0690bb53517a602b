package openrouter

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/huandu/go-clone"
)

const DefaultBaseURL = "https://openrouter.ai/api/v1/chat/completions"

type Settings struct {
	BaseURL *string `yaml:"base_url,omitempty"`
	APIKey  *string `yaml:"api_key,omitempty"`
	// Referer and Title are the optional app attribution headers.
	Referer *string `yaml:"http_referer,omitempty"`
	Title   *string `yaml:"x_title,omitempty"`
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
		validation.Field(&s.BaseURL, validation.NilOrNotEmpty, is.URL),
		validation.Field(&s.Referer, validation.NilOrNotEmpty, is.URL),
	)
}
