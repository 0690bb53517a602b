package claude

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/huandu/go-clone"
)

const (
	DefaultBaseURL    = "https://api.anthropic.com/v1/messages"
	DefaultAPIVersion = "2023-06-01"
	MessagesBeta      = "messages-2023-12-15"
	SteeringBeta      = "steering-2024-06-04"
)

type Settings struct {
	TopK       *int    `yaml:"top_k,omitempty"`
	UserID     *string `yaml:"user_id,omitempty"`
	BaseURL    *string `yaml:"base_url,omitempty"`
	APIKey     *string `yaml:"api_key,omitempty"`
	APIVersion *string `yaml:"api_version,omitempty"`
	// Steering switches the beta header to the steering API.
	Steering bool `yaml:"steering,omitempty"`
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

func (s *Settings) GetAPIVersion() string {
	if s == nil || s.APIVersion == nil || *s.APIVersion == "" {
		return DefaultAPIVersion
	}
	return *s.APIVersion
}

func (s *Settings) Beta() string {
	if s != nil && s.Steering {
		return SteeringBeta
	}
	return MessagesBeta
}

func (s *Settings) Validate() error {
	return validation.ValidateStruct(s,
		validation.Field(&s.TopK, validation.NilOrNotEmpty, validation.Min(1)),
		validation.Field(&s.BaseURL, validation.NilOrNotEmpty, is.URL),
	)
}
