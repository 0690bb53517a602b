package engine

import (
	"github.com/huandu/go-clone"
)

// ModelOptions are the provider independent generation options of a turn.
type ModelOptions struct {
	Model       string   `json:"model" yaml:"model"`
	MaxTokens   *int     `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty" yaml:"top_p,omitempty"`
	Stop        []string `json:"stop,omitempty" yaml:"stop,omitempty"`
	// N is the number of candidates requested. Zero means one.
	N      int  `json:"n,omitempty" yaml:"n,omitempty"`
	Stream bool `json:"stream" yaml:"stream"`
	// Extra is merged verbatim into the JSON request body, overriding keys
	// produced from the typed fields.
	Extra map[string]interface{} `json:"extra,omitempty" yaml:"extra,omitempty"`
}

func (o ModelOptions) Candidates() int {
	if o.N < 1 {
		return 1
	}
	return o.N
}

func (o ModelOptions) Clone() ModelOptions {
	return *clone.Clone(&o).(*ModelOptions)
}

type Option func(*ModelOptions)

func WithModel(model string) Option {
	return func(o *ModelOptions) {
		o.Model = model
	}
}

func WithN(n int) Option {
	return func(o *ModelOptions) {
		o.N = n
	}
}

func WithStream(stream bool) Option {
	return func(o *ModelOptions) {
		o.Stream = stream
	}
}

func WithMaxTokens(maxTokens int) Option {
	return func(o *ModelOptions) {
		o.MaxTokens = &maxTokens
	}
}

func WithTemperature(temperature float64) Option {
	return func(o *ModelOptions) {
		o.Temperature = &temperature
	}
}

func WithExtra(key string, value interface{}) Option {
	return func(o *ModelOptions) {
		if o.Extra == nil {
			o.Extra = map[string]interface{}{}
		}
		o.Extra[key] = value
	}
}

func (o ModelOptions) With(options ...Option) ModelOptions {
	ret := o.Clone()
	for _, option := range options {
		option(&ret)
	}
	return ret
}
