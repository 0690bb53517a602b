// Package openrouter targets the OpenRouter aggregator, which speaks the
// OpenAI chat protocol and routes to the model named by the alias.
package openrouter

import (
	"github.com/go-go-golems/loom/pkg/steps/ai/openai"
	"github.com/go-go-golems/loom/pkg/steps/ai/settings"
	openai_settings "github.com/go-go-golems/loom/pkg/steps/ai/settings/openai"
	"github.com/go-go-golems/loom/pkg/steps/ai/types"
)

func NewAdapter(ss *settings.StepSettings) *openai.Adapter {
	if ss == nil {
		ss = settings.NewStepSettings()
	}
	options := []openai.AdapterOption{
		openai.WithName(string(types.ApiTypeOpenRouter)),
		openai.WithBaseURL(ss.OpenRouter.GetBaseURL()),
		openai.WithRequiredModel(),
	}
	if or := ss.OpenRouter; or != nil {
		if or.Referer != nil && *or.Referer != "" {
			options = append(options, openai.WithHeader("HTTP-Referer", *or.Referer))
		}
		if or.Title != nil && *or.Title != "" {
			options = append(options, openai.WithHeader("X-Title", *or.Title))
		}
	}

	// completion style and penalties are OpenAI specific
	chatOnly := ss.Clone()
	chatOnly.OpenAI = openai_settings.NewSettings()
	return openai.NewAdapter(chatOnly, options...)
}
