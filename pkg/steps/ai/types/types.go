package types

type ApiType string

const (
	ApiTypeOpenAI     ApiType = "openai"
	ApiTypeAnyScale   ApiType = "anyscale"
	ApiTypeFireworks  ApiType = "fireworks"
	ApiTypeClaude     ApiType = "claude"
	ApiTypeGemini     ApiType = "gemini"
	ApiTypeOpenRouter ApiType = "openrouter"
)

// ApiTypeForCompany maps the company field of a model preset to the provider
// that serves it.
func ApiTypeForCompany(company string) (ApiType, bool) {
	switch company {
	case "openai":
		return ApiTypeOpenAI, true
	case "anthropic":
		return ApiTypeClaude, true
	case "google":
		return ApiTypeGemini, true
	case "openrouter":
		return ApiTypeOpenRouter, true
	default:
		return "", false
	}
}
