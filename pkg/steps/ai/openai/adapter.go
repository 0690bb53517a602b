package openai

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-go-golems/loom/pkg/conversation"
	"github.com/go-go-golems/loom/pkg/inference/engine"
	"github.com/go-go-golems/loom/pkg/steps/ai/settings"
	openai_settings "github.com/go-go-golems/loom/pkg/steps/ai/settings/openai"
	"github.com/go-go-golems/loom/pkg/steps/ai/sse"
	"github.com/go-go-golems/loom/pkg/steps/ai/types"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	go_openai "github.com/sashabaranov/go-openai"
)

// Adapter speaks the OpenAI chat completions protocol. It also serves
// compatible endpoints (anyscale, fireworks, openrouter) through options.
type Adapter struct {
	name            string
	baseURL         string
	completionStyle bool
	requireModel    bool
	header          http.Header
	client          *settings.ClientSettings
	openai          *openai_settings.Settings
}

var _ engine.Adapter = (*Adapter)(nil)

type AdapterOption func(*Adapter)

// WithName overrides the provider name reported by the adapter.
func WithName(name string) AdapterOption {
	return func(a *Adapter) {
		a.name = name
	}
}

func WithBaseURL(url string) AdapterOption {
	return func(a *Adapter) {
		a.baseURL = url
	}
}

// WithHeader adds a static header to every request.
func WithHeader(key, value string) AdapterOption {
	return func(a *Adapter) {
		a.header.Set(key, value)
	}
}

// WithRequiredModel makes BuildRequest fail when no model is resolved.
func WithRequiredModel() AdapterOption {
	return func(a *Adapter) {
		a.requireModel = true
	}
}

func NewAdapter(ss *settings.StepSettings, options ...AdapterOption) *Adapter {
	if ss == nil {
		ss = settings.NewStepSettings()
	}
	oa := ss.OpenAI
	if oa == nil {
		oa = openai_settings.NewSettings()
	}
	ret := &Adapter{
		name:            string(types.ApiTypeOpenAI),
		baseURL:         oa.GetBaseURL(),
		completionStyle: oa.CompletionStyle,
		header:          http.Header{},
		client:          ss.Client,
		openai:          oa,
	}
	if ss.Client != nil && ss.Client.Organization != nil && *ss.Client.Organization != "" {
		ret.header.Set("OpenAI-Organization", *ss.Client.Organization)
	}
	if ss.Client != nil && ss.Client.UserAgent != nil && *ss.Client.UserAgent != "" {
		ret.header.Set("User-Agent", *ss.Client.UserAgent)
	}
	for _, o := range options {
		o(ret)
	}
	return ret
}

func (a *Adapter) Name() string {
	return a.name
}

// BuildRequest produces a chat completion request, or a text completion
// request in completion style. More than one candidate forces streaming.
func (a *Adapter) BuildRequest(path []engine.PromptMessage, system *engine.PromptMessage, opts engine.ModelOptions) (*engine.WireRequest, error) {
	if a.requireModel && opts.Model == "" {
		return nil, errors.Wrapf(engine.ErrUnknownModelAlias, "%s requires a model alias", a.name)
	}

	n := opts.Candidates()
	stream := opts.Stream || n > 1

	maxTokens := 0
	if opts.MaxTokens != nil {
		maxTokens = *opts.MaxTokens
	}
	reqN := 0
	if n > 1 {
		reqN = n
	}

	var body interface{}
	if a.completionStyle {
		req := go_openai.CompletionRequest{
			Model:       opts.Model,
			Prompt:      MakeTranscript(path, system),
			MaxTokens:   maxTokens,
			Temperature: float32Ptr(opts.Temperature),
			TopP:        float32Ptr(opts.TopP),
			N:           reqN,
			Stream:      stream,
			Stop:        opts.Stop,
			LogitBias:   a.openai.LogitBias,
		}
		if a.openai.PresencePenalty != nil {
			req.PresencePenalty = float32(*a.openai.PresencePenalty)
		}
		if a.openai.FrequencyPenalty != nil {
			req.FrequencyPenalty = float32(*a.openai.FrequencyPenalty)
		}
		body = req
	} else {
		req := go_openai.ChatCompletionRequest{
			Model:       opts.Model,
			Messages:    MakeChatMessages(path, system),
			MaxTokens:   maxTokens,
			Temperature: float32Ptr(opts.Temperature),
			TopP:        float32Ptr(opts.TopP),
			N:           reqN,
			Stream:      stream,
			Stop:        opts.Stop,
		}
		if len(a.openai.LogitBias) > 0 {
			req.LogitBias = a.openai.LogitBias
		}
		if a.openai.PresencePenalty != nil {
			req.PresencePenalty = float32(*a.openai.PresencePenalty)
		}
		if a.openai.FrequencyPenalty != nil {
			req.FrequencyPenalty = float32(*a.openai.FrequencyPenalty)
		}
		body = req
	}

	header := a.header.Clone()
	if stream {
		header.Set("Accept", "text/event-stream")
	}

	return &engine.WireRequest{
		Method: http.MethodPost,
		URL:    a.baseURL,
		Header: header,
		Body:   body,
		Extra:  withZeroTemperature(opts.Extra, opts.Temperature),
		Stream: stream,
		N:      n,
	}, nil
}

func (a *Adapter) Stream(ctx context.Context, req *engine.WireRequest, apiKey string, onEvent engine.EventHandler) error {
	if apiKey == "" {
		return errors.Wrapf(engine.ErrMissingCredential, "provider %s", a.name)
	}
	httpReq, err := req.NewHTTPRequest(ctx, http.Header{"Authorization": []string{"Bearer " + apiKey}})
	if err != nil {
		return err
	}

	log.Debug().
		Str("provider", a.name).
		Str("url", req.URL).
		Bool("stream", req.Stream).
		Int("n", req.N).
		Msg("sending completion request")

	resp, err := a.client.GetHTTPClient(req.Stream).Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.Wrap(err, "send request")
	}

	if !req.Stream {
		return a.readResponse(resp, onEvent)
	}

	s, err := sse.Open(resp)
	if err != nil {
		return err
	}
	return s.Run(ctx, func(ev sse.Event) (bool, error) {
		return false, a.handleChunk(resp.StatusCode, ev, onEvent)
	})
}

type chunkEnvelope struct {
	Error json.RawMessage `json:"error,omitempty"`
	Usage *go_openai.Usage `json:"usage,omitempty"`
}

func (a *Adapter) handleChunk(status int, ev sse.Event, onEvent engine.EventHandler) error {
	raw := json.RawMessage(ev.Data)

	var envelope chunkEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return errors.Wrapf(engine.ErrMalformedEvent, "%v", err)
	}
	if len(envelope.Error) > 0 && string(envelope.Error) != "null" {
		return engine.NewHTTPError(status, raw)
	}
	usage := convertUsage(envelope.Usage)

	if a.completionStyle {
		var chunk go_openai.CompletionResponse
		if err := json.Unmarshal(raw, &chunk); err != nil {
			return errors.Wrapf(engine.ErrMalformedEvent, "%v", err)
		}
		for _, c := range chunk.Choices {
			if err := emit(onEvent, c.Index, c.Text, c.FinishReason, usage, raw); err != nil {
				return err
			}
		}
		return nil
	}

	var chunk go_openai.ChatCompletionStreamResponse
	if err := json.Unmarshal(raw, &chunk); err != nil {
		return errors.Wrapf(engine.ErrMalformedEvent, "%v", err)
	}
	for _, c := range chunk.Choices {
		if err := emit(onEvent, c.Index, c.Delta.Content, string(c.FinishReason), usage, raw); err != nil {
			return err
		}
	}
	return nil
}

// emit sends the delta of one choice followed by its completion event when
// the choice carries a finish reason.
func emit(onEvent engine.EventHandler, index int, text, finishReason string, usage *conversation.Usage, raw json.RawMessage) error {
	if text != "" {
		if err := onEvent(engine.StreamEvent{CandidateIndex: index, DeltaText: text, Raw: raw}); err != nil {
			return err
		}
	}
	if finishReason == "" {
		return nil
	}
	return onEvent(engine.StreamEvent{
		CandidateIndex: index,
		Raw:            raw,
		Done:           true,
		StopReason:     finishReason,
		Usage:          usage,
	})
}

func (a *Adapter) readResponse(resp *http.Response, onEvent engine.EventHandler) error {
	var raw json.RawMessage
	if err := engine.ReadJSONResponse(resp, &raw); err != nil {
		return err
	}

	if a.completionStyle {
		var r go_openai.CompletionResponse
		if err := json.Unmarshal(raw, &r); err != nil {
			return errors.Wrapf(engine.ErrMalformedEvent, "%v", err)
		}
		usage := convertUsage(&r.Usage)
		for _, c := range r.Choices {
			if err := emit(onEvent, c.Index, c.Text, stopReasonOr(c.FinishReason), usage, raw); err != nil {
				return err
			}
		}
		return nil
	}

	var r go_openai.ChatCompletionResponse
	if err := json.Unmarshal(raw, &r); err != nil {
		return errors.Wrapf(engine.ErrMalformedEvent, "%v", err)
	}
	usage := convertUsage(&r.Usage)
	for _, c := range r.Choices {
		if err := emit(onEvent, c.Index, c.Message.Content, stopReasonOr(string(c.FinishReason)), usage, raw); err != nil {
			return err
		}
	}
	return nil
}

func stopReasonOr(reason string) string {
	if reason == "" {
		return engine.StopReasonStop
	}
	return reason
}

func convertUsage(u *go_openai.Usage) *conversation.Usage {
	if u == nil || (u.PromptTokens == 0 && u.CompletionTokens == 0) {
		return nil
	}
	return &conversation.Usage{
		InputTokens:  u.PromptTokens,
		OutputTokens: u.CompletionTokens,
	}
}
