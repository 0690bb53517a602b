package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/go-go-golems/loom/pkg/conversation"
	"github.com/go-go-golems/loom/pkg/inference/engine"
	"github.com/go-go-golems/loom/pkg/steps/ai/settings"
	gemini_settings "github.com/go-go-golems/loom/pkg/steps/ai/settings/gemini"
	"github.com/go-go-golems/loom/pkg/steps/ai/types"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Adapter calls the generateContent REST endpoint. It does not stream: each
// returned candidate is reported as one delta followed by its completion.
type Adapter struct {
	client *settings.ClientSettings
	gemini *gemini_settings.Settings
}

var _ engine.Adapter = (*Adapter)(nil)

func NewAdapter(ss *settings.StepSettings) *Adapter {
	if ss == nil {
		ss = settings.NewStepSettings()
	}
	gs := ss.Gemini
	if gs == nil {
		gs = gemini_settings.NewSettings()
	}
	return &Adapter{client: ss.Client, gemini: gs}
}

func (a *Adapter) Name() string {
	return string(types.ApiTypeGemini)
}

func (a *Adapter) BuildRequest(path []engine.PromptMessage, system *engine.PromptMessage, opts engine.ModelOptions) (*engine.WireRequest, error) {
	contents, instruction := MakeContents(path, system, a.gemini.UseSystemInstruction)
	req := Request{
		Contents:          contents,
		SystemInstruction: instruction,
	}

	cfg := &GenerationConfig{
		Temperature:     opts.Temperature,
		TopP:            opts.TopP,
		TopK:            a.gemini.TopK,
		MaxOutputTokens: opts.MaxTokens,
		StopSequences:   opts.Stop,
	}
	if n := opts.Candidates(); n > 1 {
		cfg.CandidateCount = &n
	}
	if !cfg.empty() {
		req.GenerationConfig = cfg
	}

	return &engine.WireRequest{
		Method: http.MethodPost,
		URL:    a.gemini.GetBaseURL(),
		Header: http.Header{},
		Body:   req,
		Extra:  opts.Extra,
		Stream: false,
		N:      opts.Candidates(),
	}, nil
}

func (a *Adapter) Stream(ctx context.Context, req *engine.WireRequest, apiKey string, onEvent engine.EventHandler) error {
	if apiKey == "" {
		return errors.Wrap(engine.ErrMissingCredential, "provider gemini")
	}
	u, err := url.Parse(req.URL)
	if err != nil {
		return errors.Wrapf(err, "parse gemini url %s", req.URL)
	}
	q := u.Query()
	q.Set("key", apiKey)
	u.RawQuery = q.Encode()

	keyed := *req
	keyed.URL = u.String()
	httpReq, err := keyed.NewHTTPRequest(ctx, nil)
	if err != nil {
		return err
	}

	log.Debug().Str("url", req.URL).Int("n", req.N).Msg("sending gemini request")
	resp, err := a.client.GetHTTPClient(false).Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.Wrap(err, "send request")
	}

	var raw json.RawMessage
	if err := engine.ReadJSONResponse(resp, &raw); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.Wrap(err, "Gemini API error")
	}
	var r Response
	if err := json.Unmarshal(raw, &r); err != nil {
		return errors.Wrapf(engine.ErrMalformedEvent, "%v", err)
	}

	var usage *conversation.Usage
	if r.UsageMetadata != nil {
		usage = &conversation.Usage{
			InputTokens:  r.UsageMetadata.PromptTokenCount,
			OutputTokens: r.UsageMetadata.CandidatesTokenCount,
		}
	}

	for i, c := range r.Candidates {
		index := c.Index
		if index == 0 {
			index = i
		}
		if err := onEvent(engine.StreamEvent{CandidateIndex: index, DeltaText: c.Text(), Raw: raw}); err != nil {
			return err
		}
		stopReason := engine.StopReasonStop
		if c.FinishReason != "" {
			stopReason = c.FinishReason
		}
		if err := onEvent(engine.StreamEvent{
			CandidateIndex: index,
			Done:           true,
			StopReason:     stopReason,
			Usage:          usage,
		}); err != nil {
			return err
		}
	}
	return nil
}
