package claude

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-go-golems/loom/pkg/conversation"
	"github.com/go-go-golems/loom/pkg/inference/engine"
	"github.com/go-go-golems/loom/pkg/steps/ai/claude/api"
	"github.com/go-go-golems/loom/pkg/steps/ai/settings"
	claude_settings "github.com/go-go-golems/loom/pkg/steps/ai/settings/claude"
	"github.com/go-go-golems/loom/pkg/steps/ai/sse"
	"github.com/go-go-golems/loom/pkg/steps/ai/types"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	defaultTemperature = 1.0
	defaultMaxTokens   = 4096
)

// Adapter speaks the Anthropic Messages API. It always produces a single
// candidate.
type Adapter struct {
	client *settings.ClientSettings
	claude *claude_settings.Settings
}

var _ engine.Adapter = (*Adapter)(nil)

func NewAdapter(ss *settings.StepSettings) *Adapter {
	if ss == nil {
		ss = settings.NewStepSettings()
	}
	cs := ss.Claude
	if cs == nil {
		cs = claude_settings.NewSettings()
	}
	return &Adapter{client: ss.Client, claude: cs}
}

func (a *Adapter) Name() string {
	return string(types.ApiTypeClaude)
}

func (a *Adapter) BuildRequest(path []engine.PromptMessage, system *engine.PromptMessage, opts engine.ModelOptions) (*engine.WireRequest, error) {
	if opts.Model == "" {
		return nil, errors.Wrap(engine.ErrUnknownModelAlias, "claude requires a model")
	}

	req := api.MessageRequest{
		Model:         opts.Model,
		Messages:      MakeMessages(path),
		MaxTokens:     defaultMaxTokens,
		StopSequences: opts.Stop,
		Stream:        opts.Stream,
		TopP:          opts.TopP,
		TopK:          a.claude.TopK,
	}
	if opts.MaxTokens != nil {
		req.MaxTokens = *opts.MaxTokens
	}
	temperature := defaultTemperature
	if opts.Temperature != nil {
		temperature = *opts.Temperature
	}
	req.Temperature = &temperature
	if system != nil && system.Text != "" {
		req.System = system.Text
	}
	if a.claude.UserID != nil && *a.claude.UserID != "" {
		req.Metadata = &api.Metadata{UserID: *a.claude.UserID}
	}

	header := http.Header{}
	header.Set("anthropic-version", a.claude.GetAPIVersion())
	header.Set("anthropic-beta", a.claude.Beta())
	if opts.Stream {
		header.Set("Accept", "text/event-stream")
	}

	var extra map[string]interface{}
	if len(opts.Extra) > 0 {
		extra = make(map[string]interface{}, len(opts.Extra))
		for k, v := range opts.Extra {
			// parallel samples are not supported
			if k == "n" {
				continue
			}
			extra[k] = v
		}
	}

	return &engine.WireRequest{
		Method: http.MethodPost,
		URL:    a.claude.GetBaseURL(),
		Header: header,
		Body:   req,
		Extra:  extra,
		Stream: opts.Stream,
		N:      1,
	}, nil
}

func (a *Adapter) Stream(ctx context.Context, req *engine.WireRequest, apiKey string, onEvent engine.EventHandler) error {
	if apiKey == "" {
		return errors.Wrap(engine.ErrMissingCredential, "provider claude")
	}
	httpReq, err := req.NewHTTPRequest(ctx, http.Header{"x-api-key": []string{apiKey}})
	if err != nil {
		return err
	}

	log.Debug().Str("url", req.URL).Bool("stream", req.Stream).Msg("sending claude request")
	resp, err := a.client.GetHTTPClient(req.Stream).Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.Wrap(err, "send request")
	}

	if !req.Stream {
		var r api.MessageResponse
		if err := engine.ReadJSONResponse(resp, &r); err != nil {
			return err
		}
		if text := r.FullText(); text != "" {
			if err := onEvent(engine.StreamEvent{DeltaText: text}); err != nil {
				return err
			}
		}
		return onEvent(engine.StreamEvent{
			Done:       true,
			StopReason: stopReasonOr(r.StopReason),
			Usage:      convertUsage(&r.Usage, &r.Usage),
		})
	}

	s, err := sse.Open(resp)
	if err != nil {
		return err
	}
	st := &streamState{status: resp.StatusCode}
	return s.Run(ctx, func(ev sse.Event) (bool, error) {
		return st.handle(ev, onEvent)
	})
}

type streamState struct {
	status     int
	stopReason string
	startUsage *api.Usage
	deltaUsage *api.Usage
}

func (st *streamState) handle(ev sse.Event, onEvent engine.EventHandler) (bool, error) {
	raw := json.RawMessage(ev.Data)
	var e api.StreamingEvent
	if err := json.Unmarshal(raw, &e); err != nil {
		return false, errors.Wrapf(engine.ErrMalformedEvent, "%v", err)
	}
	log.Trace().Object("event", e).Msg("claude stream event")

	switch e.Type {
	case api.MessageStartType:
		if e.Message != nil {
			u := e.Message.Usage
			st.startUsage = &u
		}
	case api.ContentBlockDeltaType:
		if e.Delta != nil && e.Delta.Text != "" {
			return false, onEvent(engine.StreamEvent{DeltaText: e.Delta.Text, Raw: raw})
		}
	case api.MessageDeltaType:
		if e.Delta != nil && e.Delta.StopReason != "" {
			st.stopReason = e.Delta.StopReason
		}
		switch {
		case e.Usage != nil:
			st.deltaUsage = e.Usage
		case e.Delta != nil && e.Delta.Usage != nil:
			st.deltaUsage = e.Delta.Usage
		}
	case api.MessageStopType:
		if e.Usage != nil && st.deltaUsage == nil {
			st.deltaUsage = e.Usage
		}
		return true, onEvent(engine.StreamEvent{
			Raw:        raw,
			Done:       true,
			StopReason: stopReasonOr(st.stopReason),
			Usage:      convertUsage(st.startUsage, st.deltaUsage),
		})
	case api.ErrorType:
		return false, engine.NewHTTPError(st.status, raw)
	}
	return false, nil
}

func stopReasonOr(reason string) string {
	if reason == "" {
		return engine.StopReasonStop
	}
	return reason
}

// convertUsage takes input tokens from the message start and output tokens
// from the final delta.
func convertUsage(start, delta *api.Usage) *conversation.Usage {
	if start == nil && delta == nil {
		return nil
	}
	ret := &conversation.Usage{}
	if start != nil {
		ret.InputTokens = start.InputTokens
		ret.OutputTokens = start.OutputTokens
	}
	if delta != nil {
		if delta.InputTokens > 0 {
			ret.InputTokens = delta.InputTokens
		}
		if delta.OutputTokens > 0 {
			ret.OutputTokens = delta.OutputTokens
		}
	}
	if ret.InputTokens == 0 && ret.OutputTokens == 0 {
		return nil
	}
	return ret
}
