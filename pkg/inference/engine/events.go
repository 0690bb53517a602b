package engine

import (
	"encoding/json"

	"github.com/go-go-golems/loom/pkg/conversation"
	"github.com/rs/zerolog"
)

const (
	StopReasonStop      = "stop"
	StopReasonCancelled = "cancelled"
)

// StreamEvent is the provider independent unit of incremental delivery.
// An event with Done set is the candidate's completion event.
type StreamEvent struct {
	CandidateIndex int                 `json:"candidateIndex"`
	DeltaText      string              `json:"deltaText,omitempty"`
	Raw            json.RawMessage     `json:"raw,omitempty"`
	Done           bool                `json:"done,omitempty"`
	StopReason     string              `json:"stopReason,omitempty"`
	Usage          *conversation.Usage `json:"usage,omitempty"`
}

func (e StreamEvent) MarshalZerologObject(ev *zerolog.Event) {
	ev.Int("candidate_index", e.CandidateIndex)
	if e.DeltaText != "" {
		ev.Int("delta_len", len(e.DeltaText))
	}
	if e.Done {
		ev.Bool("done", true)
		ev.Str("stop_reason", e.StopReason)
	}
	if e.Usage != nil {
		ev.Int("input_tokens", e.Usage.InputTokens)
		ev.Int("output_tokens", e.Usage.OutputTokens)
	}
}

var _ zerolog.LogObjectMarshaler = StreamEvent{}
