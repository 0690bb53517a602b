package claude

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-go-golems/loom/pkg/conversation"
	"github.com/go-go-golems/loom/pkg/inference/engine"
	"github.com/go-go-golems/loom/pkg/steps/ai/settings"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func user(text string) engine.PromptMessage {
	return engine.PromptMessage{Author: conversation.AuthorUser, Text: text}
}

func TestMakeMessagesMergesTextOnly(t *testing.T) {
	image := engine.PromptMessage{
		Author:      conversation.AuthorUser,
		Text:        "look",
		Attachments: []*conversation.Attachment{{Type: "image", DataURL: "data:image/png;base64,AAAA"}},
	}
	msgs := MakeMessages([]engine.PromptMessage{
		user("a"),
		user("b"),
		{Author: conversation.AuthorAssistant, Text: "c"},
		image,
		user("d"),
	})

	require.Len(t, msgs, 4)
	b, err := json.Marshal(msgs)
	require.NoError(t, err)
	assert.JSONEq(t, `[
		{"role":"user","content":[{"type":"text","text":"ab"}]},
		{"role":"assistant","content":[{"type":"text","text":"c"}]},
		{"role":"user","content":[{"type":"text","text":"look"},{"type":"image","source":{"type":"base64","media_type":"image/png","data":"AAAA"}}]},
		{"role":"user","content":[{"type":"text","text":"d"}]}
	]`, string(b))
}

func TestMakeMessagesMergeMultiBlockTurns(t *testing.T) {
	turn := func(texts ...string) engine.PromptMessage {
		m := engine.PromptMessage{Author: conversation.AuthorUser}
		for _, text := range texts {
			m.ContentParts = append(m.ContentParts, conversation.ContentPart{Type: conversation.ContentPartText, Text: text})
		}
		return m
	}
	msgs := MakeMessages([]engine.PromptMessage{turn("x", "y"), turn("z", "w")})

	require.Len(t, msgs, 1)
	require.Len(t, msgs[0].Content, 1)
	b, err := json.Marshal(msgs[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{"role":"user","content":[{"type":"text","text":"yz"}]}`, string(b))
}

func TestMakeMessagesEmptyContent(t *testing.T) {
	msgs := MakeMessages([]engine.PromptMessage{{
		Author:       conversation.AuthorUser,
		ContentParts: []conversation.ContentPart{{Type: conversation.ContentPartImage, URL: "data:broken"}},
	}})
	require.Len(t, msgs, 1)
	b, err := json.Marshal(msgs[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{"role":"user","content":[{"type":"text","text":""}]}`, string(b))
}

func TestBuildRequestDefaults(t *testing.T) {
	ss := settings.NewStepSettings()
	ss.Claude.Steering = true
	a := NewAdapter(ss)

	req, err := a.BuildRequest([]engine.PromptMessage{user("hi")},
		&engine.PromptMessage{Author: conversation.AuthorSystem, Text: "sys"},
		engine.ModelOptions{Model: "claude-3-opus", N: 3, Extra: map[string]interface{}{"n": 3, "top_k": 5}})
	require.NoError(t, err)
	assert.Equal(t, 1, req.N)
	assert.Equal(t, "steering-2024-06-04", req.Header.Get("anthropic-beta"))
	assert.Equal(t, "2023-06-01", req.Header.Get("anthropic-version"))

	body, err := req.Encode()
	require.NoError(t, err)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, float64(1), decoded["temperature"])
	assert.Equal(t, float64(4096), decoded["max_tokens"])
	assert.Equal(t, "sys", decoded["system"])
	assert.Equal(t, float64(5), decoded["top_k"])
	assert.NotContains(t, decoded, "n")
}

func TestStream(t *testing.T) {
	events := []string{
		`{"type":"message_start","message":{"id":"m1","role":"assistant","content":[],"usage":{"input_tokens":10,"output_tokens":1}}}`,
		`{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hel"}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"lo"}}`,
		`{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":5}}`,
		`{"type":"message_stop"}`,
	}
	var header http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Clone()
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "event: ping\ndata: {\"type\":\"ping\"}\n\n")
		for _, e := range events {
			_, _ = fmt.Fprintf(w, "event: x\ndata: %s\n\n", e)
		}
	}))
	defer srv.Close()

	ss := settings.NewStepSettings()
	ss.Claude.BaseURL = &srv.URL
	a := NewAdapter(ss)
	req, err := a.BuildRequest([]engine.PromptMessage{user("hi")}, nil, engine.ModelOptions{Model: "m", Stream: true})
	require.NoError(t, err)

	var got []engine.StreamEvent
	err = a.Stream(context.Background(), req, "ak", func(ev engine.StreamEvent) error {
		got = append(got, ev)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ak", header.Get("x-api-key"))
	assert.Equal(t, "messages-2023-12-15", header.Get("anthropic-beta"))

	require.Len(t, got, 3)
	assert.Equal(t, "Hel", got[0].DeltaText)
	assert.Equal(t, "lo", got[1].DeltaText)
	assert.True(t, got[2].Done)
	assert.Equal(t, "end_turn", got[2].StopReason)
	assert.Equal(t, &conversation.Usage{InputTokens: 10, OutputTokens: 5}, got[2].Usage)
}

func TestStreamErrorEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"type\":\"content_block_delta\",\"delta\":{\"text\":\"x\"}}\n\n")
		_, _ = io.WriteString(w, "data: {\"type\":\"error\",\"error\":{\"type\":\"overloaded_error\",\"message\":\"Overloaded\"}}\n\n")
	}))
	defer srv.Close()

	ss := settings.NewStepSettings()
	ss.Claude.BaseURL = &srv.URL
	a := NewAdapter(ss)
	req, err := a.BuildRequest(nil, nil, engine.ModelOptions{Model: "m", Stream: true})
	require.NoError(t, err)

	var text string
	err = a.Stream(context.Background(), req, "ak", func(ev engine.StreamEvent) error {
		text += ev.DeltaText
		return nil
	})
	var httpErr *engine.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, "Overloaded", httpErr.Message())
	assert.Equal(t, "x", text)
}

func TestNonStreaming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["stream"] != false {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"m","role":"assistant","content":[{"type":"text","text":"hi there"}],"stop_reason":"max_tokens","usage":{"input_tokens":2,"output_tokens":3}}`)
	}))
	defer srv.Close()

	ss := settings.NewStepSettings()
	ss.Claude.BaseURL = &srv.URL
	a := NewAdapter(ss)
	req, err := a.BuildRequest([]engine.PromptMessage{user("hi")}, nil, engine.ModelOptions{Model: "m"})
	require.NoError(t, err)

	var got []engine.StreamEvent
	err = a.Stream(context.Background(), req, "ak", func(ev engine.StreamEvent) error {
		got = append(got, ev)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "hi there", got[0].DeltaText)
	assert.Equal(t, "max_tokens", got[1].StopReason)
	assert.Equal(t, 3, got[1].Usage.OutputTokens)
}

func TestBuildRequestNeedsModel(t *testing.T) {
	_, err := NewAdapter(nil).BuildRequest(nil, nil, engine.ModelOptions{})
	assert.ErrorIs(t, err, engine.ErrUnknownModelAlias)
}
