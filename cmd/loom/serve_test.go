package main

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/go-go-golems/loom/pkg/conversation/store"
	"github.com/go-go-golems/loom/pkg/inference"
	"github.com/go-go-golems/loom/pkg/inference/completion"
	"github.com/go-go-golems/loom/pkg/inference/engine"
	"github.com/go-go-golems/loom/pkg/inference/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoAdapter struct{}

func (echoAdapter) Name() string { return "echo" }

func (echoAdapter) BuildRequest(path []engine.PromptMessage, _ *engine.PromptMessage, opts engine.ModelOptions) (*engine.WireRequest, error) {
	return &engine.WireRequest{Body: path[len(path)-1].Text, N: opts.Candidates()}, nil
}

func (echoAdapter) Stream(_ context.Context, req *engine.WireRequest, _ string, onEvent engine.EventHandler) error {
	if err := onEvent(engine.StreamEvent{DeltaText: "re: " + req.Body.(string)}); err != nil {
		return err
	}
	return onEvent(engine.StreamEvent{Done: true, StopReason: engine.StopReasonStop})
}

func newTestServer(t *testing.T) (*httptest.Server, *gochannel.GoChannel) {
	pubsub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 16}, watermill.NopLogger{})
	t.Cleanup(func() { _ = pubsub.Close() })

	e := completion.New(store.NewInMemoryStore(), echoAdapter{},
		completion.WithCredentials(completion.StaticKey("k")),
		completion.WithSink(inference.NewConversationSink(pubsub)),
	)
	srv := httptest.NewServer(newRouter(&server{sessions: session.NewManager(e), subscriber: pubsub}))
	t.Cleanup(srv.Close)
	return srv, pubsub
}

type resultBody struct {
	session.Result
	Error string `json:"error"`
}

func postLine(t *testing.T, srv *httptest.Server, sessionID, text string) (int, resultBody) {
	body, err := json.Marshal(messageRequest{Text: text})
	require.NoError(t, err)
	resp, err := http.Post(srv.URL+"/sessions/"+sessionID+"/messages", "application/json", strings.NewReader(string(body)))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out resultBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestServePostMessage(t *testing.T) {
	srv, _ := newTestServer(t)

	status, res := postLine(t, srv, "a", "hello")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, session.ResultMessage, res.Type)
	assert.Equal(t, map[int]string{0: "re: hello"}, res.Replies)
	assert.NotEmpty(t, res.ConversationID)

	status, res = postLine(t, srv, "a", "!rw")
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, res.OK)

	resp, err := http.Get(srv.URL + "/sessions/a/history")
	require.NoError(t, err)
	defer resp.Body.Close()
	var h session.History
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&h))
	assert.Len(t, h.Messages, 2)
	require.Len(t, h.Path, 1)
	assert.Equal(t, "hello", h.Path[0].Text)
}

func TestServeBadRequests(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/sessions/a/messages", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/sessions/a/turn", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServeEvents(t *testing.T) {
	srv, pubsub := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/sessions/a/events?conversation=c1", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)
	readEvent := func() (string, string) {
		var name, data string
		for {
			line, err := r.ReadString('\n')
			require.NoError(t, err)
			line = strings.TrimRight(line, "\n")
			switch {
			case line == "":
				return name, data
			case strings.HasPrefix(line, "event: "):
				name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data = strings.TrimPrefix(line, "data: ")
			}
		}
	}

	name, data := readEvent()
	assert.Equal(t, "ready", name)
	assert.JSONEq(t, `{"conversationId":"c1"}`, data)

	sink := inference.NewConversationSink(pubsub)
	require.NoError(t, sink.PublishEvent(inference.Event{
		ConversationID: "c1",
		StreamEvent:    engine.StreamEvent{DeltaText: "tok"},
	}))

	name, data = readEvent()
	assert.Equal(t, "stream", name)
	var ev inference.Event
	require.NoError(t, json.Unmarshal([]byte(data), &ev))
	assert.Equal(t, "c1", ev.ConversationID)
	assert.Equal(t, "tok", ev.DeltaText)
}
