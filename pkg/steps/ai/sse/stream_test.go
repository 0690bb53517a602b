package sse

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/go-go-golems/loom/pkg/inference/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func response(status int, contentType string, body io.ReadCloser) *http.Response {
	h := http.Header{}
	h.Set("Content-Type", contentType)
	return &http.Response{StatusCode: status, Header: h, Body: body}
}

func stringBody(s string) io.ReadCloser {
	return io.NopCloser(strings.NewReader(s))
}

func collect(t *testing.T, body string) ([]Event, *Stream, error) {
	s, err := Open(response(200, "text/event-stream; charset=utf-8", stringBody(body)))
	require.NoError(t, err)
	var events []Event
	err = s.Run(context.Background(), func(ev Event) (bool, error) {
		events = append(events, ev)
		return false, nil
	})
	return events, s, err
}

func TestRunSkipsPingAndStopsAtDone(t *testing.T) {
	events, s, err := collect(t, ": comment\n\nevent: ping\ndata: {}\n\nevent: delta\ndata: {\"a\":1}\nid: 7\n\ndata:\n\ndata: [DONE]\n\ndata: ignored\n\n")
	require.NoError(t, err)
	assert.Equal(t, StateDone, s.State())
	require.Len(t, events, 1)
	assert.Equal(t, Event{Event: "delta", Data: `{"a":1}`, ID: "7"}, events[0])
}

func TestRunMultilineData(t *testing.T) {
	events, _, err := collect(t, "data: a\ndata: b\n\ndata: [DONE]\n\n")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "a\nb", events[0].Data)
}

func TestRunHandlerDone(t *testing.T) {
	s, err := Open(response(200, "text/event-stream", stringBody("data: 1\n\ndata: 2\n\ndata: 3\n\n")))
	require.NoError(t, err)
	n := 0
	err = s.Run(context.Background(), func(ev Event) (bool, error) {
		n++
		return ev.Data == "2", nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRunPrematureClose(t *testing.T) {
	events, s, err := collect(t, "data: partial\n\n")
	assert.ErrorIs(t, err, engine.ErrPrematureClose)
	assert.Equal(t, "connection closed prematurely", err.Error())
	assert.Equal(t, StateErrored, s.State())
	assert.Len(t, events, 1)
}

func TestRunFlushesUnterminatedEvent(t *testing.T) {
	_, s, err := collect(t, "data: [DONE]")
	require.NoError(t, err)
	assert.Equal(t, StateDone, s.State())
}

func TestOpenRejectsErrors(t *testing.T) {
	_, err := Open(response(401, "application/json", stringBody(`{"error":{"message":"bad key"}}`)))
	var httpErr *engine.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, 401, httpErr.StatusCode)
	assert.Equal(t, "bad key", httpErr.Message())

	s, err := Open(response(200, "application/json", stringBody(`{"error":"nope"}`)))
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, "nope", httpErr.Message())
	assert.Equal(t, StateErrored, s.State())
	assert.Error(t, s.Run(context.Background(), nil))

	_, err = Open(response(200, "text/html", stringBody("<html>")))
	assert.Error(t, err)
}

func TestRunCancellation(t *testing.T) {
	pr, pw := io.Pipe()
	defer func() {
		_ = pw.Close()
	}()

	s, err := Open(response(200, "text/event-stream", pr))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		_, _ = io.WriteString(pw, "data: first\n\n")
	}()

	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(ev Event) (bool, error) {
			cancel()
			return false, nil
		})
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	assert.Equal(t, StateErrored, s.State())
}

func TestHandlerErrorStopsStream(t *testing.T) {
	s, err := Open(response(200, "text/event-stream", stringBody("data: x\n\ndata: [DONE]\n\n")))
	require.NoError(t, err)
	boom := engine.ErrMalformedEvent
	err = s.Run(context.Background(), func(Event) (bool, error) {
		return false, boom
	})
	assert.ErrorIs(t, err, boom)
}
