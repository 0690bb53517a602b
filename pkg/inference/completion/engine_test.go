package completion

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-go-golems/loom/pkg/conversation"
	"github.com/go-go-golems/loom/pkg/conversation/store"
	"github.com/go-go-golems/loom/pkg/inference"
	"github.com/go-go-golems/loom/pkg/inference/engine"
	"github.com/go-go-golems/loom/pkg/steps/ai/openai"
	"github.com/go-go-golems/loom/pkg/steps/ai/settings"
	"github.com/go-go-golems/loom/pkg/steps/ai/types"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAdapter replays scripted events and then returns err. When block is
// set it waits for cancellation after replaying.
type fakeAdapter struct {
	events []engine.StreamEvent
	err    error
	block  bool

	prompts [][]engine.PromptMessage
	system  *engine.PromptMessage
	opts    engine.ModelOptions
	// persisted is sampled from the store when Stream is entered.
	persisted int
	store     store.Store
	convID    string
}

func (f *fakeAdapter) Name() string { return "fake" }

func (f *fakeAdapter) BuildRequest(path []engine.PromptMessage, system *engine.PromptMessage, opts engine.ModelOptions) (*engine.WireRequest, error) {
	f.prompts = append(f.prompts, path)
	f.system = system
	f.opts = opts
	return &engine.WireRequest{N: opts.Candidates(), Stream: true}, nil
}

func (f *fakeAdapter) Stream(ctx context.Context, req *engine.WireRequest, apiKey string, onEvent engine.EventHandler) error {
	if f.store != nil {
		if conv, ok, _ := f.store.Get(ctx, f.convID); ok {
			f.persisted = len(conv.Messages)
		}
	}
	for _, ev := range f.events {
		if err := onEvent(ev); err != nil {
			return err
		}
	}
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.err
}

func delta(index int, text string) engine.StreamEvent {
	return engine.StreamEvent{CandidateIndex: index, DeltaText: text}
}

func done(index int, reason string) engine.StreamEvent {
	return engine.StreamEvent{CandidateIndex: index, Done: true, StopReason: reason}
}

func newEngine(adapter engine.Adapter, options ...Option) (*Engine, store.Store) {
	s := store.NewInMemoryStore()
	base := []Option{WithCredentials(StaticKey("k")), WithDefaultOptions(engine.ModelOptions{Model: "m"})}
	return New(s, adapter, append(base, options...)...), s
}

func userMessage(text string) *conversation.Message {
	return conversation.NewMessage("", text)
}

func TestGenerateFirstMessage(t *testing.T) {
	ctx := context.Background()
	adapter := &fakeAdapter{events: []engine.StreamEvent{delta(0, " Hello"), delta(0, " there "), done(0, "stop")}}
	e, s := newEngine(adapter)

	res, err := e.Generate(ctx, GenerateRequest{ConversationID: "c1", UserMessage: userMessage("hi"), System: "sys"})
	require.NoError(t, err)

	conv, ok, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, conv.Messages, 2)

	user := conv.Messages[0]
	assert.Equal(t, "User", user.Role)
	assert.Equal(t, "hi", user.Text)
	assert.Equal(t, conversation.NullNode, user.ParentID)
	assert.Equal(t, conversation.AuthorUser, e.Participants().AuthorOf(user.Role))

	reply := conv.Messages[1]
	assert.Equal(t, "Hello there", reply.Text)
	assert.Equal(t, user.ID, reply.ParentID)
	assert.Equal(t, "Assistant", reply.Role)
	assert.Equal(t, "stop", reply.Details.StopReason)
	assert.Equal(t, "m", reply.Details.Model)

	assert.Equal(t, reply.ID, res.Cursor.ParentMessageID)
	assert.Equal(t, user.ID, res.UserMessage.ID)
	assert.False(t, res.Interrupted)

	require.Len(t, adapter.prompts, 1)
	require.Len(t, adapter.prompts[0], 1)
	assert.Equal(t, conversation.AuthorUser, adapter.prompts[0][0].Author)
	require.NotNil(t, adapter.system)
	assert.Equal(t, "sys", adapter.system.Text)

	last, ok, err := e.LastCursor(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, res.Cursor, *last)
}

func TestGenerateUserMessagePersistedBeforeNetwork(t *testing.T) {
	s := store.NewInMemoryStore()
	adapter := &fakeAdapter{store: s, convID: "c1", err: errors.New("connection refused")}
	e := New(s, adapter, WithCredentials(StaticKey("k")))

	res, err := e.Generate(context.Background(), GenerateRequest{ConversationID: "c1", UserMessage: userMessage("hi")})
	assert.EqualError(t, err, "connection refused")
	assert.Equal(t, 1, adapter.persisted)
	require.NotNil(t, res)
	assert.Empty(t, res.Replies)
	assert.Equal(t, res.UserMessage.ID, res.Cursor.ParentMessageID)

	conv, _, _ := s.Get(context.Background(), "c1")
	assert.Len(t, conv.Messages, 1)
}

func TestGenerateTwoCandidates(t *testing.T) {
	ctx := context.Background()
	adapter := &fakeAdapter{events: []engine.StreamEvent{
		delta(1, "B"),
		delta(0, "A"),
		delta(1, "b"),
		done(1, "length"),
		delta(0, "a"),
		done(0, "stop"),
	}}
	e, s := newEngine(adapter)

	res, err := e.Generate(ctx, GenerateRequest{
		ConversationID: "c1",
		UserMessage:    userMessage("q"),
		Options:        &engine.ModelOptions{N: 2},
	})
	require.NoError(t, err)
	assert.Equal(t, "m", adapter.opts.Model)
	assert.Equal(t, 2, adapter.opts.N)

	require.Len(t, res.Replies, 2)
	assert.Equal(t, "Aa", res.Replies[0].Text)
	assert.Equal(t, "Bb", res.Replies[1].Text)
	assert.Equal(t, res.Replies[0].ParentID, res.Replies[1].ParentID)
	assert.Equal(t, res.Replies[0].ID, res.Cursor.ParentMessageID)

	conv, _, _ := s.Get(ctx, "c1")
	siblings := conversation.Siblings(conv.Messages, res.Replies[0].ID)
	assert.Len(t, siblings, 2)
}

func TestGeneratePreviewFallsBackToLowestIndex(t *testing.T) {
	adapter := &fakeAdapter{events: []engine.StreamEvent{delta(2, "x"), done(2, ""), delta(1, "y"), done(1, "")}}
	e, _ := newEngine(adapter)
	res, err := e.Generate(context.Background(), GenerateRequest{ConversationID: "c", UserMessage: userMessage("q")})
	require.NoError(t, err)
	assert.Equal(t, res.Replies[1].ID, res.Cursor.ParentMessageID)
	assert.Equal(t, "stop", res.Replies[2].Details.StopReason)
}

func TestGeneratePartialFailure(t *testing.T) {
	ctx := context.Background()
	adapter := &fakeAdapter{
		events: []engine.StreamEvent{delta(0, "The answer i")},
		err:    engine.ErrPrematureClose,
	}
	e, s := newEngine(adapter)

	res, err := e.Generate(ctx, GenerateRequest{
		ConversationID: "c1",
		UserMessage:    userMessage("q"),
		Options:        &engine.ModelOptions{N: 2},
	})
	assert.ErrorIs(t, err, engine.ErrPrematureClose)
	require.NotNil(t, res)
	require.Len(t, res.Replies, 1)

	partial := res.Replies[0]
	assert.Equal(t, "The answer i", partial.Text)
	assert.Equal(t, "connection closed prematurely", partial.Details.StopReason)
	assert.Equal(t, "connection closed prematurely", partial.Details.Error)

	conv, _, _ := s.Get(ctx, "c1")
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, partial.ID, res.Cursor.ParentMessageID)
}

func TestGenerateOpenAIStreamDropped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"The answer i\"}}]}\n\n")
		w.(http.Flusher).Flush()
	}))
	defer srv.Close()

	ss := settings.NewStepSettings()
	ss.OpenAI.BaseURL = &srv.URL
	s := store.NewInMemoryStore()
	e := New(s, openai.NewAdapter(ss),
		WithCredentials(StaticKey("k")),
		WithDefaultOptions(engine.ModelOptions{Model: "m", Stream: true}))

	ctx := context.Background()
	res, err := e.Generate(ctx, GenerateRequest{
		ConversationID: "c1",
		UserMessage:    userMessage("q"),
		Options:        &engine.ModelOptions{N: 2},
	})
	assert.ErrorIs(t, err, engine.ErrPrematureClose)
	require.NotNil(t, res)
	require.Len(t, res.Replies, 1)

	conv, _, _ := s.Get(ctx, "c1")
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, "q", conv.Messages[0].Text)
	reply := conv.Messages[1]
	assert.Equal(t, "The answer i", reply.Text)
	assert.Equal(t, conv.Messages[0].ID, reply.ParentID)
	assert.Equal(t, "connection closed prematurely", reply.Details.StopReason)
}

func TestGenerateCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	adapter := &fakeAdapter{block: true, events: []engine.StreamEvent{delta(0, "par")}}
	e, s := newEngine(adapter)

	var seen int
	res, err := e.Generate(ctx, GenerateRequest{
		ConversationID: "c1",
		UserMessage:    userMessage("q"),
		OnEvent: func(engine.StreamEvent) error {
			seen++
			cancel()
			return nil
		},
	})
	require.NoError(t, err)
	assert.True(t, res.Interrupted)
	assert.Equal(t, 1, seen)
	require.Len(t, res.Replies, 1)
	assert.Equal(t, engine.StopReasonCancelled, res.Replies[0].Details.StopReason)

	conv, _, _ := s.Get(context.Background(), "c1")
	assert.Len(t, conv.Messages, 2)
}

func TestGenerateRewindCreatesSibling(t *testing.T) {
	ctx := context.Background()
	adapter := &fakeAdapter{events: []engine.StreamEvent{delta(0, "r"), done(0, "stop")}}
	e, s := newEngine(adapter)

	first, err := e.Generate(ctx, GenerateRequest{ConversationID: "c", UserMessage: userMessage("a")})
	require.NoError(t, err)
	second, err := e.Generate(ctx, GenerateRequest{ConversationID: "c", Parent: first.Cursor.ParentMessageID, UserMessage: userMessage("b")})
	require.NoError(t, err)
	x := second.UserMessage

	// rewind from x to its parent and send again
	third, err := e.Generate(ctx, GenerateRequest{ConversationID: "c", Parent: x.ParentID, UserMessage: userMessage("c")})
	require.NoError(t, err)

	conv, _, _ := s.Get(ctx, "c")
	siblings := conversation.Siblings(conv.Messages, x.ID)
	require.Len(t, siblings, 2)
	assert.Equal(t, x.ID, siblings[0].ID)
	assert.Equal(t, third.UserMessage.ID, siblings[1].ID)
	assert.Len(t, conversation.Children(conv.Messages, x.ID), 1)

	require.Len(t, adapter.prompts, 3)
	assert.Len(t, adapter.prompts[2], 3)
	assert.Equal(t, "c", adapter.prompts[2][2].Text)
}

func TestGenerateWithoutUserMessage(t *testing.T) {
	ctx := context.Background()
	adapter := &fakeAdapter{events: []engine.StreamEvent{delta(0, "again"), done(0, "stop")}}
	e, _ := newEngine(adapter)

	cur, err := e.AddMessages(ctx, "c", conversation.NullNode, []*conversation.Message{userMessage("q")}, true)
	require.NoError(t, err)

	res, err := e.Generate(ctx, GenerateRequest{ConversationID: "c", Parent: cur.ParentMessageID})
	require.NoError(t, err)
	assert.Nil(t, res.UserMessage)
	assert.Equal(t, cur.ParentMessageID, res.Replies[0].ParentID)
}

func TestGenerateConfigurationErrors(t *testing.T) {
	ctx := context.Background()
	adapter := &fakeAdapter{}
	e := New(store.NewInMemoryStore(), adapter)

	_, err := e.Generate(ctx, GenerateRequest{ConversationID: "c", UserMessage: userMessage("q")})
	assert.ErrorIs(t, err, engine.ErrMissingCredential)
	conv, ok, _ := e.Conversation(ctx, "c")
	assert.False(t, ok)
	assert.Nil(t, conv)

	e, _ = newEngine(adapter)
	_, err = e.Generate(ctx, GenerateRequest{ConversationID: "c", Parent: conversation.NewNodeID()})
	assert.ErrorIs(t, err, conversation.ErrMessageNotFound)
}

type recordingSink struct {
	events []inference.Event
}

func (r *recordingSink) PublishEvent(e inference.Event) error {
	r.events = append(r.events, e)
	return nil
}

func TestGeneratePublishesToSink(t *testing.T) {
	sink := &recordingSink{}
	adapter := &fakeAdapter{events: []engine.StreamEvent{delta(0, "x"), done(0, "stop")}}
	e, _ := newEngine(adapter, WithSink(sink))

	res, err := e.Generate(context.Background(), GenerateRequest{ConversationID: "c", UserMessage: userMessage("q")})
	require.NoError(t, err)
	require.Len(t, sink.events, 2)
	assert.Equal(t, "c", sink.events[0].ConversationID)
	assert.Equal(t, res.UserMessage.ID.String(), sink.events[0].ParentMessageID)
}

func TestAddMessagesEditAndMerge(t *testing.T) {
	ctx := context.Background()
	e, s := newEngine(&fakeAdapter{})

	hello := conversation.NewMessage("User", "Hello ")
	world := conversation.NewMessage("Assistant", "World")
	cur, err := e.AddMessages(ctx, "c", conversation.NullNode, []*conversation.Message{hello, world}, true)
	require.NoError(t, err)
	assert.Equal(t, world.ID, cur.ParentMessageID)

	merged, err := e.MergeUp(ctx, cur)
	require.NoError(t, err)
	assert.Equal(t, "Hello World", merged.Text)
	assert.Equal(t, "User", merged.Role)
	assert.Equal(t, conversation.NullNode, merged.ParentID)

	edited, err := e.Edit(ctx, "c", world.ID, "  Earth ")
	require.NoError(t, err)
	assert.Equal(t, "Earth", edited.Text)
	assert.Equal(t, hello.ID, edited.ParentID)

	_, err = e.Edit(ctx, "c", world.ID, "World")
	assert.ErrorIs(t, err, conversation.ErrMessageUnchanged)

	conv, _, _ := s.Get(ctx, "c")
	require.Len(t, conv.Messages, 4)
	assert.Equal(t, "Hello ", conv.Messages[0].Text)
	assert.Equal(t, "World", conv.Messages[1].Text)

	siblings, err := e.AddMessages(ctx, "c", hello.ID, []*conversation.Message{
		conversation.NewMessage("Assistant", "one"),
		conversation.NewMessage("Assistant", "two"),
	}, false)
	require.NoError(t, err)
	conv, _, _ = s.Get(ctx, "c")
	assert.Len(t, conversation.Siblings(conv.Messages, siblings.ParentMessageID), 4)
}

func TestNewFromSettings(t *testing.T) {
	ss := settings.NewStepSettings()
	claude := types.ApiTypeClaude
	engineName := "claude-3-haiku"
	ss.Chat.ApiType = &claude
	ss.Chat.Engine = &engineName

	e, err := NewFromSettings(store.NewInMemoryStore(), ss, nil)
	require.NoError(t, err)
	assert.Equal(t, "claude", e.Adapter().Name())
	assert.Equal(t, "Claude", e.Participants().Bot.Display)
	assert.Equal(t, "claude-3-haiku", e.DefaultOptions().Model)

	_, err = e.Generate(context.Background(), GenerateRequest{ConversationID: "c", UserMessage: userMessage("q")})
	assert.ErrorIs(t, err, engine.ErrMissingCredential)

	bogus := types.ApiType("cohere")
	ss.Chat.ApiType = &bogus
	_, err = NewFromSettings(store.NewInMemoryStore(), ss, nil)
	assert.ErrorIs(t, err, engine.ErrUnknownProvider)
}
