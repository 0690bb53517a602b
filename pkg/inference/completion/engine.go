// Package completion runs conversation turns: it builds the prompt from the
// active path, drives a provider adapter and appends the replies to the
// tree.
package completion

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/go-go-golems/loom/pkg/conversation"
	"github.com/go-go-golems/loom/pkg/conversation/store"
	"github.com/go-go-golems/loom/pkg/inference"
	"github.com/go-go-golems/loom/pkg/inference/engine"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Credentials returns the api key of provider.
type Credentials func(provider string) (string, error)

// StaticKey always returns key.
func StaticKey(key string) Credentials {
	return func(string) (string, error) {
		return key, nil
	}
}

type Engine struct {
	store        store.Store
	adapter      engine.Adapter
	credentials  Credentials
	participants conversation.Participants
	options      engine.ModelOptions
	sink         inference.EventSink
	now          func() time.Time
}

type Option func(*Engine)

func WithCredentials(c Credentials) Option {
	return func(e *Engine) {
		e.credentials = c
	}
}

func WithParticipants(p conversation.Participants) Option {
	return func(e *Engine) {
		e.participants = p
	}
}

// WithDefaultOptions sets the model options used when a request carries no
// model.
func WithDefaultOptions(o engine.ModelOptions) Option {
	return func(e *Engine) {
		e.options = o
	}
}

// WithSink forwards every stream event of every turn to sink.
func WithSink(sink inference.EventSink) Option {
	return func(e *Engine) {
		e.sink = sink
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

func New(s store.Store, adapter engine.Adapter, options ...Option) *Engine {
	ret := &Engine{
		store:        s,
		adapter:      adapter,
		participants: conversation.DefaultParticipants(),
		sink:         inference.NewNullSink(),
		now:          time.Now,
		credentials: func(provider string) (string, error) {
			return "", errors.Wrapf(engine.ErrMissingCredential, "provider %s", provider)
		},
	}
	for _, o := range options {
		o(ret)
	}
	return ret
}

func (e *Engine) Participants() conversation.Participants {
	return e.participants
}

func (e *Engine) Adapter() engine.Adapter {
	return e.adapter
}

func (e *Engine) DefaultOptions() engine.ModelOptions {
	return e.options.Clone()
}

type GenerateRequest struct {
	// ConversationID selects the tree. Empty starts a new conversation.
	ConversationID string
	// Parent is the cursor. NullNode starts a new root.
	Parent conversation.NodeID
	// UserMessage is appended below Parent before the provider is called.
	UserMessage *conversation.Message
	System      string
	// Options overrides the engine's default options when Model is set.
	Options *engine.ModelOptions
	// PreviewIndex is the candidate the returned cursor points at.
	PreviewIndex int
	OnEvent      engine.EventHandler
}

type GenerateResult struct {
	ConversationID string
	Cursor         conversation.Cursor
	Replies        map[int]*conversation.Message
	UserMessage    *conversation.Message
	// Interrupted is set when the turn was cancelled. Partial replies are
	// still persisted.
	Interrupted bool
}

// turn is the mutable state of one Generate call. The adapter calls the
// handler synchronously, so no locking is needed.
type turn struct {
	e        *Engine
	id       string
	conv     *conversation.Conversation
	parent   conversation.NodeID
	model    string
	text     map[int]*strings.Builder
	raw      map[int][]byte
	finished map[int]bool
	replies  map[int]*conversation.Message
}

func (e *Engine) loadOrCreate(ctx context.Context, id string) (*conversation.Conversation, error) {
	conv, ok, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, errors.Wrapf(err, "load conversation %s", id)
	}
	if !ok {
		conv = conversation.NewConversation(id)
		conv.CreatedAt = e.now()
	}
	return conv, nil
}

// Generate runs one turn.
//
// The user message is persisted before the network call. Each candidate
// that completes is persisted as soon as it finishes. When the stream
// fails, candidates that produced text are persisted with the error as stop
// reason and the error is returned along with the result. Cancellation
// takes the same path but is reported through Interrupted, not as an error.
func (e *Engine) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	id := req.ConversationID
	if id == "" {
		id = uuid.NewString()
	}
	conv, err := e.loadOrCreate(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Parent != conversation.NullNode && conv.Find(req.Parent) == nil {
		return nil, errors.Wrapf(conversation.ErrMessageNotFound, "%s", req.Parent)
	}

	opts := e.options.Clone()
	if req.Options != nil {
		opts = req.Options.Clone()
		if opts.Model == "" {
			opts.Model = e.options.Model
		}
	}

	apiKey, err := e.credentials(e.adapter.Name())
	if err != nil {
		return nil, err
	}

	completionParent := req.Parent
	var userMessage *conversation.Message
	if req.UserMessage != nil {
		userMessage = req.UserMessage.Clone()
		if userMessage.ID == conversation.NullNode {
			userMessage.ID = conversation.NewNodeID()
		}
		if userMessage.Role == "" {
			userMessage.Role = e.participants.User.Display
		}
		if userMessage.Type == "" {
			userMessage.Type = e.participants.User.DefaultMessageType
		}
		if userMessage.Time.IsZero() {
			userMessage.Time = e.now()
		}
		userMessage.ParentID = req.Parent
		completionParent = userMessage.ID
	}

	path := conversation.Path(conv.Messages, req.Parent)
	prompt := make([]engine.PromptMessage, 0, len(path)+1)
	for _, m := range path {
		prompt = append(prompt, engine.NewPromptMessage(m, e.participants))
	}
	if userMessage != nil {
		prompt = append(prompt, engine.NewPromptMessage(userMessage, e.participants))
	}
	var system *engine.PromptMessage
	if req.System != "" {
		system = &engine.PromptMessage{Author: conversation.AuthorSystem, Text: req.System}
	}

	wire, err := e.adapter.BuildRequest(prompt, system, opts)
	if err != nil {
		return nil, err
	}

	result := &GenerateResult{
		ConversationID: id,
		Cursor:         conversation.Cursor{ConversationID: id, ParentMessageID: completionParent},
		Replies:        map[int]*conversation.Message{},
		UserMessage:    userMessage,
	}

	if userMessage != nil {
		conv.Append(userMessage)
		if err := e.store.Set(ctx, id, conv); err != nil {
			return nil, errors.Wrap(err, "persist user message")
		}
	}

	t := &turn{
		e:        e,
		id:       id,
		conv:     conv,
		parent:   completionParent,
		model:    opts.Model,
		text:     map[int]*strings.Builder{},
		raw:      map[int][]byte{},
		finished: map[int]bool{},
		replies:  result.Replies,
	}

	log.Debug().
		Str("conversation_id", id).
		Str("provider", e.adapter.Name()).
		Str("model", opts.Model).
		Int("n", wire.N).
		Msg("starting completion")

	// persistence outlives cancellation of the turn
	persistCtx := context.WithoutCancel(ctx)

	streamErr := e.adapter.Stream(ctx, wire, apiKey, func(ev engine.StreamEvent) error {
		return t.handle(persistCtx, req.OnEvent, ev)
	})

	switch {
	case streamErr == nil:
		if err := t.finalizePending(persistCtx, engine.StopReasonStop, ""); err != nil {
			return result, err
		}
	case ctx.Err() != nil:
		log.Debug().Str("conversation_id", id).Err(streamErr).Msg("completion interrupted")
		result.Interrupted = true
		if err := t.finalizePending(persistCtx, engine.StopReasonCancelled, ""); err != nil {
			return result, err
		}
	default:
		if err := t.finalizePending(persistCtx, streamErr.Error(), streamErr.Error()); err != nil {
			log.Error().Err(err).Str("conversation_id", id).Msg("could not persist partial replies")
		}
	}

	result.Cursor.ParentMessageID = previewCursor(result.Replies, req.PreviewIndex, completionParent)
	if err := e.store.SetCursor(persistCtx, store.LastConversationKey, result.Cursor); err != nil {
		log.Warn().Err(err).Msg("could not update last conversation pointer")
	}

	if streamErr != nil && !result.Interrupted {
		return result, streamErr
	}
	return result, nil
}

func (t *turn) handle(ctx context.Context, onEvent engine.EventHandler, ev engine.StreamEvent) error {
	if ev.DeltaText != "" {
		b, ok := t.text[ev.CandidateIndex]
		if !ok {
			b = &strings.Builder{}
			t.text[ev.CandidateIndex] = b
		}
		b.WriteString(ev.DeltaText)
	}
	if len(ev.Raw) > 0 {
		t.raw[ev.CandidateIndex] = ev.Raw
	}

	if err := t.e.sink.PublishEvent(inference.Event{
		ConversationID:  t.id,
		ParentMessageID: t.parent.String(),
		StreamEvent:     ev,
	}); err != nil {
		log.Warn().Err(err).Msg("event sink failed")
	}
	if onEvent != nil {
		if err := onEvent(ev); err != nil {
			return err
		}
	}

	if !ev.Done || t.finished[ev.CandidateIndex] {
		return nil
	}
	reply := t.newReply(ev.CandidateIndex, ev.StopReason, "", ev.Usage)
	t.conv.Append(reply)
	if err := t.e.store.Set(ctx, t.id, t.conv); err != nil {
		return errors.Wrapf(err, "persist reply %d", ev.CandidateIndex)
	}
	return nil
}

func (t *turn) newReply(index int, stopReason, errText string, usage *conversation.Usage) *conversation.Message {
	text := ""
	if b, ok := t.text[index]; ok {
		text = strings.TrimSpace(b.String())
	}
	if stopReason == "" {
		stopReason = engine.StopReasonStop
	}
	reply := conversation.NewMessage(t.e.participants.Bot.Display, text,
		conversation.WithParentID(t.parent),
		conversation.WithTime(t.e.now()),
		conversation.WithType(t.e.participants.Bot.DefaultMessageType),
		conversation.WithDetails(&conversation.Details{
			StopReason: stopReason,
			Error:      errText,
			Usage:      usage,
			Model:      t.model,
			Raw:        t.raw[index],
		}),
	)
	t.finished[index] = true
	t.replies[index] = reply
	return reply
}

// finalizePending persists, in one write, every candidate that produced
// text but never completed.
func (t *turn) finalizePending(ctx context.Context, stopReason, errText string) error {
	var indices []int
	for index, b := range t.text {
		if t.finished[index] || strings.TrimSpace(b.String()) == "" {
			continue
		}
		indices = append(indices, index)
	}
	if len(indices) == 0 {
		return nil
	}
	sort.Ints(indices)
	for _, index := range indices {
		t.conv.Append(t.newReply(index, stopReason, errText, nil))
	}
	if err := t.e.store.Set(ctx, t.id, t.conv); err != nil {
		return errors.Wrap(err, "persist partial replies")
	}
	return nil
}

func previewCursor(replies map[int]*conversation.Message, preview int, fallback conversation.NodeID) conversation.NodeID {
	if r, ok := replies[preview]; ok {
		return r.ID
	}
	lowest := -1
	for index := range replies {
		if lowest == -1 || index < lowest {
			lowest = index
		}
	}
	if lowest >= 0 {
		return replies[lowest].ID
	}
	return fallback
}
