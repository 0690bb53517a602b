package session

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-go-golems/loom/pkg/conversation"
	"github.com/go-go-golems/loom/pkg/inference/completion"
	"github.com/go-go-golems/loom/pkg/inference/engine"
	"github.com/go-go-golems/loom/pkg/savestate"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type ResultType string

const (
	ResultNoop    ResultType = "noop"
	ResultCommand ResultType = "command"
	ResultMessage ResultType = "message"
)

// Result is the outcome of one line of input.
type Result struct {
	Type           ResultType          `json:"type"`
	Command        string              `json:"command,omitempty"`
	OK             bool                `json:"ok"`
	Text           string              `json:"text,omitempty"`
	ConversationID string              `json:"conversationId"`
	CursorID       conversation.NodeID `json:"cursorId"`
	Replies        map[int]string      `json:"replies,omitempty"`
	Interrupted    bool                `json:"interrupted,omitempty"`
}

type InputOptions struct {
	// OnToken receives every text delta of every candidate.
	OnToken func(candidate int, delta string)
	// Options overrides the engine's model options for this turn.
	Options      *engine.ModelOptions
	PreviewIndex int
}

// History is the stored conversation of a session together with its
// cursor.
type History struct {
	ConversationID string                  `json:"conversationId"`
	CursorID       conversation.NodeID     `json:"cursorId"`
	Messages       []*conversation.Message `json:"messages"`
	// Path is the active path, root to cursor.
	Path []*conversation.Message `json:"path"`
}

type Manager struct {
	mu       sync.RWMutex
	engine   *completion.Engine
	saves    *savestate.Store
	system   string
	sessions map[string]*Session
	now      func() time.Time
}

type Option func(*Manager)

func WithSaves(s *savestate.Store) Option {
	return func(m *Manager) {
		m.saves = s
	}
}

func WithSystemPrompt(system string) Option {
	return func(m *Manager) {
		m.system = system
	}
}

func NewManager(e *completion.Engine, options ...Option) *Manager {
	ret := &Manager{
		engine:   e,
		sessions: map[string]*Session{},
		now:      time.Now,
	}
	for _, o := range options {
		o(ret)
	}
	return ret
}

// SetEngine swaps the engine used by subsequent turns. Turns already
// running keep the engine they started with.
func (m *Manager) SetEngine(e *completion.Engine) {
	m.mu.Lock()
	m.engine = e
	m.mu.Unlock()
}

func (m *Manager) SetSystemPrompt(system string) {
	m.mu.Lock()
	m.system = system
	m.mu.Unlock()
}

func (m *Manager) current() (*completion.Engine, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.engine, m.system
}

// Ensure returns the session id, creating it on a fresh conversation when
// it does not exist yet.
func (m *Manager) Ensure(id string) *Session {
	if id == "" {
		id = DefaultSessionID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		s = newSession(id, m.now())
		m.sessions[id] = s
	}
	return s
}

// Sessions returns the ids of all known sessions.
func (m *Manager) Sessions() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ret := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ret = append(ret, id)
	}
	return ret
}

// HandleInput runs one line of input for sessionID. Lines starting with !
// are commands, everything else is sent as a user message. Calls for the
// same session are serialized.
func (m *Manager) HandleInput(ctx context.Context, sessionID, line string, opts InputOptions) (*Result, error) {
	s := m.Ensure(sessionID)
	in := ParseInput(line)
	if in.Kind == InputEmpty {
		cur := s.Cursor()
		return &Result{Type: ResultNoop, OK: true, ConversationID: cur.ConversationID, CursorID: cur.ParentMessageID}, nil
	}

	s.turn.Lock()
	defer s.turn.Unlock()

	e, system := m.current()
	if e == nil {
		return nil, ErrNoEngine
	}
	if TurnIDFromContext(ctx) == "" {
		ctx = WithSessionMeta(ctx, s.SessionID, uuid.NewString())
	}

	if in.Kind == InputMessage {
		return m.send(ctx, e, s, conversation.NewMessage("", in.Text), system, opts)
	}

	res, err := m.command(ctx, e, s, in, system, opts)
	if err != nil {
		return nil, err
	}
	if res.Type == "" {
		res.Type = ResultCommand
	}
	res.Command = in.Command
	cur := s.Cursor()
	res.ConversationID = cur.ConversationID
	res.CursorID = cur.ParentMessageID
	return res, nil
}

// Start runs HandleInput in the background. Only one started turn may be
// active per session.
func (m *Manager) Start(ctx context.Context, sessionID, line string, opts InputOptions) (*ExecutionHandle, error) {
	s := m.Ensure(sessionID)
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if s.active != nil && s.active.IsRunning() {
		s.mu.Unlock()
		return nil, ErrSessionAlreadyActive
	}
	turnID := uuid.NewString()
	runCtx, cancel := context.WithCancel(WithSessionMeta(ctx, s.SessionID, turnID))
	handle := newExecutionHandle(s.SessionID, turnID, line, cancel)
	s.active = handle
	s.mu.Unlock()

	go func() {
		defer cancel()
		out, err := m.HandleInput(runCtx, s.SessionID, line, opts)
		s.mu.Lock()
		if s.active == handle {
			s.active = nil
		}
		s.mu.Unlock()
		handle.setResult(out, err)
	}()

	return handle, nil
}

// Cancel cancels the started turn of sessionID.
func (m *Manager) Cancel(sessionID string) error {
	return m.Ensure(sessionID).CancelActive()
}

func (m *Manager) History(ctx context.Context, sessionID string) (*History, error) {
	s := m.Ensure(sessionID)
	cur := s.Cursor()
	ret := &History{
		ConversationID: cur.ConversationID,
		CursorID:       cur.ParentMessageID,
		Messages:       []*conversation.Message{},
		Path:           []*conversation.Message{},
	}
	e, _ := m.current()
	if e == nil || cur.ConversationID == "" {
		return ret, nil
	}
	conv, ok, err := e.Conversation(ctx, cur.ConversationID)
	if err != nil {
		return nil, err
	}
	if ok {
		ret.Messages = conv.Messages
		ret.Path = conversation.Path(conv.Messages, cur.ParentMessageID)
	}
	return ret, nil
}

func (m *Manager) send(
	ctx context.Context,
	e *completion.Engine,
	s *Session,
	userMessage *conversation.Message,
	system string,
	opts InputOptions,
) (*Result, error) {
	cur := s.Cursor()
	req := completion.GenerateRequest{
		ConversationID: cur.ConversationID,
		Parent:         cur.ParentMessageID,
		UserMessage:    userMessage,
		System:         system,
		Options:        opts.Options,
		PreviewIndex:   opts.PreviewIndex,
	}
	if opts.OnToken != nil {
		req.OnEvent = func(ev engine.StreamEvent) error {
			if ev.DeltaText != "" {
				opts.OnToken(ev.CandidateIndex, ev.DeltaText)
			}
			return nil
		}
	}

	gen, err := e.Generate(ctx, req)
	if gen == nil {
		return nil, err
	}
	s.moveTo(gen.Cursor.ParentMessageID)

	ret := &Result{
		Type:           ResultMessage,
		OK:             err == nil,
		ConversationID: gen.ConversationID,
		CursorID:       gen.Cursor.ParentMessageID,
		Replies:        make(map[int]string, len(gen.Replies)),
		Interrupted:    gen.Interrupted,
	}
	for index, reply := range gen.Replies {
		ret.Replies[index] = reply.Text
	}
	if err != nil {
		ret.Text = err.Error()
	}
	log.Debug().
		Str("session_id", s.SessionID).
		Str("conversation_id", gen.ConversationID).
		Int("replies", len(gen.Replies)).
		Bool("interrupted", gen.Interrupted).
		Msg("turn finished")
	return ret, err
}

func failed(format string, args ...interface{}) *Result {
	return &Result{OK: false, Text: fmt.Sprintf(format, args...)}
}

func succeeded(format string, args ...interface{}) *Result {
	return &Result{OK: true, Text: fmt.Sprintf(format, args...)}
}

func (m *Manager) messages(ctx context.Context, e *completion.Engine, id string) ([]*conversation.Message, error) {
	conv, ok, err := e.Conversation(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []*conversation.Message{}, nil
	}
	return conv.Messages, nil
}

func (m *Manager) command(ctx context.Context, e *completion.Engine, s *Session, in Input, system string, opts InputOptions) (*Result, error) {
	switch in.Command {
	case "rw":
		return m.rewind(ctx, e, s, in.Args)
	case "fw":
		return m.forward(ctx, e, s, in.Args)
	case "alt":
		return m.alternate(ctx, e, s, in.Args)
	case "save":
		return m.save(ctx, e, s, in.Args)
	case "load":
		return m.load(ctx, e, s, in.Args)
	case "new":
		s.reset(conversation.Cursor{ConversationID: uuid.NewString(), ParentMessageID: conversation.NullNode})
		return succeeded("Started new conversation %s.", s.Cursor().ConversationID), nil
	case "gen":
		if s.Cursor().ParentMessageID == conversation.NullNode {
			return failed("Nothing to generate from; send a message first."), nil
		}
		res, err := m.send(ctx, e, s, nil, system, opts)
		if res == nil {
			return nil, err
		}
		res.Type = ResultCommand
		return res, nil
	case "mu":
		merged, err := e.MergeUp(ctx, s.Cursor())
		switch {
		case errors.Is(err, conversation.ErrNoParent):
			return failed("No parent message."), nil
		case errors.Is(err, conversation.ErrMessageNotFound):
			return failed("Message not found."), nil
		case err != nil:
			return nil, err
		}
		s.moveTo(merged.ID)
		return succeeded("Merged into parent as %s.", merged.ID), nil
	case "edit":
		cur := s.Cursor()
		edited, err := e.Edit(ctx, cur.ConversationID, cur.ParentMessageID, strings.Join(in.Args, " "))
		switch {
		case errors.Is(err, conversation.ErrEmptyMessage):
			return failed("Message empty."), nil
		case errors.Is(err, conversation.ErrMessageUnchanged):
			return failed("Message unchanged."), nil
		case errors.Is(err, conversation.ErrMessageNotFound):
			return failed("Message not found."), nil
		case err != nil:
			return nil, err
		}
		s.moveTo(edited.ID)
		return succeeded("Cloned and edited message as %s.", edited.ID), nil
	default:
		return failed("Unknown command: !%s", in.Command), nil
	}
}

// rewind moves to the parent, to a path index or to a message id.
func (m *Manager) rewind(ctx context.Context, e *completion.Engine, s *Session, args []string) (*Result, error) {
	cur := s.Cursor()
	msgs, err := m.messages(ctx, e, cur.ConversationID)
	if err != nil {
		return nil, err
	}

	if len(args) == 0 || args[0] == "-1" {
		current := conversation.Find(msgs, cur.ParentMessageID)
		if current == nil || current.ParentID == conversation.NullNode {
			return failed("Already at root; no parent to rewind to."), nil
		}
		s.moveTo(current.ParentID)
		return succeeded("Rewound to parent: %s", current.ParentID), nil
	}

	arg := args[0]
	if index, err := strconv.Atoi(arg); err == nil {
		target := conversation.PathAt(conversation.Path(msgs, cur.ParentMessageID), index)
		if target == nil {
			return failed("Message not found: %s", arg), nil
		}
		s.moveTo(target.ID)
		return succeeded("Rewound to %s", target.ID), nil
	}

	id, err := conversation.ParseNodeID(arg)
	if err != nil {
		return failed("Message not found: %s", arg), nil
	}
	target := conversation.Find(msgs, id)
	if target == nil {
		return failed("Message not found: %s", arg), nil
	}
	s.moveTo(target.ID)
	return succeeded("Rewound to %s", target.ID), nil
}

func (m *Manager) forward(ctx context.Context, e *completion.Engine, s *Session, args []string) (*Result, error) {
	cur := s.Cursor()
	msgs, err := m.messages(ctx, e, cur.ConversationID)
	if err != nil {
		return nil, err
	}
	children := conversation.Children(msgs, cur.ParentMessageID)
	if len(children) == 0 {
		return failed("No child messages."), nil
	}
	index := 0
	if len(args) > 0 {
		if index, err = strconv.Atoi(args[0]); err != nil {
			return failed("Invalid index."), nil
		}
	}
	if index < 0 || index >= len(children) {
		return failed("Invalid index."), nil
	}
	s.moveTo(children[index].ID)
	return succeeded("Moved to %s", children[index].ID), nil
}

// alternate cycles to the next sibling, or selects sibling i.
func (m *Manager) alternate(ctx context.Context, e *completion.Engine, s *Session, args []string) (*Result, error) {
	cur := s.Cursor()
	msgs, err := m.messages(ctx, e, cur.ConversationID)
	if err != nil {
		return nil, err
	}
	siblings := conversation.Siblings(msgs, cur.ParentMessageID)
	if len(siblings) < 2 {
		return failed("No sibling messages."), nil
	}

	var target *conversation.Message
	if len(args) == 0 {
		target = conversation.NextSibling(msgs, cur.ParentMessageID)
	} else {
		index, err := strconv.Atoi(args[0])
		if err != nil {
			return failed("Invalid index."), nil
		}
		target = conversation.SiblingAt(msgs, cur.ParentMessageID, index)
	}
	if target == nil {
		return failed("Invalid index."), nil
	}
	s.moveTo(target.ID)
	return succeeded("Switched to sibling %d/%d: %s",
		conversation.SiblingIndex(msgs, target.ID)+1, len(siblings), target.ID), nil
}

func (m *Manager) save(ctx context.Context, e *completion.Engine, s *Session, args []string) (*Result, error) {
	if m.saves == nil {
		return failed("Saving is not configured."), nil
	}
	overwrite := false
	nameParts := make([]string, 0, len(args))
	for _, a := range args {
		if a == "-f" || a == "--force" {
			overwrite = true
			continue
		}
		nameParts = append(nameParts, a)
	}
	name := strings.Join(nameParts, " ")
	if name == "" {
		return failed("Usage: !save <name> [-f]"), nil
	}

	cur := s.Cursor()
	conv, _, err := e.Conversation(ctx, cur.ConversationID)
	if err != nil {
		return nil, err
	}
	res, err := m.saves.Save(ctx, name, cur, conv, overwrite)
	switch {
	case errors.Is(err, savestate.ErrSaveExists):
		return failed("A save named %q already exists; use !save %s -f to overwrite.", name, name), nil
	case err != nil:
		return nil, err
	}
	return succeeded("Saved state as %q (%s).", name, res.RelativePath), nil
}

// load resumes a save state, or the last cursor when no name is given.
func (m *Manager) load(ctx context.Context, e *completion.Engine, s *Session, args []string) (*Result, error) {
	name := strings.Join(args, " ")
	if name == "" {
		last, ok, err := e.LastCursor(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return failed("Conversation not found."), nil
		}
		s.reset(*last)
		return succeeded("Resumed %s at last conversation.", last.ConversationID), nil
	}

	if m.saves == nil {
		return failed("Saving is not configured."), nil
	}
	st, ok, err := m.saves.Find(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok || st.ConversationData == nil || st.ConversationData.ConversationID == "" {
		return failed("Save not found: %s", name), nil
	}
	if st.Conversation != nil {
		snapshot := st.Conversation.Clone()
		if snapshot.ID == "" {
			snapshot.ID = st.ConversationData.ConversationID
		}
		imported, err := e.Import(ctx, snapshot)
		if err != nil {
			return nil, err
		}
		if imported {
			log.Info().Str("conversation_id", snapshot.ID).Str("save", st.Slug).Msg("restored conversation from save state")
		}
	}
	s.reset(*st.ConversationData)
	return succeeded("Resumed %s at %s.", st.ConversationData.ConversationID, st.Name), nil
}
