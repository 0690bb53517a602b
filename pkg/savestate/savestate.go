// Package savestate keeps named checkpoints of a conversation cursor, one
// JSON file per checkpoint.
package savestate

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-go-golems/loom/pkg/conversation"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	DefaultDir  = "saved_states"
	FileVersion = 1

	fileExtension = ".json"
	defaultSlug   = "save"
	summaryLength = 80
)

var (
	ErrSaveExists = errors.New("save state already exists")
	ErrEmptyName  = errors.New("save state name is required")
)

// Record is the on-disk document.
type Record struct {
	Version          int                        `json:"version"`
	Name             string                     `json:"name"`
	Slug             string                     `json:"slug"`
	SavedAt          time.Time                  `json:"savedAt"`
	ConversationID   *string                    `json:"conversationId"`
	Summary          *string                    `json:"summary"`
	ConversationData *conversation.Cursor       `json:"conversationData"`
	Conversation     *conversation.Conversation `json:"conversation"`
}

// State is a record together with where it was read from.
type State struct {
	Record
	Path         string `json:"filePath"`
	RelativePath string `json:"relativePath"`
}

func (s *State) ConversationIDOrEmpty() string {
	if s == nil || s.ConversationID == nil {
		return ""
	}
	return *s.ConversationID
}

// Label renders a listing line such as "name: summary (2006-01-02 15:04)".
func (s *State) Label() string {
	summary := ""
	switch {
	case s.Summary != nil && *s.Summary != "":
		summary = *s.Summary
	case s.Conversation != nil && s.Conversation.Name != "":
		summary = s.Conversation.Name
	case s.ConversationData != nil:
		summary = s.ConversationData.ConversationID
	}
	ts := "unknown time"
	if !s.SavedAt.IsZero() {
		ts = s.SavedAt.Local().Format("2006-01-02 15:04")
	}
	if summary == "" {
		return s.Name + " (" + ts + ")"
	}
	return s.Name + ": " + summary + " (" + ts + ")"
}

type Store struct {
	dir  string
	base string
	now  func() time.Time
	mu   sync.Mutex
}

type Option func(*Store)

// WithBaseDir sets the directory relative paths are computed from. It
// defaults to the working directory.
func WithBaseDir(dir string) Option {
	return func(s *Store) {
		s.base = dir
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore returns a store rooted at dir. The directory is created lazily.
func NewStore(dir string, options ...Option) *Store {
	if dir == "" {
		dir = DefaultDir
	}
	ret := &Store{dir: dir, now: time.Now}
	if wd, err := os.Getwd(); err == nil {
		ret.base = wd
	}
	for _, o := range options {
		o(ret)
	}
	return ret
}

func (s *Store) Dir() string {
	return s.dir
}

var nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases name and collapses every run of other characters to a
// single hyphen.
func Slugify(name string) string {
	base := nonSlugChars.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "-")
	base = strings.Trim(base, "-")
	if base == "" {
		return defaultSlug
	}
	return base
}

// UniqueSlug returns the slug of name, suffixed with -2, -3, ... until it
// does not collide with existing.
func UniqueSlug(name string, existing []*State) string {
	base := Slugify(name)
	taken := make(map[string]bool, len(existing))
	for _, st := range existing {
		taken[st.Slug] = true
	}
	if !taken[base] {
		return base
	}
	for i := 2; ; i++ {
		candidate := base + "-" + strconv.Itoa(i)
		if !taken[candidate] {
			return candidate
		}
	}
}

// Summarize returns the conversation name, or the first non-blank message
// with whitespace compacted and cut to 80 characters.
func Summarize(conv *conversation.Conversation) string {
	if conv == nil {
		return ""
	}
	if conv.Name != "" {
		return conv.Name
	}
	for _, m := range conv.Messages {
		if m == nil || strings.TrimSpace(m.Text) == "" {
			continue
		}
		compact := strings.Join(strings.Fields(m.Text), " ")
		r := []rune(compact)
		if len(r) > summaryLength {
			return string(r[:summaryLength-3]) + "..."
		}
		return compact
	}
	return ""
}

func (s *Store) pathOf(slug string) string {
	return filepath.Join(s.dir, slug+fileExtension)
}

func (s *Store) relative(path string) string {
	if s.base == "" {
		return path
	}
	if rel, err := filepath.Rel(s.base, path); err == nil {
		return rel
	}
	return path
}

func (s *Store) ensureDir() error {
	return os.MkdirAll(s.dir, 0o755)
}

func (s *Store) readFile(path, slug string) (*State, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var r Record
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, errors.Wrapf(err, "parse save state %s", path)
	}
	if r.Slug == "" {
		r.Slug = slug
	}
	if r.Name == "" {
		r.Name = r.Slug
	}
	if r.SavedAt.IsZero() {
		if fi, err := os.Stat(path); err == nil {
			r.SavedAt = fi.ModTime()
		}
	}
	return &State{Record: r, Path: path, RelativePath: s.relative(path)}, nil
}

// List returns every readable save state, newest first. Files that fail to
// parse are skipped.
func (s *Store) List(ctx context.Context) ([]*State, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*State{}, nil
		}
		return nil, errors.Wrapf(err, "read save state dir %s", s.dir)
	}

	ret := []*State{}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !entry.Type().IsRegular() || !strings.HasSuffix(entry.Name(), fileExtension) {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		st, err := s.readFile(path, strings.TrimSuffix(entry.Name(), fileExtension))
		if err != nil {
			log.Debug().Err(err).Str("path", path).Msg("skipping unreadable save state")
			continue
		}
		ret = append(ret, st)
	}
	sort.SliceStable(ret, func(i, j int) bool {
		return ret[i].SavedAt.After(ret[j].SavedAt)
	})
	return ret, nil
}

// Find resolves identifier as a slug first, then as a case-insensitive
// name.
func (s *Store) Find(ctx context.Context, identifier string) (*State, bool, error) {
	if strings.TrimSpace(identifier) == "" {
		return nil, false, nil
	}
	states, err := s.List(ctx)
	if err != nil {
		return nil, false, err
	}
	slug := Slugify(identifier)
	for _, st := range states {
		if st.Slug == slug {
			return st, true, nil
		}
	}
	normalized := strings.ToLower(strings.TrimSpace(identifier))
	for _, st := range states {
		if strings.ToLower(strings.TrimSpace(st.Name)) == normalized {
			return st, true, nil
		}
	}
	return nil, false, nil
}

func (s *Store) ReadBySlug(_ context.Context, slug string) (*State, bool, error) {
	if slug == "" {
		return nil, false, nil
	}
	path := s.pathOf(slug)
	st, err := s.readFile(path, slug)
	if err != nil {
		if os.IsNotExist(errors.Cause(err)) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return st, true, nil
}

type WriteRequest struct {
	Name             string
	Slug             string
	ConversationData *conversation.Cursor
	Conversation     *conversation.Conversation
	Summary          string
}

type WriteResult struct {
	Path         string
	RelativePath string
	Record       Record
}

// Write stores a record under its slug, replacing any previous file
// atomically.
func (s *Store) Write(ctx context.Context, req WriteRequest) (*WriteResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Slug == "" {
		req.Slug = Slugify(req.Name)
	}
	if err := s.ensureDir(); err != nil {
		return nil, errors.Wrapf(err, "create save state dir %s", s.dir)
	}

	r := Record{
		Version:      FileVersion,
		Name:         req.Name,
		Slug:         req.Slug,
		SavedAt:      s.now().UTC(),
		Conversation: req.Conversation.Clone(),
	}
	if req.ConversationData != nil {
		c := *req.ConversationData
		r.ConversationData = &c
		id := c.ConversationID
		r.ConversationID = &id
	}
	if req.Summary != "" {
		summary := req.Summary
		r.Summary = &summary
	}

	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, err
	}
	b = append(b, '\n')

	path := s.pathOf(req.Slug)
	tmpPath := path + "." + uuid.NewString() + ".tmp"
	if err := os.WriteFile(tmpPath, b, 0o644); err != nil {
		return nil, errors.Wrap(err, "write save state")
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return nil, errors.Wrap(err, "write save state")
	}

	log.Debug().Str("slug", r.Slug).Str("path", path).Msg("wrote save state")
	return &WriteResult{Path: path, RelativePath: s.relative(path), Record: r}, nil
}

// Save checkpoints cursor under name. Names match exactly and case
// sensitively: an existing save of the same name is replaced only with
// overwrite, otherwise ErrSaveExists is returned. A new name whose slug is
// taken gets a -2, -3, ... suffix.
func (s *Store) Save(ctx context.Context, name string, cursor conversation.Cursor, conv *conversation.Conversation, overwrite bool) (*WriteResult, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrEmptyName
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	states, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	var existing *State
	for _, st := range states {
		if st.Name == name {
			existing = st
			break
		}
	}

	var slug string
	switch {
	case existing != nil && !overwrite:
		return nil, errors.Wrapf(ErrSaveExists, "%s", existing.Name)
	case existing != nil:
		slug = existing.Slug
	default:
		slug = UniqueSlug(name, states)
	}

	return s.Write(ctx, WriteRequest{
		Name:             name,
		Slug:             slug,
		ConversationData: &cursor,
		Conversation:     conv,
		Summary:          Summarize(conv),
	})
}

// Tree groups the save states of a single conversation.
type Tree struct {
	ConversationID string
	Name           string
	States         []*State
}

// ByConversation groups save states by conversation id, most recently
// saved trees first.
func (s *Store) ByConversation(ctx context.Context) ([]*Tree, error) {
	states, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	byID := map[string]*Tree{}
	ret := []*Tree{}
	for _, st := range states {
		id := st.ConversationIDOrEmpty()
		if id == "" {
			continue
		}
		tree, ok := byID[id]
		if !ok {
			name := id
			if st.Conversation != nil && st.Conversation.Name != "" {
				name = st.Conversation.Name
			} else if st.Summary != nil && *st.Summary != "" {
				name = *st.Summary
			}
			tree = &Tree{ConversationID: id, Name: name}
			byID[id] = tree
			ret = append(ret, tree)
		}
		tree.States = append(tree.States, st)
	}
	return ret, nil
}
