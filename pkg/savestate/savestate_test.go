package savestate

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-go-golems/loom/pkg/conversation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time {
	c.t = c.t.Add(time.Minute)
	return c.t
}

func newTestStore(t *testing.T) *Store {
	dir := t.TempDir()
	clock := &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	return NewStore(filepath.Join(dir, DefaultDir), WithBaseDir(dir), WithClock(clock.now))
}

func sample(id string) (*conversation.Conversation, conversation.Cursor) {
	conv := conversation.NewConversation(id)
	root := conversation.NewMessage("User", "  what is   the\ncapital of France?  ")
	reply := conversation.NewMessage("Assistant", "Paris", conversation.WithParentID(root.ID))
	conv.Append(root, reply)
	return conv, conversation.Cursor{ConversationID: id, ParentMessageID: reply.ID}
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"My Save", "my-save"},
		{"  --Hello, World!--  ", "hello-world"},
		{"", "save"},
		{"!!!", "save"},
		{"Déjà vu 2", "d-j-vu-2"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Slugify(tt.in))
		})
	}
}

func TestUniqueSlug(t *testing.T) {
	existing := []*State{
		{Record: Record{Slug: "draft"}},
		{Record: Record{Slug: "draft-2"}},
	}
	assert.Equal(t, "draft-3", UniqueSlug("Draft", existing))
	assert.Equal(t, "other", UniqueSlug("other", existing))
}

func TestSummarize(t *testing.T) {
	conv, _ := sample("c")
	assert.Equal(t, "what is the capital of France?", Summarize(conv))

	long := conversation.NewConversation("c")
	long.Append(conversation.NewMessage("User", "   "), conversation.NewMessage("User", strings.Repeat("a", 100)))
	got := Summarize(long)
	assert.Len(t, got, 80)
	assert.True(t, strings.HasSuffix(got, "..."))

	conv.Name = "Geography"
	assert.Equal(t, "Geography", Summarize(conv))
	assert.Equal(t, "", Summarize(nil))
}

func TestWriteThenList(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	conv, cursor := sample("c1")

	res, err := s.Write(ctx, WriteRequest{Name: "First", Slug: "first", ConversationData: &cursor, Conversation: conv, Summary: "sum"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(DefaultDir, "first.json"), res.RelativePath)

	b, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(b), "}\n"))
	assert.Contains(t, string(b), "\n  \"version\": 1,")

	states, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.Equal(t, "c1", states[0].ConversationIDOrEmpty())
	require.NotNil(t, states[0].Summary)
	assert.Equal(t, "sum", *states[0].Summary)
	assert.Equal(t, cursor, *states[0].ConversationData)
	assert.Len(t, states[0].Conversation.Messages, 2)

	matches, _ := filepath.Glob(filepath.Join(s.Dir(), "*.tmp"))
	assert.Empty(t, matches)
}

func TestListNewestFirstAndSkipsBroken(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	conv, cursor := sample("c1")

	_, err := s.Save(ctx, "older", cursor, conv, false)
	require.NoError(t, err)
	_, err = s.Save(ctx, "newer", cursor, conv, false)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "broken.json"), []byte("{nope"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "notes.txt"), []byte("x"), 0o644))

	states, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.Equal(t, "newer", states[0].Name)
	assert.Equal(t, "older", states[1].Name)
}

func TestListMissingDir(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "absent"))
	states, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, states)
}

func TestListFillsDefaults(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.MkdirAll(s.Dir(), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "bare.json"), []byte(`{"version":1}`), 0o644))

	states, err := s.List(context.Background())
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.Equal(t, "bare", states[0].Slug)
	assert.Equal(t, "bare", states[0].Name)
	assert.False(t, states[0].SavedAt.IsZero())
}

func TestSaveFindResolveSameRecord(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	conv, cursor := sample("c1")

	res, err := s.Save(ctx, "My Branch", cursor, conv, false)
	require.NoError(t, err)
	assert.Equal(t, "my-branch", res.Record.Slug)

	byName, ok, err := s.Find(ctx, "  my branch ")
	require.NoError(t, err)
	require.True(t, ok)
	bySlug, ok, err := s.Find(ctx, "my-branch")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, byName.Path, bySlug.Path)

	read, ok, err := s.ReadBySlug(ctx, "my-branch")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "My Branch", read.Name)

	_, ok, err = s.ReadBySlug(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = s.Find(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSaveTwiceWithoutOverwrite(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	conv, cursor := sample("c1")

	_, err := s.Save(ctx, "snap", cursor, conv, false)
	require.NoError(t, err)
	_, err = s.Save(ctx, "snap", cursor, conv, false)
	assert.ErrorIs(t, err, ErrSaveExists)

	moved := cursor
	moved.ParentMessageID = conv.Messages[0].ID
	res, err := s.Save(ctx, "snap", moved, conv, true)
	require.NoError(t, err)
	assert.Equal(t, "snap", res.Record.Slug)

	states, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.Equal(t, moved.ParentMessageID, states[0].ConversationData.ParentMessageID)

	_, err = s.Save(ctx, "  ", cursor, conv, false)
	assert.ErrorIs(t, err, ErrEmptyName)
}

func TestSaveCollidingSlugs(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	conv, cursor := sample("c1")

	first, err := s.Save(ctx, "a b", cursor, conv, false)
	require.NoError(t, err)
	assert.Equal(t, "a-b", first.Record.Slug)

	second, err := s.Save(ctx, "a_b", cursor, conv, false)
	require.NoError(t, err)
	assert.Equal(t, "a-b-2", second.Record.Slug)

	third, err := s.Save(ctx, "a-b!", cursor, conv, false)
	require.NoError(t, err)
	assert.Equal(t, "a-b-3", third.Record.Slug)

	states, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, states, 3)
}

func TestSaveNamesAreCaseSensitive(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	conv, cursor := sample("c1")

	_, err := s.Save(ctx, "Foo", cursor, conv, false)
	require.NoError(t, err)
	res, err := s.Save(ctx, "foo", cursor, conv, false)
	require.NoError(t, err)
	assert.Equal(t, "foo-2", res.Record.Slug)

	_, err = s.Save(ctx, "Foo", cursor, conv, false)
	assert.ErrorIs(t, err, ErrSaveExists)

	res, err = s.Save(ctx, "foo", cursor, conv, true)
	require.NoError(t, err)
	assert.Equal(t, "foo-2", res.Record.Slug)

	states, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, states, 2)
}

func TestSaveSnapshotIsDeepCopy(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	conv, cursor := sample("c1")

	res, err := s.Save(ctx, "snap", cursor, conv, false)
	require.NoError(t, err)
	conv.Messages[0].Text = "changed"
	conv.Append(conversation.NewMessage("User", "later"))

	assert.Len(t, res.Record.Conversation.Messages, 2)
	assert.NotEqual(t, "changed", res.Record.Conversation.Messages[0].Text)
}

func TestByConversation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	conv1, cursor1 := sample("c1")
	conv2, cursor2 := sample("c2")
	conv2.Name = "Second tree"

	for _, save := range []struct {
		name   string
		cursor conversation.Cursor
		conv   *conversation.Conversation
	}{
		{"one", cursor1, conv1},
		{"two", cursor2, conv2},
		{"three", cursor1, conv1},
	} {
		_, err := s.Save(ctx, save.name, save.cursor, save.conv, false)
		require.NoError(t, err)
	}

	trees, err := s.ByConversation(ctx)
	require.NoError(t, err)
	require.Len(t, trees, 2)
	assert.Equal(t, "c1", trees[0].ConversationID)
	require.Len(t, trees[0].States, 2)
	assert.Equal(t, "three", trees[0].States[0].Name)
	assert.Equal(t, "Second tree", trees[1].Name)
}

func TestLabel(t *testing.T) {
	summary := "hello"
	st := &State{Record: Record{Name: "snap", Summary: &summary, SavedAt: time.Date(2024, 1, 2, 3, 4, 0, 0, time.Local)}}
	assert.Equal(t, "snap: hello (2024-01-02 03:04)", st.Label())

	st = &State{Record: Record{Name: "bare"}}
	assert.Equal(t, "bare (unknown time)", st.Label())
}
