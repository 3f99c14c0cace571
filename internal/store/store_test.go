package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-chat-hub/internal/domain"
	"github.com/weiawesome/wes-chat-hub/internal/idgen"
	"github.com/weiawesome/wes-chat-hub/internal/msglog"
)

// flakyLog wraps a memory log and fails appends while fail is set.
type flakyLog struct {
	*msglog.Memory
	mu   sync.Mutex
	fail bool
}

var errDiskFull = errors.New("disk full")

func (f *flakyLog) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

func (f *flakyLog) Append(ctx context.Context, rec msglog.Record) error {
	f.mu.Lock()
	fail := f.fail
	f.mu.Unlock()
	if fail {
		return errDiskFull
	}
	return f.Memory.Append(ctx, rec)
}

// seqIDs hands out ids from a fixed list, then fails.
type seqIDs struct {
	ids []string
	pos int
}

func (g *seqIDs) Generate() (string, error) {
	if g.pos >= len(g.ids) {
		return "", errors.New("exhausted")
	}
	id := g.ids[g.pos]
	g.pos++
	return id, nil
}

func (g *seqIDs) Name() string { return "seq" }

func newTestStore(t *testing.T) (*Store, *flakyLog) {
	t.Helper()
	log := &flakyLog{Memory: msglog.NewMemory()}
	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := New(log, idgen.NewULIDGenerator(), WithClock(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}))
	return s, log
}

func TestAppend(t *testing.T) {
	ctx := context.Background()
	s, log := newTestStore(t)

	msg, err := s.Append(ctx, "alice", "hi", "")
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, "alice", msg.Username)
	assert.Equal(t, "hi", msg.Text)
	assert.False(t, msg.CreatedAt.IsZero())

	media, err := s.Append(ctx, "bob", "   ", "/api/v1/media/a.png")
	require.NoError(t, err)
	assert.Empty(t, media.Text)
	assert.Equal(t, "/api/v1/media/a.png", media.MediaRef)

	assert.Equal(t, []domain.ChatMessage{msg, media}, s.List())
	assert.Len(t, log.Records(), 2)
}

func TestAppendRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	s, log := newTestStore(t)

	_, err := s.Append(ctx, "alice", "", "")
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, err = s.Append(ctx, "alice", " \n\t", " ")
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, err = s.Append(ctx, "  ", "hi", "")
	assert.ErrorIs(t, err, ErrNoAuthor)

	assert.Zero(t, s.Len())
	assert.Empty(t, log.Records())
}

func TestAppendIDsAreUnique(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	const workers, each = 8, 50
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < each; i++ {
				_, err := s.Append(ctx, fmt.Sprintf("user-%d", w), "msg", "")
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	seen := make(map[string]struct{})
	for _, m := range s.List() {
		seen[m.ID] = struct{}{}
	}
	assert.Len(t, seen, workers*each)
}

func TestAppendRetriesTakenID(t *testing.T) {
	ctx := context.Background()
	s := New(msglog.NewMemory(), &seqIDs{ids: []string{"a", "a", "b"}})

	first, err := s.Append(ctx, "alice", "one", "")
	require.NoError(t, err)
	second, err := s.Append(ctx, "alice", "two", "")
	require.NoError(t, err)

	assert.Equal(t, "a", first.ID)
	assert.Equal(t, "b", second.ID)

	_, err = s.Append(ctx, "alice", "three", "")
	assert.Error(t, err)
}

func TestEdit(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	msg, err := s.Append(ctx, "alice", "hi", "")
	require.NoError(t, err)

	edited, err := s.Edit(ctx, msg.ID, "alice", "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", edited.Text)
	require.NotNil(t, edited.EditedAt)
	assert.True(t, edited.EditedAt.After(msg.CreatedAt))

	got, ok := s.Get(msg.ID)
	require.True(t, ok)
	assert.Equal(t, edited, got)
}

func TestEditRejections(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	text, err := s.Append(ctx, "alice", "hi", "")
	require.NoError(t, err)
	media, err := s.Append(ctx, "alice", "", "/m/1")
	require.NoError(t, err)

	tests := []struct {
		name      string
		id        string
		requester string
		text      string
		want      error
	}{
		{"unknown id", "nope", "alice", "x", ErrNotFound},
		{"not author", text.ID, "bob", "x", ErrNotAuthor},
		{"media only", media.ID, "alice", "x", ErrNoText},
		{"blank text", text.ID, "alice", "  ", ErrEmptyText},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Edit(ctx, tt.id, tt.requester, tt.text)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	assert.Equal(t, []domain.ChatMessage{text, media}, s.List())
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	a, _ := s.Append(ctx, "alice", "one", "")
	b, _ := s.Append(ctx, "bob", "two", "")
	c, _ := s.Append(ctx, "alice", "three", "")

	_, err := s.Delete(ctx, b.ID, "alice", false)
	assert.ErrorIs(t, err, ErrNotAuthor)
	assert.Equal(t, 3, s.Len())

	removed, err := s.Delete(ctx, b.ID, "bob", false)
	require.NoError(t, err)
	assert.Equal(t, b, removed)
	assert.Equal(t, []domain.ChatMessage{a, c}, s.List())

	// Index stays consistent after the shift.
	got, ok := s.Get(c.ID)
	require.True(t, ok)
	assert.Equal(t, c, got)

	_, err = s.Delete(ctx, b.ID, "bob", false)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteForce(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	msg, _ := s.Append(ctx, "alice", "spam", "")
	_, err := s.Delete(ctx, msg.ID, "mod", true)
	require.NoError(t, err)
	assert.Zero(t, s.Len())
}

func TestOwnershipInvariant(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	msg, _ := s.Append(ctx, "alice", "mine", "")
	for _, other := range []string{"bob", "Alice", "alice ", ""} {
		_, err := s.Edit(ctx, msg.ID, other, "theirs")
		assert.ErrorIs(t, err, ErrNotAuthor, other)
		_, err = s.Delete(ctx, msg.ID, other, false)
		assert.ErrorIs(t, err, ErrNotAuthor, other)
	}

	got, ok := s.Get(msg.ID)
	require.True(t, ok)
	assert.Equal(t, msg, got)
}

func TestPersistFailureLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	s, log := newTestStore(t)

	msg, err := s.Append(ctx, "alice", "hi", "")
	require.NoError(t, err)

	log.setFail(true)

	_, err = s.Append(ctx, "alice", "lost", "")
	assert.ErrorIs(t, err, ErrPersist)
	assert.ErrorIs(t, err, errDiskFull)

	_, err = s.Edit(ctx, msg.ID, "alice", "changed")
	assert.ErrorIs(t, err, ErrPersist)

	_, err = s.Delete(ctx, msg.ID, "alice", false)
	assert.ErrorIs(t, err, ErrPersist)

	assert.Equal(t, []domain.ChatMessage{msg}, s.List())
	assert.Len(t, log.Records(), 1)
}

func TestLoadReplaysLog(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "chat.jsonl")

	flog, err := msglog.OpenFile(msglog.FileConfig{Path: path})
	require.NoError(t, err)
	s := New(flog, idgen.NewULIDGenerator())

	a, _ := s.Append(ctx, "alice", "one", "")
	b, _ := s.Append(ctx, "bob", "", "/m/2")
	c, _ := s.Append(ctx, "alice", "three", "")
	_, err = s.Edit(ctx, a.ID, "alice", "one!")
	require.NoError(t, err)
	_, err = s.Delete(ctx, c.ID, "alice", false)
	require.NoError(t, err)
	want := s.List()
	require.NoError(t, s.Close())

	flog, err = msglog.OpenFile(msglog.FileConfig{Path: path})
	require.NoError(t, err)
	restored := New(flog, idgen.NewULIDGenerator())
	defer restored.Close()
	require.NoError(t, restored.Load(ctx))

	got := restored.List()
	require.Len(t, got, 2)
	for i := range want {
		assert.Equal(t, want[i].ID, got[i].ID)
		assert.Equal(t, want[i].Text, got[i].Text)
		assert.Equal(t, want[i].MediaRef, got[i].MediaRef)
		assert.True(t, want[i].CreatedAt.Equal(got[i].CreatedAt))
	}
	assert.Equal(t, "one!", got[0].Text)
	assert.Equal(t, b.ID, got[1].ID)

	// Mutations after a reload keep working against the restored index.
	_, err = restored.Delete(ctx, b.ID, "bob", false)
	require.NoError(t, err)
	assert.Equal(t, 1, restored.Len())
}

func TestLoadSkipsOrphanRecords(t *testing.T) {
	ctx := context.Background()
	log := msglog.NewMemory()
	require.NoError(t, log.Append(ctx, msglog.Record{Op: msglog.OpDelete, ID: "ghost"}))
	m := domain.ChatMessage{ID: "x", Username: "alice", Text: "t"}
	require.NoError(t, log.Append(ctx, msglog.Record{Op: msglog.OpAppend, ID: "x", Message: &m}))

	s := New(log, idgen.NewULIDGenerator())
	require.NoError(t, s.Load(ctx))
	assert.Equal(t, 1, s.Len())
}

func TestCompact(t *testing.T) {
	ctx := context.Background()
	s, log := newTestStore(t)

	a, _ := s.Append(ctx, "alice", "one", "")
	b, _ := s.Append(ctx, "alice", "two", "")
	_, _ = s.Delete(ctx, b.ID, "alice", false)
	require.Len(t, log.Records(), 3)

	done, err := s.Compact(ctx)
	require.NoError(t, err)
	assert.True(t, done)

	records := log.Records()
	require.Len(t, records, 1)
	assert.Equal(t, a.ID, records[0].ID)
}
