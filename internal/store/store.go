// Package store owns the ordered chat history.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/weiawesome/wes-chat-hub/internal/domain"
	"github.com/weiawesome/wes-chat-hub/internal/idgen"
	"github.com/weiawesome/wes-chat-hub/internal/msglog"
	pkglog "github.com/weiawesome/wes-chat-hub/pkg/log"
)

var (
	ErrEmptyMessage = errors.New("message needs text or media")
	ErrNoAuthor     = errors.New("message needs an author")
	ErrNotFound     = errors.New("message not found")
	ErrNotAuthor    = errors.New("only the author may change this message")
	ErrNoText       = errors.New("message has no text to edit")
	ErrEmptyText    = errors.New("edited text is empty")
	ErrPersist      = errors.New("failed to persist chat mutation")
)

const maxIDAttempts = 3

// Store holds chat messages in insertion order. Every mutation is recorded in
// the log before it becomes visible; if the log write fails nothing changes.
type Store struct {
	// writeMu serializes mutations across the log write. mu guards the
	// in-memory state and is never held during log I/O.
	writeMu sync.Mutex
	mu      sync.RWMutex

	messages []domain.ChatMessage
	index    map[string]int

	log msglog.Log
	ids idgen.Generator
	now func() time.Time
}

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(log msglog.Log, ids idgen.Generator, opts ...Option) *Store {
	s := &Store{
		index: make(map[string]int),
		log:   log,
		ids:   ids,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load rebuilds the in-memory sequence from the log, replacing current state.
func (s *Store) Load(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var (
		messages []domain.ChatMessage
		index    = make(map[string]int)
		skipped  int
	)

	err := s.log.Replay(ctx, func(rec msglog.Record) error {
		switch rec.Op {
		case msglog.OpAppend:
			if pos, ok := index[rec.ID]; ok {
				messages[pos] = *rec.Message
				return nil
			}
			index[rec.ID] = len(messages)
			messages = append(messages, *rec.Message)
		case msglog.OpEdit:
			pos, ok := index[rec.ID]
			if !ok {
				skipped++
				return nil
			}
			messages[pos] = *rec.Message
		case msglog.OpDelete:
			pos, ok := index[rec.ID]
			if !ok {
				skipped++
				return nil
			}
			messages = removeAt(messages, index, pos)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to load chat log: %w", err)
	}

	s.mu.Lock()
	s.messages = messages
	s.index = index
	s.mu.Unlock()

	l := pkglog.Ctx(ctx)
	evt := l.Info().Int("messages", len(messages))
	if skipped > 0 {
		evt = evt.Int("skipped_records", skipped)
	}
	evt.Msg("chat history loaded")
	return nil
}

// Compact asks the log to drop superseded records when it supports it.
func (s *Store) Compact(ctx context.Context) (bool, error) {
	c, ok := s.log.(msglog.Compactor)
	if !ok {
		return false, nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := c.Compact(ctx, s.List()); err != nil {
		return false, fmt.Errorf("failed to compact chat log: %w", err)
	}
	return true, nil
}

// Append stores a new message from author. Whitespace-only text counts as
// absent.
func (s *Store) Append(ctx context.Context, author, text, mediaRef string) (domain.ChatMessage, error) {
	author = strings.TrimSpace(author)
	if author == "" {
		return domain.ChatMessage{}, ErrNoAuthor
	}
	if strings.TrimSpace(text) == "" {
		text = ""
	}
	mediaRef = strings.TrimSpace(mediaRef)
	if text == "" && mediaRef == "" {
		return domain.ChatMessage{}, ErrEmptyMessage
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	id, err := s.freshID()
	if err != nil {
		return domain.ChatMessage{}, err
	}

	msg := domain.ChatMessage{
		ID:        id,
		Username:  author,
		Text:      text,
		MediaRef:  mediaRef,
		CreatedAt: s.now().UTC(),
	}

	if err := s.persist(ctx, msglog.Record{Op: msglog.OpAppend, ID: id, Message: &msg, RecordedAt: msg.CreatedAt}); err != nil {
		return domain.ChatMessage{}, err
	}

	s.mu.Lock()
	s.index[id] = len(s.messages)
	s.messages = append(s.messages, msg)
	s.mu.Unlock()

	return msg, nil
}

// Edit replaces the text of a message. Only its author may edit it, and
// media-only messages cannot gain text.
func (s *Store) Edit(ctx context.Context, id, requester, newText string) (domain.ChatMessage, error) {
	if strings.TrimSpace(newText) == "" {
		return domain.ChatMessage{}, ErrEmptyText
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	current, ok := s.Get(id)
	if !ok {
		return domain.ChatMessage{}, ErrNotFound
	}
	if current.Username != requester {
		return domain.ChatMessage{}, ErrNotAuthor
	}
	if !current.HasText() {
		return domain.ChatMessage{}, ErrNoText
	}

	editedAt := s.now().UTC()
	updated := current
	updated.Text = newText
	updated.EditedAt = &editedAt

	if err := s.persist(ctx, msglog.Record{Op: msglog.OpEdit, ID: id, Message: &updated, RecordedAt: editedAt}); err != nil {
		return domain.ChatMessage{}, err
	}

	s.mu.Lock()
	if pos, ok := s.index[id]; ok {
		s.messages[pos] = updated
	}
	s.mu.Unlock()

	return updated, nil
}

// Delete removes a message. Only its author may delete it unless force is
// set, which callers reserve for moderators.
func (s *Store) Delete(ctx context.Context, id, requester string, force bool) (domain.ChatMessage, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	current, ok := s.Get(id)
	if !ok {
		return domain.ChatMessage{}, ErrNotFound
	}
	if !force && current.Username != requester {
		return domain.ChatMessage{}, ErrNotAuthor
	}

	if err := s.persist(ctx, msglog.Record{Op: msglog.OpDelete, ID: id, RecordedAt: s.now().UTC()}); err != nil {
		return domain.ChatMessage{}, err
	}

	s.mu.Lock()
	if pos, ok := s.index[id]; ok {
		s.messages = removeAt(s.messages, s.index, pos)
	}
	s.mu.Unlock()

	return current, nil
}

// List returns a copy of every message in insertion order.
func (s *Store) List() []domain.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.ChatMessage, len(s.messages))
	copy(out, s.messages)
	return out
}

// Get returns the message with id.
func (s *Store) Get(id string) (domain.ChatMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pos, ok := s.index[id]
	if !ok {
		return domain.ChatMessage{}, false
	}
	return s.messages[pos], true
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Close closes the underlying log.
func (s *Store) Close() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.log.Close()
}

// freshID must be called with writeMu held.
func (s *Store) freshID() (string, error) {
	for i := 0; i < maxIDAttempts; i++ {
		id, err := s.ids.Generate()
		if err != nil {
			return "", fmt.Errorf("failed to generate message id: %w", err)
		}
		if _, taken := s.Get(id); !taken {
			return id, nil
		}
	}
	return "", fmt.Errorf("failed to generate an unused message id after %d attempts", maxIDAttempts)
}

func (s *Store) persist(ctx context.Context, rec msglog.Record) error {
	if err := s.log.Append(ctx, rec); err != nil {
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	return nil
}

// removeAt deletes messages[pos] and shifts later index entries down.
func removeAt(messages []domain.ChatMessage, index map[string]int, pos int) []domain.ChatMessage {
	delete(index, messages[pos].ID)
	copy(messages[pos:], messages[pos+1:])
	messages[len(messages)-1] = domain.ChatMessage{}
	messages = messages[:len(messages)-1]
	for i := pos; i < len(messages); i++ {
		index[messages[i].ID] = i
	}
	return messages
}
