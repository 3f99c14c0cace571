package msglog

import (
	"context"
	"sync"
	"time"

	"github.com/weiawesome/wes-chat-hub/internal/domain"
)

// Memory keeps records in process memory. Nothing survives a restart.
type Memory struct {
	mu      sync.Mutex
	records []Record
	closed  bool
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Append(ctx context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.records = append(m.records, rec)
	return nil
}

func (m *Memory) Replay(ctx context.Context, fn func(Record) error) error {
	m.mu.Lock()
	snapshot := append([]Record(nil), m.records...)
	m.mu.Unlock()

	for _, rec := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) Compact(ctx context.Context, live []domain.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.records = appendRecords(live, time.Now().UTC())
	return nil
}

// Records returns a copy of everything appended so far.
func (m *Memory) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.records...)
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
