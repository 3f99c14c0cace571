// Package msglog is the durable record of chat mutations. The message store
// writes one Record per successful mutation and replays them on startup.
package msglog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/weiawesome/wes-chat-hub/internal/domain"
	"github.com/weiawesome/wes-chat-hub/pkg/database"
)

// Op is the kind of mutation a Record describes.
type Op string

const (
	OpAppend Op = "append"
	OpEdit   Op = "edit"
	OpDelete Op = "delete"
)

// Record is one logged mutation. Message holds the full message after an
// append or edit and is nil for deletes.
type Record struct {
	Op         Op                  `json:"op"`
	ID         string              `json:"id"`
	Message    *domain.ChatMessage `json:"message,omitempty"`
	RecordedAt time.Time           `json:"recorded_at"`
}

// Validate checks the shape a replayed record must have.
func (r Record) Validate() error {
	if r.ID == "" {
		return errors.New("record has no id")
	}
	switch r.Op {
	case OpAppend, OpEdit:
		if r.Message == nil {
			return fmt.Errorf("%s record %s has no message", r.Op, r.ID)
		}
		if r.Message.ID != r.ID {
			return fmt.Errorf("%s record %s carries message %s", r.Op, r.ID, r.Message.ID)
		}
	case OpDelete:
	default:
		return fmt.Errorf("unknown op %q", r.Op)
	}
	return nil
}

// Log is an append-only record sink. Append returns only after the record is
// durable for the backend in use.
type Log interface {
	Append(ctx context.Context, rec Record) error
	Replay(ctx context.Context, fn func(Record) error) error
	Close() error
}

// Compactor is implemented by backends that can replace their history with
// one append record per live message.
type Compactor interface {
	Compact(ctx context.Context, live []domain.ChatMessage) error
}

// ErrClosed is returned by operations on a closed log.
var ErrClosed = errors.New("msglog: closed")

// ErrBroken is returned by a log that holds a partial record it could not
// remove. Compaction rewrites the file and clears it.
var ErrBroken = errors.New("msglog: log holds a partial record")

const (
	DriverMemory    = "memory"
	DriverFile      = "file"
	DriverGorm      = "gorm"
	DriverRedis     = "redis"
	DriverCassandra = "cassandra"
)

// Config selects and configures a backend.
type Config struct {
	Driver    string          `mapstructure:"driver"`
	File      FileConfig      `mapstructure:"file"`
	Database  database.Config `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Cassandra CassandraConfig `mapstructure:"cassandra"`
}

// New opens the backend named by cfg.Driver.
func New(ctx context.Context, cfg Config) (Log, error) {
	switch cfg.Driver {
	case DriverMemory:
		return NewMemory(), nil
	case "", DriverFile:
		return OpenFile(cfg.File)
	case DriverGorm:
		db, err := database.New(&cfg.Database)
		if err != nil {
			return nil, err
		}
		return NewGormLog(db, true)
	case DriverRedis:
		return NewRedisLog(ctx, cfg.Redis)
	case DriverCassandra:
		return NewCassandraLog(ctx, cfg.Cassandra)
	default:
		return nil, fmt.Errorf("unsupported msglog driver: %s", cfg.Driver)
	}
}

func appendRecords(live []domain.ChatMessage, at time.Time) []Record {
	out := make([]Record, 0, len(live))
	for i := range live {
		m := live[i]
		out = append(out, Record{Op: OpAppend, ID: m.ID, Message: &m, RecordedAt: at})
	}
	return out
}
