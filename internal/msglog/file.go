package msglog

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/weiawesome/wes-chat-hub/internal/domain"
	pkglog "github.com/weiawesome/wes-chat-hub/pkg/log"
)

// FileConfig configures the JSON-lines backend.
type FileConfig struct {
	Path string `mapstructure:"path"`
	// NoSync skips the fsync after each record.
	NoSync bool `mapstructure:"no_sync"`
}

// appendFile is the write side of the log file.
type appendFile interface {
	Write(p []byte) (int, error)
	Sync() error
	Stat() (os.FileInfo, error)
	Truncate(size int64) error
}

// FileLog appends one JSON document per line to a local file.
type FileLog struct {
	mu     sync.Mutex
	path   string
	f      *os.File
	out    appendFile
	noSync bool
	// broken is set when a failed record could not be cut back out of the
	// file. Nothing is appended after it.
	broken error
}

// OpenFile opens (or creates) the log file at cfg.Path.
func OpenFile(cfg FileConfig) (*FileLog, error) {
	if cfg.Path == "" {
		cfg.Path = "./data/chat.log.jsonl"
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	return &FileLog{path: cfg.Path, f: f, out: f, noSync: cfg.NoSync}, nil
}

func (l *FileLog) Append(ctx context.Context, rec Record) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return ErrClosed
	}
	if l.broken != nil {
		return l.broken
	}

	info, err := l.out.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	end := info.Size()

	if _, err := l.out.Write(line); err != nil {
		return l.rollback(ctx, end, fmt.Errorf("failed to write record: %w", err))
	}
	if !l.noSync {
		if err := l.out.Sync(); err != nil {
			return l.rollback(ctx, end, fmt.Errorf("failed to sync log file: %w", err))
		}
	}
	return nil
}

// rollback cuts the file back to end after a failed append so the next
// record never lands behind a partial one.
func (l *FileLog) rollback(ctx context.Context, end int64, cause error) error {
	if err := l.out.Truncate(end); err != nil {
		l.broken = fmt.Errorf("%w: unrecovered partial record at offset %d: %v", ErrBroken, end, err)
		logger := pkglog.Ctx(ctx)
		logger.Error().Err(err).Str("path", l.path).Int64("offset", end).Msg("chat log left with a partial record")
		return fmt.Errorf("%w (rollback failed: %v)", cause, err)
	}
	return cause
}

// Replay feeds every record to fn in file order. A torn final line left by a
// crash mid-write is cut off; an undecodable line anywhere else is an error.
func (l *FileLog) Replay(ctx context.Context, fn func(Record) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return ErrClosed
	}

	if _, err := l.f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to rewind log file: %w", err)
	}

	var (
		r           = bufio.NewReaderSize(l.f, 64*1024)
		good        int64
		torn        bool
		missingTail bool
	)
	for {
		line, readErr := r.ReadBytes('\n')
		if len(line) > 0 {
			last := errors.Is(readErr, io.EOF)
			payload := bytes.TrimSpace(line)
			if len(payload) > 0 {
				var rec Record
				err := json.Unmarshal(payload, &rec)
				if err == nil {
					err = rec.Validate()
				}
				if err != nil {
					if last {
						torn = true
						break
					}
					return fmt.Errorf("corrupt log record at offset %d: %w", good, err)
				}
				if err := ctx.Err(); err != nil {
					return err
				}
				if err := fn(rec); err != nil {
					return err
				}
				missingTail = last
			}
			good += int64(len(line))
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			return fmt.Errorf("failed to read log file: %w", readErr)
		}
	}

	if torn {
		logger := pkglog.Ctx(ctx)
		logger.Warn().Str("path", l.path).Int64("offset", good).Msg("dropping torn record at end of chat log")
		if err := l.f.Truncate(good); err != nil {
			return fmt.Errorf("failed to truncate torn record: %w", err)
		}
	} else if missingTail {
		if _, err := l.f.Write([]byte{'\n'}); err != nil {
			return fmt.Errorf("failed to terminate last record: %w", err)
		}
	}
	return nil
}

// Compact rewrites the file so it holds one append record per live message.
// The new file replaces the old one atomically.
func (l *FileLog) Compact(ctx context.Context, live []domain.ChatMessage) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return ErrClosed
	}

	dir := filepath.Dir(l.path)
	tmp, err := os.CreateTemp(dir, ".compact-*")
	if err != nil {
		return fmt.Errorf("failed to create compaction file: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	w := bufio.NewWriter(tmp)
	enc := json.NewEncoder(w)
	for _, rec := range appendRecords(live, time.Now().UTC()) {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("failed to write compacted record: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to flush compaction file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync compaction file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close compaction file: %w", err)
	}
	if err := os.Rename(tmpPath, l.path); err != nil {
		return fmt.Errorf("failed to replace log file: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("failed to reopen log file: %w", err)
	}
	l.f.Close()
	l.f = f
	l.out = f
	l.broken = nil
	success = true
	return nil
}

func (l *FileLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	l.out = nil
	return err
}
