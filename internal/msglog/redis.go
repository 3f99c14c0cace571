package msglog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/weiawesome/wes-chat-hub/internal/domain"
)

// RedisConfig configures the redis list backend.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Key      string `mapstructure:"key"`
}

// RedisLog keeps records as JSON entries of one redis list. Durability
// follows the server's persistence settings (AOF with appendfsync).
type RedisLog struct {
	client *redis.Client
	key    string
}

// NewRedisLog connects and pings the server.
func NewRedisLog(ctx context.Context, cfg RedisConfig) (*RedisLog, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisLogWithClient(client, cfg.Key), nil
}

// NewRedisLogWithClient uses an existing client.
func NewRedisLogWithClient(client *redis.Client, key string) *RedisLog {
	if key == "" {
		key = "chat:log"
	}
	return &RedisLog{client: client, key: key}
}

func (l *RedisLog) Append(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	if err := l.client.RPush(ctx, l.key, data).Err(); err != nil {
		return fmt.Errorf("failed to push record: %w", err)
	}
	return nil
}

func (l *RedisLog) Replay(ctx context.Context, fn func(Record) error) error {
	var start int64
	for {
		items, err := l.client.LRange(ctx, l.key, start, start+replayBatchSize-1).Result()
		if err != nil {
			return fmt.Errorf("failed to read chat log: %w", err)
		}
		for i, item := range items {
			var rec Record
			if err := json.Unmarshal([]byte(item), &rec); err != nil {
				return fmt.Errorf("corrupt log entry %d: %w", start+int64(i), err)
			}
			if err := rec.Validate(); err != nil {
				return fmt.Errorf("invalid log entry %d: %w", start+int64(i), err)
			}
			if err := fn(rec); err != nil {
				return err
			}
		}
		if len(items) < replayBatchSize {
			return nil
		}
		start += int64(len(items))
	}
}

// Compact replaces the list atomically.
func (l *RedisLog) Compact(ctx context.Context, live []domain.ChatMessage) error {
	records := appendRecords(live, time.Now().UTC())
	values := make([]interface{}, 0, len(records))
	for _, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal record: %w", err)
		}
		values = append(values, data)
	}

	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, l.key)
		if len(values) > 0 {
			pipe.RPush(ctx, l.key, values...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to compact chat log: %w", err)
	}
	return nil
}

func (l *RedisLog) Close() error {
	return l.client.Close()
}
