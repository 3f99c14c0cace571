package msglog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/gocql/gocql"

	"github.com/weiawesome/wes-chat-hub/internal/domain"
)

// CassandraConfig configures the cassandra backend.
type CassandraConfig struct {
	Hosts          []string      `mapstructure:"hosts"`
	Keyspace       string        `mapstructure:"keyspace"`
	Table          string        `mapstructure:"table"`
	LogName        string        `mapstructure:"log_name"`
	Consistency    string        `mapstructure:"consistency"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	Timeout        time.Duration `mapstructure:"timeout"`
	NumConns       int           `mapstructure:"num_conns"`
	CreateTable    bool          `mapstructure:"create_table"`
}

var identPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// CassandraLog stores records in one partition keyed by log name, clustered
// by a sequence number this process assigns.
type CassandraLog struct {
	session *gocql.Session
	table   string
	logName string

	mu  sync.Mutex
	seq int64
}

// NewCassandraLog connects, optionally creates the table, and resumes the
// sequence after the highest stored record.
func NewCassandraLog(ctx context.Context, cfg CassandraConfig) (*CassandraLog, error) {
	if cfg.Table == "" {
		cfg.Table = "chat_log"
	}
	if cfg.LogName == "" {
		cfg.LogName = "default"
	}
	if !identPattern.MatchString(cfg.Table) {
		return nil, fmt.Errorf("invalid cassandra table name: %q", cfg.Table)
	}

	cluster := gocql.NewCluster(cfg.Hosts...)
	cluster.Keyspace = cfg.Keyspace
	cluster.Consistency = parseConsistency(cfg.Consistency)
	if cfg.ConnectTimeout > 0 {
		cluster.ConnectTimeout = cfg.ConnectTimeout
	}
	if cfg.Timeout > 0 {
		cluster.Timeout = cfg.Timeout
	}
	if cfg.NumConns > 0 {
		cluster.NumConns = cfg.NumConns
	}
	if cfg.Username != "" && cfg.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: cfg.Username,
			Password: cfg.Password,
		}
	}
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		NumRetries: 3,
		Min:        100 * time.Millisecond,
		Max:        2 * time.Second,
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create Cassandra session: %w", err)
	}

	l := &CassandraLog{session: session, table: cfg.Table, logName: cfg.LogName}

	if cfg.CreateTable {
		if err := l.createTable(ctx); err != nil {
			session.Close()
			return nil, err
		}
	}

	if err := l.loadSeq(ctx); err != nil {
		session.Close()
		return nil, err
	}

	return l, nil
}

func (l *CassandraLog) createTable(ctx context.Context) error {
	stmt := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			log_name text,
			seq bigint,
			op text,
			message_id text,
			payload text,
			recorded_at timestamp,
			PRIMARY KEY ((log_name), seq)
		) WITH CLUSTERING ORDER BY (seq ASC)`, l.table)

	if err := l.session.Query(stmt).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("failed to create chat log table: %w", err)
	}
	return nil
}

func (l *CassandraLog) loadSeq(ctx context.Context) error {
	query := fmt.Sprintf(`SELECT seq FROM %s WHERE log_name = ? ORDER BY seq DESC LIMIT 1`, l.table)

	var last int64
	err := l.session.Query(query, l.logName).WithContext(ctx).Scan(&last)
	if err != nil && !errors.Is(err, gocql.ErrNotFound) {
		return fmt.Errorf("failed to read chat log position: %w", err)
	}
	l.seq = last
	return nil
}

func (l *CassandraLog) Append(ctx context.Context, rec Record) error {
	var payload string
	if rec.Message != nil {
		data, err := json.Marshal(rec.Message)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		payload = string(data)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	next := l.seq + 1
	query := fmt.Sprintf(`
		INSERT INTO %s (log_name, seq, op, message_id, payload, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)`, l.table)

	err := l.session.Query(query,
		l.logName,
		next,
		string(rec.Op),
		rec.ID,
		payload,
		rec.RecordedAt,
	).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("failed to save log record: %w", err)
	}

	l.seq = next
	return nil
}

func (l *CassandraLog) Replay(ctx context.Context, fn func(Record) error) error {
	query := fmt.Sprintf(`
		SELECT seq, op, message_id, payload, recorded_at
		FROM %s WHERE log_name = ? ORDER BY seq ASC`, l.table)

	iter := l.session.Query(query, l.logName).WithContext(ctx).PageSize(replayBatchSize).Iter()

	var (
		seq        int64
		op         string
		messageID  string
		payload    string
		recordedAt time.Time
	)
	for iter.Scan(&seq, &op, &messageID, &payload, &recordedAt) {
		rec := Record{Op: Op(op), ID: messageID, RecordedAt: recordedAt}
		if payload != "" {
			var msg domain.ChatMessage
			if err := json.Unmarshal([]byte(payload), &msg); err != nil {
				iter.Close()
				return fmt.Errorf("corrupt log record %d: %w", seq, err)
			}
			rec.Message = &msg
		}
		if err := rec.Validate(); err != nil {
			iter.Close()
			return fmt.Errorf("invalid log record %d: %w", seq, err)
		}
		if err := fn(rec); err != nil {
			iter.Close()
			return err
		}
	}

	if err := iter.Close(); err != nil {
		return fmt.Errorf("failed to iterate chat log: %w", err)
	}
	return nil
}

func (l *CassandraLog) Close() error {
	if l.session != nil {
		l.session.Close()
	}
	return nil
}

func parseConsistency(s string) gocql.Consistency {
	switch strings.ToUpper(s) {
	case "ANY":
		return gocql.Any
	case "ONE":
		return gocql.One
	case "TWO":
		return gocql.Two
	case "THREE":
		return gocql.Three
	case "QUORUM":
		return gocql.Quorum
	case "ALL":
		return gocql.All
	case "LOCAL_ONE":
		return gocql.LocalOne
	case "EACH_QUORUM":
		return gocql.EachQuorum
	default:
		return gocql.LocalQuorum
	}
}
