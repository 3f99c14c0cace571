package config

import (
	"fmt"
	"time"

	"github.com/weiawesome/wes-chat-hub/internal/ice"
	"github.com/weiawesome/wes-chat-hub/internal/idgen"
	"github.com/weiawesome/wes-chat-hub/internal/msglog"
	pkgconfig "github.com/weiawesome/wes-chat-hub/pkg/config"
	pkglog "github.com/weiawesome/wes-chat-hub/pkg/log"
	"github.com/weiawesome/wes-chat-hub/pkg/storage"
)

type Config struct {
	Server     ServerConfig
	WebSocket  WebSocketConfig
	Log        pkglog.Config
	Store      StoreConfig
	IDGen      idgen.Config `mapstructure:"idgen"`
	Media      MediaConfig
	Kafka      KafkaConfig
	Moderation ModerationConfig
	ICE        ice.Config `mapstructure:"ice"`
}

type ServerConfig struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr is the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	SendBuffer     int           `mapstructure:"send_buffer"`
	// AllowedOrigins restricts the upgrade Origin header; empty allows all.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type StoreConfig struct {
	Log            msglog.Config
	CompactOnStart bool `mapstructure:"compact_on_start"`
}

type MediaConfig struct {
	Storage       storage.Config
	MaxUploadSize int64    `mapstructure:"max_upload_size"`
	AllowedTypes  []string `mapstructure:"allowed_types"`
}

type KafkaConfig struct {
	Enabled    bool
	Brokers    string
	Topic      string
	Partitions int
}

type ModerationConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	Issuer    string        `mapstructure:"issuer"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

// Enabled reports whether moderator tokens are honoured.
func (m ModerationConfig) Enabled() bool {
	return m.JWTSecret != ""
}

// Load reads ./config/config.yaml and HUB_* / bound environment variables.
func Load() (*Config, error) {
	return LoadFrom("./config", "config")
}

func LoadFrom(path, name string) (*Config, error) {
	v, err := pkgconfig.Load(path, name, "HUB")
	if err != nil {
		return nil, err
	}

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", 64*1024)
	v.SetDefault("websocket.send_buffer", 256)
	v.SetDefault("websocket.allowed_origins", []string{})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.service_name", "chat-hub")
	v.SetDefault("store.log.driver", msglog.DriverFile)
	v.SetDefault("store.log.file.path", "./data/chat.log.jsonl")
	v.SetDefault("store.log.database.driver", "sqlite")
	v.SetDefault("store.log.database.file_path", "./data/chat.db")
	v.SetDefault("store.log.redis.address", "localhost:6379")
	v.SetDefault("store.log.redis.key", "chat:log")
	v.SetDefault("store.log.cassandra.hosts", []string{"localhost"})
	v.SetDefault("store.log.cassandra.keyspace", "chat")
	v.SetDefault("store.log.cassandra.table", "chat_log")
	v.SetDefault("store.log.cassandra.log_name", "default")
	v.SetDefault("store.log.cassandra.consistency", "LOCAL_QUORUM")
	v.SetDefault("store.log.cassandra.connect_timeout", "10s")
	v.SetDefault("store.log.cassandra.timeout", "5s")
	v.SetDefault("store.compact_on_start", false)
	v.SetDefault("idgen.strategy", idgen.StrategyULID)
	v.SetDefault("media.storage.driver", "local")
	v.SetDefault("media.storage.local.base_path", "./data/media")
	v.SetDefault("media.max_upload_size", 25<<20)
	v.SetDefault("media.allowed_types", []string{"image/", "audio/", "video/"})
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.topic", "chat-hub-events")
	v.SetDefault("kafka.partitions", 3)
	v.SetDefault("moderation.issuer", "chat-hub")
	v.SetDefault("moderation.token_ttl", "24h")
	v.SetDefault("ice.fallback_stun", ice.DefaultFallbackSTUN)
	v.SetDefault("ice.turn_ttl", "24h")

	// Override from environment
	v.BindEnv("server.port", "PORT")
	v.BindEnv("log.level", "LOG_LEVEL")
	v.BindEnv("store.log.driver", "CHAT_LOG_DRIVER")
	v.BindEnv("store.log.redis.address", "REDIS_ADDRESS")
	v.BindEnv("store.log.redis.password", "REDIS_PASSWORD")
	v.BindEnv("store.log.database.host", "DB_HOST")
	v.BindEnv("store.log.database.password", "DB_PASSWORD")
	v.BindEnv("kafka.enabled", "KAFKA_ENABLED")
	v.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("kafka.topic", "KAFKA_TOPIC")
	v.BindEnv("media.storage.s3.access_key_id", "S3_ACCESS_KEY_ID")
	v.BindEnv("media.storage.s3.secret_access_key", "S3_SECRET_ACCESS_KEY")
	v.BindEnv("moderation.jwt_secret", "MODERATION_JWT_SECRET")
	v.BindEnv("ice.turn_key_id", "CF_TURN_ID")
	v.BindEnv("ice.turn_key", "CF_TURN_KEY")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	// Parse durations
	cfg.Server.ShutdownTimeout = pkgconfig.Duration(v, "server.shutdown_timeout", 10*time.Second)
	cfg.WebSocket.PingInterval = pkgconfig.Duration(v, "websocket.ping_interval", 30*time.Second)
	cfg.WebSocket.PongWait = pkgconfig.Duration(v, "websocket.pong_wait", 60*time.Second)
	cfg.WebSocket.WriteWait = pkgconfig.Duration(v, "websocket.write_wait", 10*time.Second)
	cfg.Moderation.TokenTTL = pkgconfig.Duration(v, "moderation.token_ttl", 24*time.Hour)
	cfg.ICE.TurnTTL = pkgconfig.Duration(v, "ice.turn_ttl", 24*time.Hour)
	cfg.WebSocket.AllowedOrigins = pkgconfig.StringSlice(v, "websocket.allowed_origins")
	cfg.Media.AllowedTypes = pkgconfig.StringSlice(v, "media.allowed_types")
	cfg.Store.Log.Cassandra.Hosts = pkgconfig.StringSlice(v, "store.log.cassandra.hosts")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the hub cannot run with.
func (c *Config) Validate() error {
	if c.WebSocket.PingInterval >= c.WebSocket.PongWait {
		return fmt.Errorf("websocket.ping_interval (%s) must be shorter than websocket.pong_wait (%s)",
			c.WebSocket.PingInterval, c.WebSocket.PongWait)
	}
	if c.WebSocket.MaxMessageSize <= 0 {
		return fmt.Errorf("websocket.max_message_size must be positive")
	}
	if c.WebSocket.SendBuffer <= 0 {
		return fmt.Errorf("websocket.send_buffer must be positive")
	}
	if c.Kafka.Enabled && c.Kafka.Brokers == "" {
		return fmt.Errorf("kafka.brokers is required when kafka.enabled is set")
	}
	return nil
}
