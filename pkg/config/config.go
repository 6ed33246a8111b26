package config

import "time"

// Chat definition chat_service YAML structure
type Chat struct {
	Port     string         `mapstructure:"port"`
	GRPCPort string         `mapstructure:"grpc_port"`
	Mongo    DatabaseConfig `mapstructure:"mongo"`
	Postgres DatabaseConfig `mapstructure:"pg"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	RabbitMQ RabbitConfig   `mapstructure:"rabbitmq"`
	MinIO    MinIOConfig    `mapstructure:"minio"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Realtime Realtime       `mapstructure:"realtime"`
	// NotificationRetention read notifications older than this are purged
	NotificationRetention time.Duration `mapstructure:"notification_retention"`
}

// RedisConfig definition redis setting; sentinel addresses come from .env, Addr is the direct fallback
type RedisConfig struct {
	RedisDB  int    `mapstructure:"redis_db"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	// LockTTL bounds how long one process may hold a room's write lock
	LockTTL time.Duration `mapstructure:"lock_ttl"`
}

// DatabaseConfig definition db setting
type DatabaseConfig struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	User          string `mapstructure:"user"`
	Password      string `mapstructure:"password"`
	Database      string `mapstructure:"database"`
	RetryInterval int    `mapstructure:"retry_interval"`
	RetryCount    int    `mapstructure:"retry_count"`
}

// KafkaConfig definition kafka journal, disabled when Brokers is empty
type KafkaConfig struct {
	Brokers       []string `mapstructure:"brokers"`
	Topic         string   `mapstructure:"topic"`
	GroupID       string   `mapstructure:"group_id"`
	RetryInterval int      `mapstructure:"retry_interval"`
	RetryCount    int      `mapstructure:"retry_count"`
}

// RabbitConfig definition offline push queue, disabled when URL is empty
type RabbitConfig struct {
	URL           string `mapstructure:"url"`
	Queue         string `mapstructure:"queue"`
	RetryInterval int    `mapstructure:"retry_interval"`
	RetryCount    int    `mapstructure:"retry_count"`
}

// MinIOConfig definition attachment object storage, disabled when Endpoint is empty
type MinIOConfig struct {
	Endpoint      string        `mapstructure:"endpoint"`
	User          string        `mapstructure:"user"`
	Password      string        `mapstructure:"password"`
	Bucket        string        `mapstructure:"bucket"`
	UseSSL        bool          `mapstructure:"use_ssl"`
	PresignExpiry time.Duration `mapstructure:"presign_expiry"`
	RetryInterval int           `mapstructure:"retry_interval"`
	RetryCount    int           `mapstructure:"retry_count"`
}

// JWTConfig definition token verification
type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
}

// Retry definition bounded exponential backoff
type Retry struct {
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	MaxElapsed      time.Duration `mapstructure:"max_elapsed"`
	MaxRetries      int           `mapstructure:"max_retries"`
}

// Realtime tuning of room sessions and connections
type Realtime struct {
	SendQueueSize     int           `mapstructure:"send_queue_size"`
	HistoryLimit      int           `mapstructure:"history_limit"`
	MaxMessageChars   int           `mapstructure:"max_message_chars"`
	OpTimeout         time.Duration `mapstructure:"op_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	ReadIdleTimeout   time.Duration `mapstructure:"read_idle_timeout"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	PresenceTimeout   time.Duration `mapstructure:"presence_timeout"`
	TypingTTL         time.Duration `mapstructure:"typing_ttl"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
	DedupeWindow      int           `mapstructure:"dedupe_window"`
	MailboxSize       int           `mapstructure:"mailbox_size"`
	LeaveTimeout      time.Duration `mapstructure:"leave_timeout"`
	Retry             Retry         `mapstructure:"retry"`
}

// WithDefaults fill zero values
func (r Realtime) WithDefaults() Realtime {
	if r.SendQueueSize <= 0 {
		r.SendQueueSize = 256
	}
	if r.HistoryLimit <= 0 {
		r.HistoryLimit = 50
	}
	if r.MaxMessageChars <= 0 {
		r.MaxMessageChars = 4000
	}
	if r.OpTimeout <= 0 {
		r.OpTimeout = 5 * time.Second
	}
	if r.WriteTimeout <= 0 {
		r.WriteTimeout = 10 * time.Second
	}
	if r.ReadIdleTimeout <= 0 {
		r.ReadIdleTimeout = 60 * time.Second
	}
	if r.HeartbeatInterval <= 0 {
		r.HeartbeatInterval = 10 * time.Second
	}
	if r.PresenceTimeout <= 0 {
		r.PresenceTimeout = 30 * time.Second
	}
	if r.TypingTTL <= 0 {
		r.TypingTTL = 5 * time.Second
	}
	if r.SweepInterval <= 0 {
		r.SweepInterval = 2 * time.Second
	}
	if r.DedupeWindow <= 0 {
		r.DedupeWindow = 1024
	}
	if r.MailboxSize <= 0 {
		r.MailboxSize = 128
	}
	if r.LeaveTimeout <= 0 {
		r.LeaveTimeout = 5 * time.Second
	}
	r.Retry = r.Retry.WithDefaults()
	return r
}

// WithDefaults fill zero values
func (r Retry) WithDefaults() Retry {
	if r.InitialInterval <= 0 {
		r.InitialInterval = 50 * time.Millisecond
	}
	if r.MaxInterval <= 0 {
		r.MaxInterval = time.Second
	}
	if r.MaxElapsed <= 0 {
		r.MaxElapsed = 3 * time.Second
	}
	return r
}
