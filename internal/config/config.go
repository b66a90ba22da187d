package config

import (
	"bytes"
	_ "embed"
	"time"

	"github.com/spf13/viper"
)

//go:embed defaults.yaml
var defaults []byte

// ---- Root ----

type Config struct {
	HTTP       HTTPConfig       `mapstructure:"http"`
	MySQL      DatabaseConfig   `mapstructure:"mysql"`
	ClickHouse DatabaseConfig   `mapstructure:"clickhouse"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Mailer     MailerConfig     `mapstructure:"mailer"`
	Webhook    WebhookConfig    `mapstructure:"webhook"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Escalation EscalationConfig `mapstructure:"escalation"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Internal   InternalConfig   `mapstructure:"internal"`
	LogLevel   string           `mapstructure:"log_level"`
}

// ---- Leaf structs ----

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idletime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
}

type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type MailerConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	APIKey        string        `mapstructure:"api_key"`
	SenderEmail   string        `mapstructure:"sender_email"`
	SenderName    string        `mapstructure:"sender_name"`
	TimeoutMs     int           `mapstructure:"timeout_ms"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryBase     time.Duration `mapstructure:"retry_base"`
}

type WebhookConfig struct {
	Secret    string        `mapstructure:"secret"`
	Tolerance time.Duration `mapstructure:"tolerance"`
}

type QueueConfig struct {
	BatchLimit        int           `mapstructure:"batch_limit"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	DedupWindow       time.Duration `mapstructure:"dedup_window"`
	RetentionTerminal time.Duration `mapstructure:"retention_terminal"`
	RetentionPending  time.Duration `mapstructure:"retention_pending"`
	RetentionEvents   time.Duration `mapstructure:"retention_events"`
	OpTimeout         time.Duration `mapstructure:"op_timeout"`
}

type EscalationConfig struct {
	Threshold     int           `mapstructure:"threshold"`
	AlertTemplate string        `mapstructure:"alert_template"`
	BucketTTL     time.Duration `mapstructure:"bucket_ttl"`
}

type RateLimitConfig struct {
	ManualPerHour int `mapstructure:"manual_per_hour"`
}

type InternalConfig struct {
	Key string `mapstructure:"key"`
}

// Load reads embedded defaults, merges user YAML (if provided), and applies env overrides (NOTIFY_*).
func Load(path string) (Config, error) {
	v := viper.New()

	// embedded defaults
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		_ = v.MergeInConfig()
	}

	// env override (NOTIFY_*)
	v.SetEnvPrefix("NOTIFY")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
