package config

import "time"

// Config centralizes runtime settings for the API, the worker and reportctl.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Database DatabaseConfig `mapstructure:"database"`
	Queue    QueueConfig    `mapstructure:"queue" validate:"required"`
	Storage  StorageConfig  `mapstructure:"storage" validate:"required"`
	Notify   NotifyConfig   `mapstructure:"notify" validate:"required"`
	Reports  ReportsConfig  `mapstructure:"reports" validate:"required"`
	Worker   WorkerConfig   `mapstructure:"worker" validate:"required"`
}

type ServerConfig struct {
	Port           int     `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel       string  `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	AuthToken      string  `mapstructure:"auth_token"`
	PublicBaseURL  string  `mapstructure:"public_base_url" validate:"required,url"`
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps" validate:"gt=0"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst" validate:"gt=0"`
	// CORSOrigins is a comma separated list in the environment.
	CORSOrigins []string `mapstructure:"cors_allowed_origins"`
}

// DatabaseConfig is optional; an empty URL selects the in-memory repository.
type DatabaseConfig struct {
	URL         string `mapstructure:"url" validate:"omitempty,url"`
	MaxConns    int32  `mapstructure:"max_conns" validate:"gte=0"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
}

type QueueConfig struct {
	Backend       string `mapstructure:"backend" validate:"required,oneof=redis local"`
	RedisAddr     string `mapstructure:"redis_addr" validate:"required_if=Backend redis"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db" validate:"gte=0"`
	Stream        string `mapstructure:"stream" validate:"required"`
	Group         string `mapstructure:"group" validate:"required"`
	Consumer      string `mapstructure:"consumer" validate:"required"`
}

type StorageConfig struct {
	Backend            string `mapstructure:"backend" validate:"required,oneof=gcs bolt memory"`
	GCSBucket          string `mapstructure:"gcs_bucket" validate:"required_if=Backend gcs"`
	GCSCredentialsFile string `mapstructure:"gcs_credentials_file"`
	BoltPath           string `mapstructure:"bolt_path" validate:"required_if=Backend bolt"`
	SigningSecret      string `mapstructure:"signing_secret" validate:"required_if=Backend bolt,omitempty,min=16"`
}

type NotifyConfig struct {
	Backend        string   `mapstructure:"backend" validate:"required,oneof=kafka log"`
	KafkaBrokers   []string `mapstructure:"kafka_brokers" validate:"required_if=Backend kafka"`
	CompletedTopic string   `mapstructure:"completed_topic" validate:"required"`
	FailedTopic    string   `mapstructure:"failed_topic" validate:"required"`
}

type ReportsConfig struct {
	SystemActiveLimit int           `mapstructure:"system_active_limit" validate:"gt=0"`
	CooldownWindow    time.Duration `mapstructure:"cooldown_window" validate:"gte=0"`
	CooldownLimit     int           `mapstructure:"cooldown_limit" validate:"gte=0"`
	DailyLimit        int           `mapstructure:"daily_limit" validate:"gte=0"`
	MaxRetries        int           `mapstructure:"max_retries" validate:"gte=0"`
	ValidityWindow    time.Duration `mapstructure:"validity_window" validate:"gt=0"`
	DownloadURLTTL    time.Duration `mapstructure:"download_url_ttl" validate:"gt=0"`
}

type WorkerConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	PollWait          time.Duration `mapstructure:"poll_wait" validate:"gt=0"`
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout" validate:"gt=0"`
	MaxReceiveCount   int           `mapstructure:"max_receive_count" validate:"gt=0"`
	StuckTimeout      time.Duration `mapstructure:"stuck_timeout" validate:"gt=0"`
	PendingTimeout    time.Duration `mapstructure:"pending_timeout" validate:"gt=0"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval" validate:"gt=0"`
	SweepExpired      bool          `mapstructure:"sweep_expired"`
}
