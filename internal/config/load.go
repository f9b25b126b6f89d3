package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. MILEAGE_WORKER_POLL_WAIT.
const EnvPrefix = "MILEAGE"

var validate = validator.New()

// Load resolves configuration in priority order: defaults -> file -> environment.
// path may be empty; MILEAGE_CONFIG_FILE is consulted in that case. A .env path
// is read as dotenv.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = v.GetString("config_file")
	}
	if path != "" {
		v.SetConfigFile(path)
		if base := filepath.Base(path); base == ".env" || strings.HasPrefix(base, ".env.") {
			v.SetConfigType("env")
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("config_file", "")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.auth_token", "")
	v.SetDefault("server.public_base_url", "http://localhost:8080")
	v.SetDefault("server.rate_limit_rps", 20.0)
	v.SetDefault("server.rate_limit_burst", 40)
	v.SetDefault("server.cors_allowed_origins", []string{})

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("queue.backend", "local")
	v.SetDefault("queue.redis_addr", "")
	v.SetDefault("queue.redis_password", "")
	v.SetDefault("queue.redis_db", 0)
	v.SetDefault("queue.stream", "report_jobs")
	v.SetDefault("queue.group", "report_workers")
	v.SetDefault("queue.consumer", "worker-1")

	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.gcs_credentials_file", "")
	v.SetDefault("storage.bolt_path", "reports.db")
	v.SetDefault("storage.signing_secret", "")

	v.SetDefault("notify.backend", "log")
	v.SetDefault("notify.kafka_brokers", []string{})
	v.SetDefault("notify.completed_topic", "report.completed")
	v.SetDefault("notify.failed_topic", "report.failed")

	v.SetDefault("reports.system_active_limit", 50)
	v.SetDefault("reports.cooldown_window", time.Minute)
	v.SetDefault("reports.cooldown_limit", 1)
	v.SetDefault("reports.daily_limit", 10)
	v.SetDefault("reports.max_retries", 3)
	v.SetDefault("reports.validity_window", 90*24*time.Hour)
	v.SetDefault("reports.download_url_ttl", time.Hour)

	v.SetDefault("worker.enabled", true)
	v.SetDefault("worker.poll_wait", 10*time.Second)
	v.SetDefault("worker.visibility_timeout", 60*time.Second)
	v.SetDefault("worker.max_receive_count", 3)
	v.SetDefault("worker.stuck_timeout", 30*time.Minute)
	v.SetDefault("worker.pending_timeout", 2*time.Hour)
	v.SetDefault("worker.sweep_interval", 10*time.Minute)
	v.SetDefault("worker.sweep_expired", true)
}
