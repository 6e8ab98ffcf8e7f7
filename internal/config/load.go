package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix shared by every environment variable the service reads.
const EnvPrefix = "RENDER"

// boundKeys lists every configuration key so viper can resolve them from the
// environment even when no config file mentions them.
var boundKeys = []string{
	"server.port",
	"server.log_level",
	"server.read_timeout_seconds",
	"server.write_timeout_seconds",
	"server.shutdown_timeout_seconds",
	"database.url",
	"database.max_open_conns",
	"auth.jwt_secret",
	"auth.token_lifetime_minutes",
	"auth.allow_anonymous",
	"llm.gemini_api_key",
	"llm.model_name",
	"llm.request_timeout_seconds",
	"llm.max_retries",
	"llm.retry_delay_seconds",
	"storage.driver",
	"storage.base_path",
	"storage.base_url",
	"storage.s3_endpoint",
	"storage.s3_region",
	"storage.s3_bucket",
	"storage.s3_access_key_id",
	"storage.s3_secret_access_key",
	"storage.s3_use_path_style",
	"storage.thumbnail_width",
	"task.max_concurrency",
	"task.tick_interval_seconds",
	"task.stuck_task_age_minutes",
	"task.max_attempts",
	"task.retention_days",
	"task.retention_schedule",
	"task.generation_timeout_seconds",
}

// Load configuration from environment variables and optionally a config file.
// Environment variables take precedence over values from config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile behaves like Load but reads the given YAML file instead of
// searching the working directory for config.yaml.
func LoadFile(path string) (*Config, error) {
	// A missing .env is the normal case outside local development.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range boundKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("error binding environment variable for %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct tags on the configuration.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.read_timeout_seconds", 15)
	v.SetDefault("server.write_timeout_seconds", 30)
	v.SetDefault("server.shutdown_timeout_seconds", 30)

	v.SetDefault("database.max_open_conns", 10)

	v.SetDefault("auth.token_lifetime_minutes", 60)
	v.SetDefault("auth.allow_anonymous", false)

	v.SetDefault("llm.model_name", "gemini-2.0-flash-preview-image-generation")
	v.SetDefault("llm.request_timeout_seconds", 120)
	v.SetDefault("llm.max_retries", 2)
	v.SetDefault("llm.retry_delay_seconds", 2)

	v.SetDefault("storage.driver", "filesystem")
	v.SetDefault("storage.base_path", "./storage")
	v.SetDefault("storage.base_url", "/static")
	v.SetDefault("storage.s3_use_path_style", false)
	v.SetDefault("storage.thumbnail_width", 320)

	v.SetDefault("task.max_concurrency", 2)
	v.SetDefault("task.tick_interval_seconds", 3)
	v.SetDefault("task.stuck_task_age_minutes", 10)
	v.SetDefault("task.max_attempts", 3)
	v.SetDefault("task.retention_days", 30)
	v.SetDefault("task.retention_schedule", "@daily")
	v.SetDefault("task.generation_timeout_seconds", 120)
}
