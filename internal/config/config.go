package config

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Database DatabaseConfig `mapstructure:"database"`
	Auth     AuthConfig     `mapstructure:"auth" validate:"required"`
	LLM      LLMConfig      `mapstructure:"llm" validate:"required"`
	Storage  StorageConfig  `mapstructure:"storage" validate:"required"`
	Task     TaskConfig     `mapstructure:"task" validate:"required"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port                   int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel               string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	ReadTimeoutSeconds     int    `mapstructure:"read_timeout_seconds" validate:"gte=0"`
	WriteTimeoutSeconds    int    `mapstructure:"write_timeout_seconds" validate:"gte=0"`
	ShutdownTimeoutSeconds int    `mapstructure:"shutdown_timeout_seconds" validate:"gt=0"`
}

// DatabaseConfig contains all database-related configuration settings.
// An empty URL selects the in-memory task store.
type DatabaseConfig struct {
	URL          string `mapstructure:"url" validate:"omitempty,url"`
	MaxOpenConns int    `mapstructure:"max_open_conns" validate:"gte=0"`
}

// AuthConfig contains all authentication and authorization settings.
type AuthConfig struct {
	JWTSecret            string `mapstructure:"jwt_secret" validate:"required,min=32"`
	TokenLifetimeMinutes int    `mapstructure:"token_lifetime_minutes" validate:"gt=0"`
	// AllowAnonymous lets requests without a bearer token submit and poll
	// tasks that have no owner.
	AllowAnonymous bool `mapstructure:"allow_anonymous"`
}

// LLMConfig contains the generation gateway settings.
type LLMConfig struct {
	GeminiAPIKey          string `mapstructure:"gemini_api_key" validate:"required"`
	ModelName             string `mapstructure:"model_name" validate:"required"`
	RequestTimeoutSeconds int    `mapstructure:"request_timeout_seconds" validate:"gt=0"`
	MaxRetries            int    `mapstructure:"max_retries" validate:"gte=0,lte=10"`
	RetryDelaySeconds     int    `mapstructure:"retry_delay_seconds" validate:"gte=0"`
}

// StorageConfig selects and configures the artifact backend.
type StorageConfig struct {
	Driver            string `mapstructure:"driver" validate:"required,oneof=filesystem s3"`
	BasePath          string `mapstructure:"base_path" validate:"required_if=Driver filesystem"`
	BaseURL           string `mapstructure:"base_url"`
	S3Endpoint        string `mapstructure:"s3_endpoint" validate:"omitempty,url"`
	S3Region          string `mapstructure:"s3_region" validate:"required_if=Driver s3"`
	S3Bucket          string `mapstructure:"s3_bucket" validate:"required_if=Driver s3"`
	S3AccessKeyID     string `mapstructure:"s3_access_key_id"`
	S3SecretAccessKey string `mapstructure:"s3_secret_access_key"`
	S3UsePathStyle    bool   `mapstructure:"s3_use_path_style"`
	ThumbnailWidth    int    `mapstructure:"thumbnail_width" validate:"gt=0"`
}

// TaskConfig tunes the background scheduler and retention sweep.
type TaskConfig struct {
	MaxConcurrency           int    `mapstructure:"max_concurrency" validate:"gt=0"`
	TickIntervalSeconds      int    `mapstructure:"tick_interval_seconds" validate:"gt=0"`
	StuckTaskAgeMinutes      int    `mapstructure:"stuck_task_age_minutes" validate:"gt=0"`
	MaxAttempts              int    `mapstructure:"max_attempts" validate:"gte=0"`
	RetentionDays            int    `mapstructure:"retention_days" validate:"gt=0"`
	RetentionSchedule        string `mapstructure:"retention_schedule" validate:"required"`
	GenerationTimeoutSeconds int    `mapstructure:"generation_timeout_seconds" validate:"gt=0"`
}
