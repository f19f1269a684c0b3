package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server      ServerConfig      `mapstructure:"server" validate:"required"`
	Database    DatabaseConfig    `mapstructure:"database" validate:"required"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Queue       QueueConfig       `mapstructure:"queue" validate:"required"`
	PostProcess PostProcessConfig `mapstructure:"postprocess" validate:"required"`
	Sweeper     SweeperConfig     `mapstructure:"sweeper" validate:"required"`
	Storage     StorageConfig     `mapstructure:"storage" validate:"required"`
	LLM         LLMConfig         `mapstructure:"llm"`
	Tiling      TilingConfig      `mapstructure:"tiling"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required,url"`
}

// RedisConfig configures the optional Redis instance used for the sweeper
// lock. An empty Addr disables locking.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
}

// QueueConfig configures the primary task queue and its worker pool.
type QueueConfig struct {
	Capacity                   int `mapstructure:"capacity" validate:"required,gt=0"`
	WorkerCount                int `mapstructure:"worker_count" validate:"required,gt=0"`
	GenerationTimeoutMinutes   int `mapstructure:"generation_timeout_minutes" validate:"required,gt=0"`
	ProgressMinDelta           int `mapstructure:"progress_min_delta" validate:"gte=0,lte=100"`
	ProgressMinIntervalSeconds int `mapstructure:"progress_min_interval_seconds" validate:"gte=0"`
}

// GenerationTimeout returns the per-task backend deadline.
func (q QueueConfig) GenerationTimeout() time.Duration {
	return time.Duration(q.GenerationTimeoutMinutes) * time.Minute
}

// ProgressMinInterval returns the minimum spacing between persisted progress updates.
func (q QueueConfig) ProgressMinInterval() time.Duration {
	return time.Duration(q.ProgressMinIntervalSeconds) * time.Second
}

// PostProcessConfig configures the compression and upload stage.
type PostProcessConfig struct {
	Capacity           int    `mapstructure:"capacity" validate:"required,gt=0"`
	WorkerCount        int    `mapstructure:"worker_count" validate:"required,gt=0"`
	Quality            int    `mapstructure:"quality" validate:"required,gte=1,lte=100"`
	ThumbnailQuality   int    `mapstructure:"thumbnail_quality" validate:"required,gte=1,lte=100"`
	ThumbnailMaxWidth  int    `mapstructure:"thumbnail_max_width" validate:"required,gt=0"`
	ThumbnailMaxHeight int    `mapstructure:"thumbnail_max_height" validate:"required,gt=0"`
	TempDir            string `mapstructure:"temp_dir"`
}

// SweeperConfig configures the stuck-task sweeper.
type SweeperConfig struct {
	IntervalMinutes       int `mapstructure:"interval_minutes" validate:"required,gt=0"`
	StuckThresholdMinutes int `mapstructure:"stuck_threshold_minutes" validate:"required,gt=0"`
}

// Interval returns the time between sweeps.
func (s SweeperConfig) Interval() time.Duration {
	return time.Duration(s.IntervalMinutes) * time.Minute
}

// StuckThreshold returns how long a task may remain Processing.
func (s SweeperConfig) StuckThreshold() time.Duration {
	return time.Duration(s.StuckThresholdMinutes) * time.Minute
}

// StorageConfig selects and configures the object storage backend.
type StorageConfig struct {
	Backend       string `mapstructure:"backend" validate:"required,oneof=gcs local"`
	Bucket        string `mapstructure:"bucket" validate:"required_if=Backend gcs"`
	PublicBaseURL string `mapstructure:"public_base_url" validate:"required,url"`
	LocalDir      string `mapstructure:"local_dir" validate:"required_if=Backend local"`
}

// LLMConfig contains settings shared by the generation backends.
type LLMConfig struct {
	GeminiAPIKey    string  `mapstructure:"gemini_api_key"`
	ChatMaxTokens   int     `mapstructure:"chat_max_tokens" validate:"gte=0"`
	ChatTemperature float64 `mapstructure:"chat_temperature" validate:"gte=0,lte=2"`
}

// TilingConfig contains defaults for the split operation.
type TilingConfig struct {
	DefaultInsetPercent float64 `mapstructure:"default_inset_percent" validate:"gte=0,lt=50"`
}
