package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. IMAGERY_SERVER_PORT.
const EnvPrefix = "IMAGERY"

var defaults = map[string]any{
	"server.port":      8080,
	"server.log_level": "info",

	"database.url": "",

	"redis.addr":     "",
	"redis.password": "",
	"redis.db":       0,

	"queue.capacity":                      100,
	"queue.worker_count":                  4,
	"queue.generation_timeout_minutes":    10,
	"queue.progress_min_delta":            5,
	"queue.progress_min_interval_seconds": 2,

	"postprocess.capacity":             100,
	"postprocess.worker_count":         2,
	"postprocess.quality":              85,
	"postprocess.thumbnail_quality":    70,
	"postprocess.thumbnail_max_width":  400,
	"postprocess.thumbnail_max_height": 400,
	"postprocess.temp_dir":             "",

	"sweeper.interval_minutes":        5,
	"sweeper.stuck_threshold_minutes": 30,

	"storage.backend":         "local",
	"storage.bucket":          "",
	"storage.public_base_url": "http://localhost:8080/files",
	"storage.local_dir":       "./data/files",

	"llm.gemini_api_key":   "",
	"llm.chat_max_tokens":  4096,
	"llm.chat_temperature": 0.7,

	"tiling.default_inset_percent": 2.0,
}

// Load configuration from environment variables and optionally config files.
// Environment variables take precedence over values from config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	return LoadFrom("")
}

// LoadFrom behaves like Load but reads the given config file instead of
// searching for config.yaml in the working directory.
func LoadFrom(path string) (*Config, error) {
	v := viper.New()

	// Every key needs a default so AutomaticEnv can bind it during Unmarshal.
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}
