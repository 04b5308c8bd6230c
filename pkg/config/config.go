package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Language string         `mapstructure:"language"`
	Location LocationConfig `mapstructure:"location"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Settings SettingsConfig `mapstructure:"settings"`
}

// ServerConfig holds the API gateway endpoint and per-operation timeouts.
type ServerConfig struct {
	URL               string        `mapstructure:"url"`
	ChatTimeout       time.Duration `mapstructure:"chat_timeout"`
	StreamTimeout     time.Duration `mapstructure:"stream_timeout"`
	TTSTimeout        time.Duration `mapstructure:"tts_timeout"`
	TranscribeTimeout time.Duration `mapstructure:"transcribe_timeout"`
	DiagnoseTimeout   time.Duration `mapstructure:"diagnose_timeout"`
	UploadTimeout     time.Duration `mapstructure:"upload_timeout"`
}

// LocationConfig holds the caller's coordinates sent with every chat request.
type LocationConfig struct {
	Latitude  float64 `mapstructure:"latitude"`
	Longitude float64 `mapstructure:"longitude"`
	Summary   string  `mapstructure:"summary"`
}

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
	LogFile string `mapstructure:"log_file"`
	Level   string `mapstructure:"level"`
}

// SettingsConfig holds local state paths (device identity cache).
type SettingsConfig struct {
	Directory string `mapstructure:"directory"`
}

var (
	mu      sync.RWMutex
	current *Config
)

// SetDefaults registers default values on the given viper instance. Timeouts
// match the gateway protocol defaults.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.url", "http://localhost:8080")
	v.SetDefault("server.chat_timeout", "60s")
	v.SetDefault("server.stream_timeout", "60s")
	v.SetDefault("server.tts_timeout", "65s")
	v.SetDefault("server.transcribe_timeout", "30s")
	v.SetDefault("server.diagnose_timeout", "45s")
	v.SetDefault("server.upload_timeout", "60s")

	v.SetDefault("language", "en")

	v.SetDefault("logging.log_file", "./.agrichat/system.log")
	v.SetDefault("logging.level", "info")

	v.SetDefault("settings.directory", "./.agrichat")
}

// Load unmarshals the given viper instance into a Config and installs it as
// the process-wide configuration.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	mu.Lock()
	current = &cfg
	mu.Unlock()
	return &cfg, nil
}

// Get returns the installed configuration, or defaults if Load has not run.
func Get() *Config {
	mu.RLock()
	cfg := current
	mu.RUnlock()
	if cfg != nil {
		return cfg
	}

	v := viper.New()
	loaded, err := Load(v)
	if err != nil {
		// Defaults always unmarshal cleanly.
		panic(err)
	}
	return loaded
}
