// Package config loads the runtime's process-level configuration from
// built-in defaults, a YAML file, and environment variables, in that order
// of increasing precedence. Grounded on the config loader pattern used
// elsewhere in the example pack (viper.Viper with SetDefault/BindEnv/
// AutomaticEnv, unmarshaled into a mapstructure-tagged struct).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every section of the runtime's process configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Store    StoreConfig    `mapstructure:"store"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
	Model    ModelConfig    `mapstructure:"model"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ModelConfig selects the language-model transport the AI Handler streams
// against (runtime/modelclient). Provider is one of "anthropic",
// "openai", or "bedrock".
type ModelConfig struct {
	Provider string `mapstructure:"provider"`
	APIKey   string `mapstructure:"apiKey"`
	Name     string `mapstructure:"name"`
}

// ServerConfig configures the JSON-RPC + SSE transport.
type ServerConfig struct {
	Addr     string `mapstructure:"addr"`
	BasePath string `mapstructure:"basePath"`
}

// StoreConfig selects and configures the Task Store backend.
type StoreConfig struct {
	// Backend is "memory" or "redis". Defaults to "memory".
	Backend  string `mapstructure:"backend"`
	RedisURL string `mapstructure:"redisUrl"`
	TTL      int    `mapstructure:"ttlSeconds"`
}

// TTLDuration returns Store.TTL as a time.Duration.
func (s *StoreConfig) TTLDuration() time.Duration {
	return time.Duration(s.TTL) * time.Second
}

// DispatchConfig configures the Workflow Handler's dispatch path.
type DispatchConfig struct {
	ResponseWindowMillis int     `mapstructure:"responseWindowMillis"`
	PerMinute            float64 `mapstructure:"perMinute"`
}

// ResponseWindow returns Dispatch.ResponseWindowMillis as a
// time.Duration.
func (d *DispatchConfig) ResponseWindow() time.Duration {
	return time.Duration(d.ResponseWindowMillis) * time.Millisecond
}

// LoggingConfig configures the telemetry Logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from config.yaml in the current directory (or
// /etc/a2aruntime/), environment variables prefixed A2ARUNTIME_, and
// defaults, in that order.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath behaves like Load but also searches configPath for
// config.yaml, taking precedence over the current directory and
// /etc/a2aruntime/.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("A2ARUNTIME")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/a2aruntime/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.basePath", "/a2a")

	v.SetDefault("store.backend", "memory")
	v.SetDefault("store.ttlSeconds", 86400)

	v.SetDefault("dispatch.responseWindowMillis", 500)
	v.SetDefault("dispatch.perMinute", 600)

	v.SetDefault("model.provider", "anthropic")
	v.SetDefault("model.name", "claude-sonnet-4-20250514")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
