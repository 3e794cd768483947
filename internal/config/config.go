// Package config loads the server configuration from defaults, an optional config file and
// the environment, in increasing order of priority. Command-line flags are applied on top by
// the caller.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the complete server configuration.
type Config struct {
	Host            string `koanf:"host"`
	Port            int    `koanf:"port"`
	MessageEndpoint string `koanf:"message-endpoint"`

	KeepAliveInterval time.Duration `koanf:"keepalive-interval"`
	MaxMessageBytes   int64         `koanf:"max-message-bytes"`
	ShutdownTimeout   time.Duration `koanf:"shutdown-timeout"`

	ServerName    string `koanf:"server-name"`
	ServerVersion string `koanf:"server-version"`

	LogLevel  string `koanf:"log-level"`
	LogFormat string `koanf:"log-format"`
	LogFile   string `koanf:"log-file"`
}

// EnvPrefix prefixes every environment variable except PORT and MESSAGE_ENDPOINT, which are
// read unprefixed for compatibility with common hosting platforms.
const EnvPrefix = "TEXTUTILS_"

const (
	defaultPort            = 8081
	defaultMessageEndpoint = "/message"
)

var (
	// ErrInvalidConfig is wrapped by every validation failure.
	ErrInvalidConfig = errors.New("invalid config")

	unprefixedEnv = map[string]string{
		"PORT":             "port",
		"MESSAGE_ENDPOINT": "message-endpoint",
	}
)

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Host:              "",
		Port:              defaultPort,
		MessageEndpoint:   defaultMessageEndpoint,
		KeepAliveInterval: 30 * time.Second,
		MaxMessageBytes:   4 << 20,
		ShutdownTimeout:   10 * time.Second,
		ServerName:        "text-utilities-mcp",
		ServerVersion:     "1.0.0",
		LogLevel:          "info",
		LogFormat:         "text",
	}
}

// Load builds the configuration. path names an optional JSON or YAML file; an empty path
// skips the file. Environment variables override the file.
func Load(path string) (Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := loadFile(k, path); err != nil {
			return Config{}, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.ProviderWithValue("", ".", envKey), nil); err != nil {
		return Config{}, fmt.Errorf("error loading environment variables: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Addr returns the listen address in host:port form.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate reports the first setting that cannot be used.
func (c Config) Validate() error {
	switch {
	case c.Port < 0 || c.Port > 65535:
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, c.Port)
	case c.MessageEndpoint == "":
		return fmt.Errorf("%w: message endpoint is empty", ErrInvalidConfig)
	case c.KeepAliveInterval <= 0:
		return fmt.Errorf("%w: keepalive interval must be positive", ErrInvalidConfig)
	case c.MaxMessageBytes <= 0:
		return fmt.Errorf("%w: max message bytes must be positive", ErrInvalidConfig)
	case c.ShutdownTimeout <= 0:
		return fmt.Errorf("%w: shutdown timeout must be positive", ErrInvalidConfig)
	}

	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("%w: unknown log format %q", ErrInvalidConfig, c.LogFormat)
	}

	return nil
}

func loadFile(k *koanf.Koanf, path string) error {
	var parser koanf.Parser
	switch filepath.Ext(path) {
	case ".json":
		parser = json.Parser()
	case ".yaml", ".yml":
		parser = yaml.Parser()
	default:
		return errors.New("config file must be .json, .yaml or .yml")
	}

	return k.Load(file.Provider(path), parser)
}

// envKey maps an environment variable to its config key. Returning an empty key makes koanf
// skip the variable, which is also done for empty values.
//
//	PORT                          -> port
//	TEXTUTILS_KEEPALIVE_INTERVAL  -> keepalive-interval
func envKey(key, value string) (string, any) {
	if value == "" {
		return "", nil
	}
	if k, ok := unprefixedEnv[key]; ok {
		return k, value
	}
	if !strings.HasPrefix(key, EnvPrefix) {
		return "", nil
	}
	return strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(key, EnvPrefix), "_", "-")), value
}
