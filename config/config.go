package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/sirupsen/logrus"
	yamlv3 "gopkg.in/yaml.v3"
)

// DefaultPath is the config file looked up when --config is not given.
const DefaultPath = ".library-console.yml"

// EnvPrefix prefixes environment overrides: LIBCONSOLE_SERVER_URL -> server_url.
const EnvPrefix = "LIBCONSOLE_"

// Config holds the client settings, corresponding to .library-console.yml.
type Config struct {
	ServerURL      string        `yaml:"server_url" koanf:"server_url"`
	APIPrefix      string        `yaml:"api_prefix" koanf:"api_prefix"`
	RequestTimeout time.Duration `yaml:"request_timeout" koanf:"request_timeout"`
	MessageTTL     time.Duration `yaml:"message_ttl" koanf:"message_ttl"`
	LogLevel       string        `yaml:"log_level" koanf:"log_level"`
	DateFormat     string        `yaml:"date_format" koanf:"date_format"`
}

// DefaultConfig returns the settings used when nothing else is configured.
// A zero RequestTimeout means requests never time out.
func DefaultConfig() *Config {
	return &Config{
		ServerURL:  "http://localhost:5000",
		APIPrefix:  "/api",
		MessageTTL: 5 * time.Second,
		LogLevel:   "warn",
		DateFormat: "2006-01-02",
	}
}

// Load reads configuration from the given YAML file, then overlays
// environment variable overrides (LIBCONSOLE_*).
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	cfg := DefaultConfig()

	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("accessing config %s: %w", path, err)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env overrides: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration to the given YAML file path.
// Durations are written in their string form ("5s") so the file stays editable.
func (c *Config) Save(path string) error {
	out := struct {
		ServerURL      string `yaml:"server_url"`
		APIPrefix      string `yaml:"api_prefix"`
		RequestTimeout string `yaml:"request_timeout"`
		MessageTTL     string `yaml:"message_ttl"`
		LogLevel       string `yaml:"log_level"`
		DateFormat     string `yaml:"date_format"`
	}{
		ServerURL:      c.ServerURL,
		APIPrefix:      c.APIPrefix,
		RequestTimeout: c.RequestTimeout.String(),
		MessageTTL:     c.MessageTTL.String(),
		LogLevel:       c.LogLevel,
		DateFormat:     c.DateFormat,
	}
	data, err := yamlv3.Marshal(out)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Validate checks that the configuration contains usable values.
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("server_url is required")
	}
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return fmt.Errorf("invalid server_url %q: %w", c.ServerURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid server_url %q: scheme must be http or https", c.ServerURL)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid server_url %q: host is required", c.ServerURL)
	}

	if c.APIPrefix != "" && !strings.HasPrefix(c.APIPrefix, "/") {
		return fmt.Errorf("api_prefix %q must start with /", c.APIPrefix)
	}

	if c.RequestTimeout < 0 {
		return fmt.Errorf("request_timeout must be non-negative")
	}
	if c.MessageTTL <= 0 {
		return fmt.Errorf("message_ttl must be positive")
	}

	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level %q: %w", c.LogLevel, err)
	}

	if c.DateFormat == "" {
		return fmt.Errorf("date_format is required")
	}

	return nil
}
