// Package config layers application settings: baked-in defaults, then an
// optional YAML file, then environment variables (optionally from .env).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load reads the .env file from the current working directory and sets
// environment variables. If .env does not exist, Load returns an error but
// callers can ignore it and use system env or defaults.
func Load(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	return godotenv.Load(paths...)
}

// File mirrors the optional YAML config file. Every field has an environment
// override; see the GetEnv* accessors used in main.
type File struct {
	SegmentPort   string `yaml:"segment_port"`
	ControlPort   string `yaml:"control_port"`
	DataDir       string `yaml:"data_dir"`
	PublicBaseURL string `yaml:"public_base_url"`

	Transcoder struct {
		Binary         string `yaml:"binary"`
		MaxRetries     int    `yaml:"max_retries"`
		BackoffUnit    string `yaml:"backoff_unit"`
		PollInterval   string `yaml:"poll_interval"`
		PollAttempts   int    `yaml:"poll_attempts"`
		SegmentSeconds int    `yaml:"segment_seconds"`
		WindowSize     int    `yaml:"window_size"`
	} `yaml:"transcoder"`

	API struct {
		Key        string `yaml:"key"`
		Enabled    bool   `yaml:"enabled"`
		RateLimit  int    `yaml:"rate_limit"`
		RateWindow string `yaml:"rate_window"`
	} `yaml:"api"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// LoadFile parses a YAML config file. A missing file is not an error; the
// zero File is returned so env vars and defaults take over.
func LoadFile(path string) (File, error) {
	var f File
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return f, nil
		}
		return f, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return f, nil
}

// GetEnv returns the value of the environment variable named by key, or
// fallback if the variable is unset or empty.
func GetEnv(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}

// GetEnvInt returns the integer value of the environment variable named by
// key, or fallback if the variable is unset, empty, or not a valid integer.
func GetEnvInt(key string, fallback int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return fallback
}

// GetEnvBool returns the boolean value of the environment variable named by
// key, or fallback if the variable is unset, empty, or not a valid boolean.
func GetEnvBool(key string, fallback bool) bool {
	if s := os.Getenv(key); s != "" {
		if b, err := strconv.ParseBool(s); err == nil {
			return b
		}
	}
	return fallback
}

// GetEnvDuration returns the duration value of the environment variable named
// by key, or fallback if the variable is unset, empty, or not parseable.
func GetEnvDuration(key string, fallback time.Duration) time.Duration {
	if s := os.Getenv(key); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			return d
		}
	}
	return fallback
}

// FirstNonEmpty returns the first non-empty string, for layering the YAML
// file's values under the defaults.
func FirstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// ParseDuration parses a Go duration string ("2s", "15m"), returning fallback
// for an empty or malformed value. Duration-typed YAML fields are kept as
// strings and funneled through here.
func ParseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return fallback
}
