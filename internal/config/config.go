// Package config loads picstream settings from a TOML file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds everything needed to wire the client.
type Config struct {
	APIBaseURL string   `toml:"api_base_url"`
	Timeout    Duration `toml:"timeout"`
	// RequestsPerSecond limits calls to the API. Zero disables the limit.
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`

	// DatabasePath is the SQLite file holding the session token.
	DatabasePath string `toml:"database_path"`
	// PostgresDSN switches token storage to PostgreSQL when set.
	PostgresDSN string `toml:"postgres_dsn"`

	ListenAddr string `toml:"listen_addr"`
	LogLevel   string `toml:"log_level"`
	// Trace selects the span exporter: "none" or "stdout".
	Trace string `toml:"trace"`
}

// Duration lets TOML carry values like "30s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		APIBaseURL:   "http://localhost:8000",
		Timeout:      Duration{30 * time.Second},
		Burst:        1,
		DatabasePath: filepath.Join(defaultDir(), "picstream.db"),
		ListenAddr:   "127.0.0.1:5173",
		LogLevel:     "info",
		Trace:        "none",
	}
}

// DefaultPath is where Load looks when no path is given.
func DefaultPath() string {
	return filepath.Join(defaultDir(), "config.toml")
}

func defaultDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "picstream")
	}
	return ".picstream"
}

// Load reads path over the defaults. A missing file at the default path is
// not an error; a missing file the caller named explicitly is.
func Load(path string) (Config, error) {
	cfg := Default()
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("load config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return cfg, fmt.Errorf("load config %s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	return cfg, cfg.Validate()
}

// Validate checks values that would otherwise fail late.
func (c Config) Validate() error {
	if c.APIBaseURL == "" {
		return errors.New("api_base_url is required")
	}
	if c.Timeout.Duration < 0 {
		return errors.New("timeout must not be negative")
	}
	if c.RequestsPerSecond < 0 {
		return errors.New("requests_per_second must not be negative")
	}
	if c.DatabasePath == "" && c.PostgresDSN == "" {
		return errors.New("one of database_path or postgres_dsn is required")
	}
	switch c.Trace {
	case "", "none", "stdout":
	default:
		return fmt.Errorf("trace %q: must be none or stdout", c.Trace)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses LogLevel.
func (c Config) Level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log_level %q: %w", c.LogLevel, err)
	}
	return lvl, nil
}
