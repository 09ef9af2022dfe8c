// Package config loads the cdpd daemon settings from TOML.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap/zapcore"

	"github.com/risa-org/cdp/serializer"
)

// Config is the resolved daemon configuration.
type Config struct {
	WebSocketAddr string
	WebSocketPath string
	TCPAddr       string
	MetricsAddr   string

	LogLevel       string
	LogDevelopment bool

	Serializer     string
	CaptureStacks  bool
	HandlerTimeout time.Duration
	RateLimit      float64
	RateBurst      int
}

// cdpd config.toml key mapping.
type fileConfig struct {
	WebSocketAddr  string  `toml:"websocket_addr"`
	WebSocketPath  string  `toml:"websocket_path"`
	TCPAddr        string  `toml:"tcp_addr"`
	MetricsAddr    string  `toml:"metrics_addr"`
	LogLevel       string  `toml:"log_level"`
	LogDevelopment bool    `toml:"log_development"`
	Serializer     string  `toml:"serializer"`
	CaptureStacks  bool    `toml:"capture_stacks"`
	HandlerTimeout string  `toml:"handler_timeout"`
	RateLimit      float64 `toml:"rate_limit"`
	RateBurst      int     `toml:"rate_burst"`
}

func Default() Config {
	return Config{
		WebSocketAddr:  "127.0.0.1:9222",
		WebSocketPath:  "/devtools",
		LogLevel:       "info",
		Serializer:     "json",
		HandlerTimeout: 30 * time.Second,
	}
}

// Load overlays the keys present in the TOML file at path on Default and
// validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load cdpd config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("load cdpd config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("websocket_addr") {
		cfg.WebSocketAddr = strings.TrimSpace(raw.WebSocketAddr)
	}
	if meta.IsDefined("websocket_path") {
		cfg.WebSocketPath = strings.TrimSpace(raw.WebSocketPath)
	}
	if meta.IsDefined("tcp_addr") {
		cfg.TCPAddr = strings.TrimSpace(raw.TCPAddr)
	}
	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("log_development") {
		cfg.LogDevelopment = raw.LogDevelopment
	}
	if meta.IsDefined("serializer") {
		cfg.Serializer = strings.ToLower(strings.TrimSpace(raw.Serializer))
	}
	if meta.IsDefined("capture_stacks") {
		cfg.CaptureStacks = raw.CaptureStacks
	}
	if meta.IsDefined("handler_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.HandlerTimeout))
		if err != nil {
			return Config{}, fmt.Errorf("load cdpd config: handler_timeout: %w", err)
		}
		cfg.HandlerTimeout = d
	}
	if meta.IsDefined("rate_limit") {
		cfg.RateLimit = raw.RateLimit
	}
	if meta.IsDefined("rate_burst") {
		cfg.RateBurst = raw.RateBurst
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("load cdpd config: %w", err)
	}
	return cfg, nil
}

// Validate reports the first setting that cannot be used.
func (c Config) Validate() error {
	if c.WebSocketAddr == "" && c.TCPAddr == "" {
		return errors.New("at least one of websocket_addr and tcp_addr is required")
	}
	if c.WebSocketAddr != "" && !strings.HasPrefix(c.WebSocketPath, "/") {
		return fmt.Errorf("websocket_path %q must start with /", c.WebSocketPath)
	}
	if _, ok := serializer.ByName(c.Serializer); !ok {
		return fmt.Errorf("unsupported serializer %q (expected json or cbor)", c.Serializer)
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if c.HandlerTimeout < 0 {
		return fmt.Errorf("handler_timeout %s must not be negative", c.HandlerTimeout)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate_limit %v must not be negative", c.RateLimit)
	}
	if c.RateLimit > 0 && c.RateBurst < 1 {
		return errors.New("rate_burst must be at least 1 when rate_limit is set")
	}
	return nil
}
