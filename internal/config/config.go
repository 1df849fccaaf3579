// Package config handles pushdeck configuration loading and validation.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config is the root configuration structure for pushdeck.
type Config struct {
	// Server connection settings
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Stream settings for the push channel and its reconnect policy
	Stream StreamConfig `yaml:"stream" mapstructure:"stream"`

	// Messages settings for paged loading
	Messages MessagesConfig `yaml:"messages" mapstructure:"messages"`

	// Undo settings for optimistic deletes
	Undo UndoConfig `yaml:"undo" mapstructure:"undo"`

	// Logging settings
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`

	// TUI settings
	TUI TUIConfig `yaml:"tui" mapstructure:"tui"`
}

// ServerConfig identifies the push-notification server.
type ServerConfig struct {
	// URL is the server base URL (http or https).
	URL string `yaml:"url" mapstructure:"url"`

	// Token is the client token used as bearer credential.
	Token string `yaml:"token" mapstructure:"token"`

	// RequestTimeout bounds a single REST request.
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout"`
}

// StreamConfig contains push channel settings.
type StreamConfig struct {
	// BackoffBase is the delay before the first reconnect attempt.
	BackoffBase time.Duration `yaml:"backoff_base" mapstructure:"backoff_base"`

	// BackoffMax caps the doubling reconnect delay.
	BackoffMax time.Duration `yaml:"backoff_max" mapstructure:"backoff_max"`

	// DialTimeout bounds opening the channel.
	DialTimeout time.Duration `yaml:"dial_timeout" mapstructure:"dial_timeout"`
}

// MessagesConfig contains message store settings.
type MessagesConfig struct {
	// PageSize is the number of messages requested per page.
	PageSize int `yaml:"page_size" mapstructure:"page_size"`
}

// UndoConfig contains optimistic delete settings.
type UndoConfig struct {
	// Window is how long a delete can be undone.
	Window time.Duration `yaml:"window" mapstructure:"window"`

	// FinalizeTimeout bounds the remote delete issued when a window closes.
	FinalizeTimeout time.Duration `yaml:"finalize_timeout" mapstructure:"finalize_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `yaml:"level" mapstructure:"level"`

	// Format is the output format (json, console).
	Format string `yaml:"format" mapstructure:"format"`

	// File is an optional log file path.
	File string `yaml:"file" mapstructure:"file"`

	// EnableCaller adds caller information to logs.
	EnableCaller bool `yaml:"enable_caller" mapstructure:"enable_caller"`
}

// TUIConfig contains TUI settings.
type TUIConfig struct {
	// Theme is the color theme (default, high-contrast).
	Theme string `yaml:"theme" mapstructure:"theme"`

	// ShowTimestamps shows message dates in the list.
	ShowTimestamps bool `yaml:"show_timestamps" mapstructure:"show_timestamps"`

	// LogFile receives log output while the TUI owns the terminal.
	LogFile string `yaml:"log_file" mapstructure:"log_file"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		Server: ServerConfig{
			URL:            "http://127.0.0.1:8080",
			RequestTimeout: 15 * time.Second,
		},
		Stream: StreamConfig{
			BackoffBase: 7500 * time.Millisecond,
			BackoffMax:  120 * time.Second,
			DialTimeout: 10 * time.Second,
		},
		Messages: MessagesConfig{
			PageSize: 100,
		},
		Undo: UndoConfig{
			Window:          5 * time.Second,
			FinalizeTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		TUI: TUIConfig{
			Theme:          "default",
			ShowTimestamps: true,
			LogFile:        filepath.Join(homeDir, ".local", "state", "pushdeck", "tui.log"),
		},
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	u, err := url.Parse(strings.TrimSpace(c.Server.URL))
	if err != nil || u.Host == "" {
		return fmt.Errorf("server.url must be an absolute URL, got %q", c.Server.URL)
	}
	switch u.Scheme {
	case "http", "https":
	default:
		return fmt.Errorf("server.url scheme must be http or https, got %q", u.Scheme)
	}

	if c.Server.RequestTimeout < 100*time.Millisecond {
		return fmt.Errorf("server.request_timeout must be at least 100ms")
	}

	if c.Stream.BackoffBase <= 0 {
		return fmt.Errorf("stream.backoff_base must be positive")
	}
	if c.Stream.BackoffMax < c.Stream.BackoffBase {
		return fmt.Errorf("stream.backoff_max must be >= stream.backoff_base")
	}

	if c.Messages.PageSize < 1 || c.Messages.PageSize > 200 {
		return fmt.Errorf("messages.page_size must be between 1 and 200")
	}

	if c.Undo.Window < 0 {
		return fmt.Errorf("undo.window must not be negative")
	}

	switch c.TUI.Theme {
	case "default", "high-contrast":
	default:
		return fmt.Errorf("tui.theme must be one of default, high-contrast")
	}

	return nil
}
