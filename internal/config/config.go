package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

const (
	DefaultBackoffFloorSeconds   = 1
	DefaultBackoffCapSeconds     = 15
	DefaultMaxReconnectAttempts  = 10
	DefaultKeepaliveSeconds      = 25
	DefaultWriteTimeoutSeconds   = 8
	DefaultTypingStopMillis      = 2000
	DefaultPendingTimeoutSeconds = 30
)

// LoggingConfig defines runtime logging behavior.
type LoggingConfig struct {
	Level     string `json:"level"`
	LogToFile bool   `json:"log_to_file"`
}

// ServerConfig locates the messaging backend and carries the access token
// used on both REST calls and the WebSocket handshake.
type ServerConfig struct {
	BaseURL      string `json:"base_url"`
	WebSocketURL string `json:"websocket_url"`
	AccessToken  string `json:"access_token"`
}

// SessionConfig tunes the reconnect loop and the facade timers.
type SessionConfig struct {
	BackoffFloorSeconds   int `json:"backoff_floor_seconds"`
	BackoffCapSeconds     int `json:"backoff_cap_seconds"`
	MaxReconnectAttempts  int `json:"max_reconnect_attempts"`
	KeepaliveSeconds      int `json:"keepalive_seconds"`
	WriteTimeoutSeconds   int `json:"write_timeout_seconds"`
	TypingStopMillis      int `json:"typing_stop_millis"`
	PendingTimeoutSeconds int `json:"pending_timeout_seconds"`
}

// NotificationConfig stores desktop notification preferences.
type NotificationConfig struct {
	Enabled          bool `json:"enabled"`
	IncomingMessage  bool `json:"incoming_message"`
	ConnectionStatus bool `json:"connection_status"`
	NotifyActiveChat bool `json:"notify_active_chat"`
}

// UserConfig identifies the local account; the id must match the sender id
// the backend stamps on this user's messages.
type UserConfig struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// AppConfig is the root persisted application configuration.
type AppConfig struct {
	User          UserConfig         `json:"user"`
	Server        ServerConfig       `json:"server"`
	Session       SessionConfig      `json:"session"`
	Logging       LoggingConfig      `json:"logging"`
	Notifications NotificationConfig `json:"notifications"`
}

func Default() AppConfig {
	return AppConfig{
		Server: ServerConfig{},
		Session: SessionConfig{
			BackoffFloorSeconds:   DefaultBackoffFloorSeconds,
			BackoffCapSeconds:     DefaultBackoffCapSeconds,
			MaxReconnectAttempts:  DefaultMaxReconnectAttempts,
			KeepaliveSeconds:      DefaultKeepaliveSeconds,
			WriteTimeoutSeconds:   DefaultWriteTimeoutSeconds,
			TypingStopMillis:      DefaultTypingStopMillis,
			PendingTimeoutSeconds: DefaultPendingTimeoutSeconds,
		},
		Logging: LoggingConfig{
			Level:     "info",
			LogToFile: false,
		},
		Notifications: NotificationConfig{
			Enabled:          true,
			IncomingMessage:  true,
			ConnectionStatus: true,
			NotifyActiveChat: false,
		},
	}
}

func Load(path string) (AppConfig, error) {
	cfg := Default()
	cleanPath := filepath.Clean(path)
	// #nosec G304 -- path is resolved by app runtime and points to user config dir.
	raw, err := os.ReadFile(cleanPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}

		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}

	if err := json.Unmarshal(raw, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("decode config json: %w", err)
	}

	cfg.FillMissingDefaults()

	return cfg, nil
}

func (c *AppConfig) FillMissingDefaults() {
	if c.Session.BackoffFloorSeconds <= 0 {
		c.Session.BackoffFloorSeconds = DefaultBackoffFloorSeconds
	}
	if c.Session.BackoffCapSeconds < c.Session.BackoffFloorSeconds {
		c.Session.BackoffCapSeconds = DefaultBackoffCapSeconds
	}
	if c.Session.MaxReconnectAttempts <= 0 {
		c.Session.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.Session.KeepaliveSeconds <= 0 {
		c.Session.KeepaliveSeconds = DefaultKeepaliveSeconds
	}
	if c.Session.WriteTimeoutSeconds <= 0 {
		c.Session.WriteTimeoutSeconds = DefaultWriteTimeoutSeconds
	}
	if c.Session.TypingStopMillis <= 0 {
		c.Session.TypingStopMillis = DefaultTypingStopMillis
	}
	if c.Session.PendingTimeoutSeconds <= 0 {
		c.Session.PendingTimeoutSeconds = DefaultPendingTimeoutSeconds
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Server.WebSocketURL == "" && c.Server.BaseURL != "" {
		c.Server.WebSocketURL = deriveWebSocketURL(c.Server.BaseURL)
	}
}

func deriveWebSocketURL(baseURL string) string {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return ""
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"

	return u.String()
}

func (c AppConfig) Validate() error {
	if strings.TrimSpace(c.Server.BaseURL) == "" {
		return errors.New("server base url is required")
	}
	if _, err := url.Parse(c.Server.BaseURL); err != nil {
		return fmt.Errorf("invalid server base url: %w", err)
	}
	if strings.TrimSpace(c.Server.WebSocketURL) == "" {
		return errors.New("websocket url is required")
	}
	wsURL, err := url.Parse(c.Server.WebSocketURL)
	if err != nil {
		return fmt.Errorf("invalid websocket url: %w", err)
	}
	if wsURL.Scheme != "ws" && wsURL.Scheme != "wss" {
		return fmt.Errorf("websocket url must use ws or wss scheme, got %q", wsURL.Scheme)
	}
	if c.Session.BackoffCapSeconds < c.Session.BackoffFloorSeconds {
		return errors.New("backoff cap must not be below backoff floor")
	}

	return nil
}

func Save(path string, cfg AppConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, raw, 0o600); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replace config: %w", err)
	}

	return nil
}
