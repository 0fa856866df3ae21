package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("load missing file: %v", err)
	}
	if cfg.Session.BackoffCapSeconds != DefaultBackoffCapSeconds {
		t.Fatalf("expected default backoff cap, got %d", cfg.Session.BackoffCapSeconds)
	}
	if cfg.Logging.Level != "info" {
		t.Fatalf("expected default log level info, got %q", cfg.Logging.Level)
	}
}

func TestLoad_FillsMissingSessionDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	raw := `{"server":{"base_url":"https://api.example.com"},"session":{"backoff_floor_seconds":2}}`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Session.BackoffFloorSeconds != 2 {
		t.Fatalf("expected floor 2, got %d", cfg.Session.BackoffFloorSeconds)
	}
	if cfg.Session.BackoffCapSeconds != DefaultBackoffCapSeconds {
		t.Fatalf("expected default cap, got %d", cfg.Session.BackoffCapSeconds)
	}
	if cfg.Session.TypingStopMillis != DefaultTypingStopMillis {
		t.Fatalf("expected default typing window, got %d", cfg.Session.TypingStopMillis)
	}
}

func TestLoad_DerivesWebSocketURLFromBaseURL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	raw := `{"server":{"base_url":"https://api.example.com/v1/"}}`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if got := cfg.Server.WebSocketURL; got != "wss://api.example.com/v1/ws" {
		t.Fatalf("unexpected derived websocket url: %q", got)
	}
}

func TestValidate_RejectsNonWebSocketScheme(t *testing.T) {
	cfg := Default()
	cfg.Server.BaseURL = "https://api.example.com"
	cfg.Server.WebSocketURL = "https://api.example.com/ws"

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected scheme validation error")
	}
}

func TestValidate_RejectsCapBelowFloor(t *testing.T) {
	cfg := Default()
	cfg.Server.BaseURL = "https://api.example.com"
	cfg.Server.WebSocketURL = "wss://api.example.com/ws"
	cfg.Session.BackoffFloorSeconds = 10
	cfg.Session.BackoffCapSeconds = 5

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected backoff validation error")
	}
}

func TestSaveAndLoad_Roundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg := Default()
	cfg.Server.BaseURL = "https://api.example.com"
	cfg.Server.WebSocketURL = "wss://api.example.com/ws"
	cfg.Server.AccessToken = "tok-123"
	cfg.Session.MaxReconnectAttempts = 3

	if err := Save(path, cfg); err != nil {
		t.Fatalf("save config: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if loaded.Server.AccessToken != "tok-123" {
		t.Fatalf("unexpected token after roundtrip: %q", loaded.Server.AccessToken)
	}
	if loaded.Session.MaxReconnectAttempts != 3 {
		t.Fatalf("unexpected attempts after roundtrip: %d", loaded.Session.MaxReconnectAttempts)
	}
}
