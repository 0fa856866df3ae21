package app

import (
	"path/filepath"
	"testing"

	"chatsync/internal/config"
	"chatsync/internal/logging"
)

func newRuntimeForConfigTests(t *testing.T) *Runtime {
	t.Helper()

	dir := t.TempDir()
	cfg := config.Default()
	cfg.User.ID = "self"
	cfg.Server.BaseURL = "https://chat.example.com/api"
	cfg.FillMissingDefaults()

	return &Runtime{
		Paths: Paths{
			ConfigFile: filepath.Join(dir, ConfigFilename),
			LogFile:    filepath.Join(dir, LogFilename),
		},
		Config:     cfg,
		LogManager: logging.NewManager(),
	}
}

func TestRuntimeSaveAndApplyConfig_PersistsAndReloads(t *testing.T) {
	rt := newRuntimeForConfigTests(t)

	next := rt.Config
	next.Session.MaxReconnectAttempts = 3
	next.Logging.Level = "debug"

	if err := rt.SaveAndApplyConfig(next); err != nil {
		t.Fatalf("save and apply config: %v", err)
	}

	loaded, err := config.Load(rt.Paths.ConfigFile)
	if err != nil {
		t.Fatalf("reload config: %v", err)
	}
	if loaded.Session.MaxReconnectAttempts != 3 {
		t.Fatalf("saved config lost session tuning: %+v", loaded.Session)
	}
	if rt.CurrentConfig().Logging.Level != "debug" {
		t.Fatalf("runtime config not updated: %+v", rt.CurrentConfig().Logging)
	}
}

func TestRuntimeSaveAndApplyConfig_RejectsInvalidServerURL(t *testing.T) {
	rt := newRuntimeForConfigTests(t)

	bad := rt.Config
	bad.Server.BaseURL = ""
	bad.Server.WebSocketURL = ""

	if err := rt.SaveAndApplyConfig(bad); err == nil {
		t.Fatal("expected validation error for missing server url")
	}
	if rt.CurrentConfig().Server.BaseURL == "" {
		t.Fatal("invalid config must not replace the runtime config")
	}
}
