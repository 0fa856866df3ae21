package notifications

import (
	"log/slog"

	"github.com/gen2brain/beeep"
)

// DesktopSender delivers notifications through the OS notification daemon.
type DesktopSender struct {
	logger *slog.Logger
}

func NewDesktopSender(appName string, logger *slog.Logger) *DesktopSender {
	if logger == nil {
		logger = slog.Default().With("component", "notifications")
	}
	if appName != "" {
		beeep.AppName = appName
	}
	return &DesktopSender{logger: logger}
}

func (s *DesktopSender) Send(payload Payload) {
	if err := beeep.Notify(payload.Title, payload.Content, ""); err != nil {
		s.logger.Warn("desktop notification failed", "error", err)
	}
}

// NopSender discards notifications, used in headless runs.
type NopSender struct{}

func (NopSender) Send(Payload) {}
