package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"chatsync/internal/bus"
	"chatsync/internal/config"
	"chatsync/internal/domain"
	"chatsync/internal/events"
	"chatsync/internal/notifications"
)

// NotificationService listens to bus events and emits user-facing notifications.
type NotificationService struct {
	bus           bus.MessageBus
	store         *domain.ConversationStore
	currentConfig func() config.AppConfig
	sender        notifications.Sender
	logger        *slog.Logger

	connStatusMu     sync.Mutex
	lastConnState    events.ConnectionState
	lastConnStateSet bool
}

func NewNotificationService(
	messageBus bus.MessageBus,
	store *domain.ConversationStore,
	currentConfig func() config.AppConfig,
	sender notifications.Sender,
	logger *slog.Logger,
) *NotificationService {
	if logger == nil {
		logger = slog.Default().With("component", "app.notifications")
	}

	return &NotificationService{
		bus:           messageBus,
		store:         store,
		currentConfig: currentConfig,
		sender:        sender,
		logger:        logger,
	}
}

func (s *NotificationService) Start(ctx context.Context) {
	if s == nil || s.bus == nil || s.sender == nil {
		return
	}

	messageSub := s.bus.Subscribe(events.TopicMessageCreated)
	connSub := s.bus.Subscribe(events.TopicConnStatus)

	go func() {
		defer s.bus.Unsubscribe(messageSub)
		defer s.bus.Unsubscribe(connSub)

		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-messageSub:
				if !ok {
					return
				}
				msg, ok := raw.(domain.Message)
				if !ok {
					continue
				}
				s.handleIncomingMessage(msg)
			case raw, ok := <-connSub:
				if !ok {
					return
				}
				status, ok := raw.(events.ConnectionStatus)
				if !ok {
					continue
				}
				s.handleConnectionStatus(status)
			}
		}
	}()
}

func (s *NotificationService) handleIncomingMessage(msg domain.Message) {
	prefs := s.notificationPrefs()
	if !prefs.Enabled || !prefs.IncomingMessage {
		return
	}
	if msg.SenderID == s.store.SelfID() {
		return
	}
	if msg.ConversationID == s.store.ActiveConversation() && !prefs.NotifyActiveChat {
		return
	}

	senderName := strings.TrimSpace(msg.SenderName)
	if senderName == "" {
		senderName = s.participantName(msg.ConversationID, msg.SenderID)
	}
	if senderName == "" {
		senderName = "unknown"
	}
	body := strings.TrimSpace(msg.Content)
	if body == "" && msg.Attachment != nil {
		body = msg.Attachment.Filename
	}
	if body == "" {
		body = "(empty)"
	}

	s.send(notifications.Payload{
		Title:   "@" + senderName,
		Content: body,
	})
}

func (s *NotificationService) handleConnectionStatus(status events.ConnectionStatus) {
	prefs := s.notificationPrefs()
	if status.State == "" {
		return
	}

	s.connStatusMu.Lock()
	if s.lastConnStateSet && s.lastConnState == status.State {
		s.connStatusMu.Unlock()

		return
	}
	s.lastConnState = status.State
	s.lastConnStateSet = true
	s.connStatusMu.Unlock()

	if status.State != events.ConnectionStateConnected &&
		status.State != events.ConnectionStateDisconnected {
		return
	}
	if !prefs.Enabled || !prefs.ConnectionStatus {
		return
	}

	details := ""
	if status.Scope != "" {
		details = "conversation " + status.Scope
	}
	if status.State == events.ConnectionStateDisconnected {
		if errText := strings.TrimSpace(status.Err); errText != "" {
			details = strings.TrimSpace(fmt.Sprintf("%s (error: %s)", details, errText))
		}
		if status.Terminal {
			details = strings.TrimSpace(details + " - reconnect attempts exhausted")
		}
	}
	if details == "" {
		details = "No connection details"
	}

	s.send(notifications.Payload{
		Title:   fmt.Sprintf("%s - %s", Name, status.State),
		Content: details,
	})
}

func (s *NotificationService) notificationPrefs() config.NotificationConfig {
	cfg := config.Default()
	if s.currentConfig != nil {
		cfg = s.currentConfig()
		cfg.FillMissingDefaults()
	}

	return cfg.Notifications
}

func (s *NotificationService) participantName(conversationID, userID string) string {
	if s.store == nil {
		return ""
	}
	conv, ok := s.store.Conversation(conversationID)
	if !ok {
		return ""
	}
	for _, p := range conv.Participants {
		if p.ID == userID {
			return strings.TrimSpace(p.Name)
		}
	}
	return ""
}

func (s *NotificationService) send(notification notifications.Payload) {
	title := strings.TrimSpace(notification.Title)
	content := strings.TrimSpace(notification.Content)
	if title == "" && content == "" {
		return
	}
	s.logger.Debug("sending notification", "title", title)
	s.sender.Send(notifications.Payload{
		Title:   title,
		Content: content,
	})
}
