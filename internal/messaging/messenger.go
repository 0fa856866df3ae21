// Package messaging is the public surface of the sync core. The Messenger
// coordinates the conversation store, the transport session, the outbox and
// the REST collaborators; UI layers talk to it and to the store, never to the
// socket directly.
package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatsync/internal/api"
	"chatsync/internal/domain"
	"chatsync/internal/protocol"
	"chatsync/internal/session"
)

// Transmitter is the slice of the transport session the facade drives.
type Transmitter interface {
	Connect(ctx context.Context, scope string)
	Disconnect()
	Send(payload []byte) bool
	Scope() string
}

// Config carries the facade timers and the local user identity.
type Config struct {
	SelfID         string
	SelfName       string
	TypingStop     time.Duration
	PendingTimeout time.Duration
}

func (c *Config) fillDefaults() {
	if c.TypingStop <= 0 {
		c.TypingStop = 2 * time.Second
	}
	if c.PendingTimeout <= 0 {
		c.PendingTimeout = 30 * time.Second
	}
}

type Messenger struct {
	logger        *slog.Logger
	store         *domain.ConversationStore
	transmitter   Transmitter
	outbox        *session.Outbox
	conversations api.ConversationAPI
	reactions     api.ReactionAPI
	uploader      api.Uploader
	cfg           Config

	mu            sync.Mutex
	typingTimer   *time.Timer
	typingConvID  string
	loadsInFlight map[string]bool
}

func NewMessenger(
	logger *slog.Logger,
	store *domain.ConversationStore,
	transmitter Transmitter,
	outbox *session.Outbox,
	conversations api.ConversationAPI,
	reactions api.ReactionAPI,
	uploader api.Uploader,
	cfg Config,
) *Messenger {
	if logger == nil {
		logger = slog.Default().With("component", "messaging")
	}
	cfg.fillDefaults()
	return &Messenger{
		logger:        logger,
		store:         store,
		transmitter:   transmitter,
		outbox:        outbox,
		conversations: conversations,
		reactions:     reactions,
		uploader:      uploader,
		cfg:           cfg,
		loadsInFlight: make(map[string]bool),
	}
}

// Start opens the global presence scope. Conversation scopes are opened by
// SetActiveConversation.
func (m *Messenger) Start(ctx context.Context) {
	m.transmitter.Connect(ctx, "")
}

// Close stops the typing timer and tears the session down.
func (m *Messenger) Close() {
	m.mu.Lock()
	if m.typingTimer != nil {
		m.typingTimer.Stop()
		m.typingTimer = nil
	}
	m.mu.Unlock()
	m.transmitter.Disconnect()
}

// SendMessage applies the optimistic update, uploads the attachment when one
// is present, then transmits or queues the send frame. The returned message
// is the optimistic entry; the server confirmation replaces it in place by
// correlation id. A user-authored message always ends up sent or failed.
func (m *Messenger) SendMessage(ctx context.Context, conversationID, content string, attachment *api.Upload) (domain.Message, error) {
	if strings.TrimSpace(conversationID) == "" {
		return domain.Message{}, fmt.Errorf("conversation id is required")
	}
	if strings.TrimSpace(content) == "" && attachment == nil {
		return domain.Message{}, fmt.Errorf("message is empty")
	}

	tempID := "tmp-" + uuid.NewString()
	msg := domain.Message{
		ID:             tempID,
		CorrelationID:  tempID,
		ConversationID: conversationID,
		Content:        content,
		SenderID:       m.cfg.SelfID,
		SenderName:     m.cfg.SelfName,
		Type:           messageTypeFor(attachment),
		Status:         domain.MessageStatusSending,
		CreatedAt:      time.Now(),
	}
	m.store.Dispatch(domain.AddMessage{Message: msg})

	if attachment != nil {
		url, err := m.uploader.Upload(ctx, *attachment)
		if err != nil {
			m.store.Dispatch(domain.SetMessageStatus{
				MessageID: tempID,
				Status:    domain.MessageStatusFailed,
				Reason:    "attachment upload failed",
			})
			return domain.Message{}, fmt.Errorf("upload attachment: %w", err)
		}
		msg.Attachment = &domain.Attachment{
			URL:      url,
			Filename: attachment.Filename,
			MimeType: attachment.MimeType,
			Size:     attachment.Size,
		}
		m.store.Dispatch(domain.AddMessage{Message: msg})
	}

	m.transmitOrQueue(msg)
	m.armPendingTimeout(tempID)

	return msg, nil
}

// Retry re-transmits a message that ended up failed. It is the explicit
// user-driven affordance; nothing retries failed messages automatically.
func (m *Messenger) Retry(messageID string) error {
	msg, ok := m.store.Message(messageID)
	if !ok {
		return fmt.Errorf("unknown message: %s", messageID)
	}
	if msg.Status != domain.MessageStatusFailed {
		return fmt.Errorf("message %s is not in failed state", messageID)
	}

	m.store.Dispatch(domain.SetMessageStatus{
		MessageID: msg.ID,
		Status:    domain.MessageStatusSending,
	})
	m.transmitOrQueue(msg)
	m.armPendingTimeout(msg.ID)
	return nil
}

func (m *Messenger) transmitOrQueue(msg domain.Message) {
	payload := protocol.SendMessagePayload{
		ConversationID: msg.ConversationID,
		CorrelationID:  msg.CorrelationID,
		Content:        msg.Content,
		MessageType:    msg.Type,
		Attachment:     msg.Attachment,
	}
	raw, err := protocol.EncodeFrame(protocol.TypeSendMessage, payload)
	if err != nil {
		m.logger.Error("encode send frame", "error", err)
		m.store.Dispatch(domain.SetMessageStatus{
			MessageID: msg.ID,
			Status:    domain.MessageStatusFailed,
			Reason:    "encode failed",
		})
		return
	}

	if m.transmitter.Send(raw) {
		return
	}
	m.logger.Debug("socket down, queueing message", "correlation_id", msg.CorrelationID)
	m.outbox.Enqueue(session.PendingFrame{
		CorrelationID: msg.CorrelationID,
		MessageID:     msg.ID,
		Payload:       raw,
	})
}

// armPendingTimeout flips a message that never got confirmed to failed so it
// cannot sit in "sending" forever. The queued frame is dropped along with it,
// otherwise an explicit retry would put a second copy of the same message on
// the wire after the next reconnect.
func (m *Messenger) armPendingTimeout(tempID string) {
	time.AfterFunc(m.cfg.PendingTimeout, func() {
		msg, ok := m.store.Message(tempID)
		if !ok || msg.Status != domain.MessageStatusSending {
			return
		}
		if m.outbox != nil {
			m.outbox.Remove(msg.CorrelationID, msg.ID)
		}
		m.store.Dispatch(domain.SetMessageStatus{
			MessageID: tempID,
			Status:    domain.MessageStatusFailed,
			Reason:    "no server confirmation",
		})
	})
}

// StartTyping emits a typing frame and arms the auto-stop timer. Calling it
// again re-arms the timer, so one stop frame goes out per typing burst even
// if the caller never stops explicitly.
func (m *Messenger) StartTyping(conversationID string) {
	m.sendTypingFrame(conversationID, true)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.typingConvID = conversationID
	if m.typingTimer != nil {
		m.typingTimer.Stop()
	}
	m.typingTimer = time.AfterFunc(m.cfg.TypingStop, func() {
		m.StopTyping(conversationID)
	})
}

func (m *Messenger) StopTyping(conversationID string) {
	m.mu.Lock()
	if m.typingTimer != nil && m.typingConvID == conversationID {
		m.typingTimer.Stop()
		m.typingTimer = nil
	}
	m.mu.Unlock()

	m.sendTypingFrame(conversationID, false)
}

func (m *Messenger) sendTypingFrame(conversationID string, isTyping bool) {
	raw, err := protocol.EncodeFrame(protocol.TypeTyping, protocol.TypingPayload{
		ConversationID: conversationID,
		UserID:         m.cfg.SelfID,
		Username:       m.cfg.SelfName,
		IsTyping:       isTyping,
	})
	if err != nil {
		m.logger.Error("encode typing frame", "error", err)
		return
	}
	// Typing is ephemeral; a frame lost while disconnected is not queued.
	m.transmitter.Send(raw)
}

// MarkAsRead acknowledges one message. Marking an already-read message does
// not error and changes nothing.
func (m *Messenger) MarkAsRead(conversationID, messageID string) {
	m.store.Dispatch(domain.MarkMessageRead{ConversationID: conversationID, MessageID: messageID})

	raw, err := protocol.EncodeFrame(protocol.TypeMarkRead, protocol.MarkReadPayload{
		ConversationID: conversationID,
		MessageID:      messageID,
	})
	if err != nil {
		m.logger.Error("encode mark_read frame", "error", err)
		return
	}
	m.transmitter.Send(raw)
}

// MarkConversationRead acknowledges every unread message, which is the only
// path that brings the unread counter back to zero.
func (m *Messenger) MarkConversationRead(conversationID string) {
	for _, id := range m.store.UnreadMessageIDs(conversationID) {
		m.MarkAsRead(conversationID, id)
	}
}

// LoadMoreMessages fetches the next older history page. It is a no-op while
// a load is in flight or when no more history exists.
func (m *Messenger) LoadMoreMessages(ctx context.Context, conversationID string) error {
	if !m.store.HasMore(conversationID) {
		return nil
	}
	if !m.beginLoad(conversationID) {
		return nil
	}
	defer m.endLoad(conversationID)

	m.store.Dispatch(domain.BeginLoadingMore{ConversationID: conversationID})
	page, err := m.conversations.GetMessages(ctx, conversationID, m.store.OldestMessageID(conversationID))
	if err != nil {
		m.store.Dispatch(domain.SetError{ConversationID: conversationID, Err: err.Error()})
		return fmt.Errorf("load more messages: %w", err)
	}
	m.store.Dispatch(domain.AppendHistory{ConversationID: conversationID, Page: page})
	return nil
}

// SetActiveConversation switches the live-update scope. The previous scoped
// socket is fully torn down before the new one dials; passing the empty
// string falls back to the presence-only scope.
func (m *Messenger) SetActiveConversation(ctx context.Context, conversationID string) error {
	m.mu.Lock()
	if m.typingTimer != nil {
		m.typingTimer.Stop()
		m.typingTimer = nil
	}
	m.mu.Unlock()

	m.transmitter.Disconnect()
	m.store.Dispatch(domain.SetActive{ConversationID: conversationID})
	m.transmitter.Connect(ctx, conversationID)

	if conversationID == "" {
		return nil
	}
	if m.store.LoadState(conversationID) != domain.LoadStateNone {
		return nil
	}
	return m.loadInitial(ctx, conversationID)
}

// beginLoad marks a history fetch in flight for the conversation; it returns
// false when one is already running so the fetch is skipped.
func (m *Messenger) beginLoad(conversationID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadsInFlight[conversationID] {
		return false
	}
	m.loadsInFlight[conversationID] = true
	return true
}

func (m *Messenger) endLoad(conversationID string) {
	m.mu.Lock()
	delete(m.loadsInFlight, conversationID)
	m.mu.Unlock()
}

func (m *Messenger) loadInitial(ctx context.Context, conversationID string) error {
	if !m.beginLoad(conversationID) {
		return nil
	}
	defer m.endLoad(conversationID)

	m.store.Dispatch(domain.BeginLoadingMore{ConversationID: conversationID})
	page, err := m.conversations.GetMessages(ctx, conversationID, "")
	if err != nil {
		m.store.Dispatch(domain.SetError{ConversationID: conversationID, Err: err.Error()})
		return fmt.Errorf("load initial messages: %w", err)
	}
	m.store.Dispatch(domain.AppendHistory{ConversationID: conversationID, Page: page})
	return nil
}

// RefreshConversations pulls one page of conversation metadata into the store.
func (m *Messenger) RefreshConversations(ctx context.Context, page int) error {
	convs, err := m.conversations.ListConversations(ctx, page)
	if err != nil {
		return fmt.Errorf("refresh conversations: %w", err)
	}
	for _, conv := range convs {
		m.store.Dispatch(domain.UpsertConversation{Conversation: conv})
	}
	return nil
}

// StartConversation creates a one-to-one conversation over REST and records
// it locally.
func (m *Messenger) StartConversation(ctx context.Context, recipientID string) (domain.Conversation, error) {
	conv, err := m.conversations.CreateOneToOneConversation(ctx, recipientID)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("start conversation: %w", err)
	}
	m.store.Dispatch(domain.UpsertConversation{Conversation: conv})
	return conv, nil
}

// AddReaction applies the reaction optimistically and confirms it over REST;
// a REST failure rolls the optimistic entry back.
func (m *Messenger) AddReaction(ctx context.Context, conversationID, messageID, emoji string) error {
	m.store.Dispatch(domain.ApplyReaction{
		ConversationID: conversationID,
		MessageID:      messageID,
		UserID:         m.cfg.SelfID,
		Emoji:          emoji,
	})
	if err := m.reactions.AddReaction(ctx, messageID, emoji); err != nil {
		m.store.Dispatch(domain.ApplyReaction{
			ConversationID: conversationID,
			MessageID:      messageID,
			UserID:         m.cfg.SelfID,
			Emoji:          emoji,
			Removed:        true,
		})
		return fmt.Errorf("add reaction: %w", err)
	}
	return nil
}

func (m *Messenger) RemoveReaction(ctx context.Context, conversationID, messageID, emoji string) error {
	m.store.Dispatch(domain.ApplyReaction{
		ConversationID: conversationID,
		MessageID:      messageID,
		UserID:         m.cfg.SelfID,
		Emoji:          emoji,
		Removed:        true,
	})
	if err := m.reactions.RemoveReaction(ctx, messageID, emoji); err != nil {
		return fmt.Errorf("remove reaction: %w", err)
	}
	return nil
}

func messageTypeFor(attachment *api.Upload) domain.MessageType {
	if attachment == nil {
		return domain.MessageTypeText
	}
	if strings.HasPrefix(attachment.MimeType, "image/") {
		return domain.MessageTypeImage
	}
	return domain.MessageTypeFile
}
