package domain

import "time"

type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
	MessageTypeFile  MessageType = "file"
)

type MessageStatus string

const (
	MessageStatusSending   MessageStatus = "sending"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
	MessageStatusFailed    MessageStatus = "failed"
)

// LoadState tracks per-conversation history loading.
type LoadState int

const (
	LoadStateNone LoadState = iota
	LoadStateLoaded
	LoadStateLoadingMore
	LoadStateError
)

// Attachment describes a file carried by a message. The upload itself happens
// through the api.Uploader collaborator before the message frame is sent.
type Attachment struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
}

type Reaction struct {
	UserID string `json:"user_id"`
	Emoji  string `json:"emoji"`
}

// Message is a single chat message. ID holds a client-generated temporary id
// until the server confirms persistence; exactly one id is authoritative at a
// time because confirmation replaces the entry in place. CorrelationID is the
// client token the server echoes back on message_created so confirmations
// match the right optimistic entry even across conversation switches.
type Message struct {
	ID             string        `json:"id"`
	CorrelationID  string        `json:"correlation_id,omitempty"`
	ConversationID string        `json:"conversation_id"`
	Content        string        `json:"content"`
	SenderID       string        `json:"sender_id"`
	SenderName     string        `json:"sender_name"`
	Type           MessageType   `json:"type"`
	Status         MessageStatus `json:"status"`
	StatusReason   string        `json:"status_reason,omitempty"`
	Attachment     *Attachment   `json:"attachment,omitempty"`
	Reactions      []Reaction    `json:"reactions,omitempty"`
	Edited         bool          `json:"edited"`
	CreatedAt      time.Time     `json:"created_at"`
}

type Participant struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
	Online    bool   `json:"online"`
}

type Conversation struct {
	ID           string        `json:"id"`
	Participants []Participant `json:"participants"`
	UnreadCount  int           `json:"unread_count"`
	LastMessage  *Message      `json:"last_message,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// TypingIndicator marks a participant as currently typing. At most one
// indicator exists per (conversation, user) pair.
type TypingIndicator struct {
	ConversationID string
	UserID         string
	Username       string
	At             time.Time
}

// MessageStatusUpdate is published on the bus when a send outcome changes a
// message's delivery status outside the normal confirmation path.
type MessageStatusUpdate struct {
	CorrelationID string
	MessageID     string
	Status        MessageStatus
	Reason        string
}
