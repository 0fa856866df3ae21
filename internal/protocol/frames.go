// Package protocol defines the JSON wire frames exchanged with the messaging
// backend over the WebSocket channel, and decodes inbound frames into the
// typed events the rest of the client consumes.
package protocol

import (
	"encoding/json"

	"chatsync/internal/domain"
)

// FrameType identifies the type of a WebSocket frame.
type FrameType string

const (
	// Client -> Server
	TypeSendMessage FrameType = "send_message"
	TypeTyping      FrameType = "typing"
	TypeMarkRead    FrameType = "mark_read"

	// Server -> Client
	TypeMessageCreated FrameType = "message_created"
	TypeReadReceipt    FrameType = "read_receipt"
	TypeReaction       FrameType = "reaction"
	TypePresence       FrameType = "presence"
)

// Envelope wraps every frame with a type discriminator.
type Envelope struct {
	Type FrameType       `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// SendMessagePayload is sent by the client to create a message. The server
// echoes CorrelationID back on the resulting message_created frame.
type SendMessagePayload struct {
	ConversationID string             `json:"conversation_id"`
	CorrelationID  string             `json:"correlation_id"`
	Content        string             `json:"content"`
	MessageType    domain.MessageType `json:"message_type"`
	Attachment     *domain.Attachment `json:"attachment,omitempty"`
}

// TypingPayload carries typing state in both directions.
type TypingPayload struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	Username       string `json:"username,omitempty"`
	IsTyping       bool   `json:"is_typing"`
}

// MarkReadPayload is sent by the client to acknowledge one message.
type MarkReadPayload struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
}

// MessageCreatedPayload is pushed by the server when a message persists.
type MessageCreatedPayload struct {
	CorrelationID string         `json:"correlation_id,omitempty"`
	Message       domain.Message `json:"message"`
}

// ReadReceiptPayload is pushed when a participant reads a message.
type ReadReceiptPayload struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	UserID         string `json:"user_id"`
}

// ReactionPayload is pushed when a reaction is added or removed.
type ReactionPayload struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	UserID         string `json:"user_id"`
	Emoji          string `json:"emoji"`
	Removed        bool   `json:"removed,omitempty"`
}

// PresencePayload is pushed when a participant goes online or offline.
type PresencePayload struct {
	UserID string `json:"user_id"`
	Online bool   `json:"online"`
}

// NewEnvelope creates an envelope with the given type and payload.
func NewEnvelope(frameType FrameType, payload any) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{Type: frameType, Data: raw}, nil
}

// ParseEnvelope parses a raw frame into an envelope.
func ParseEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// EncodeFrame marshals a complete outbound frame.
func EncodeFrame(frameType FrameType, payload any) ([]byte, error) {
	env, err := NewEnvelope(frameType, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}
