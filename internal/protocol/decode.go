package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"chatsync/internal/domain"
	"chatsync/internal/events"
)

// Event is one decoded inbound frame, ready to publish on its bus topic.
type Event struct {
	Topic   string
	Payload any
}

// Decode turns a raw inbound frame into a typed event. Unknown frame types
// and malformed payloads are decode errors; the caller drops the frame and
// keeps reading.
func Decode(data []byte) (Event, error) {
	env, err := ParseEnvelope(data)
	if err != nil {
		return Event{}, fmt.Errorf("parse envelope: %w", err)
	}

	switch env.Type {
	case TypeMessageCreated:
		var payload MessageCreatedPayload
		if err := unmarshalData(env.Data, &payload); err != nil {
			return Event{}, fmt.Errorf("decode message_created: %w", err)
		}
		msg := payload.Message
		if payload.CorrelationID != "" {
			msg.CorrelationID = payload.CorrelationID
		}
		if msg.Status == "" || msg.Status == domain.MessageStatusSending {
			msg.Status = domain.MessageStatusSent
		}
		return Event{Topic: events.TopicMessageCreated, Payload: msg}, nil

	case TypeTyping:
		var payload TypingPayload
		if err := unmarshalData(env.Data, &payload); err != nil {
			return Event{}, fmt.Errorf("decode typing: %w", err)
		}
		return Event{Topic: events.TopicTyping, Payload: domain.TypingEvent{
			Indicator: domain.TypingIndicator{
				ConversationID: payload.ConversationID,
				UserID:         payload.UserID,
				Username:       payload.Username,
				At:             time.Now(),
			},
			IsTyping: payload.IsTyping,
		}}, nil

	case TypeReadReceipt:
		var payload ReadReceiptPayload
		if err := unmarshalData(env.Data, &payload); err != nil {
			return Event{}, fmt.Errorf("decode read_receipt: %w", err)
		}
		return Event{Topic: events.TopicReadReceipt, Payload: events.ReadReceipt{
			ConversationID: payload.ConversationID,
			MessageID:      payload.MessageID,
			UserID:         payload.UserID,
			At:             time.Now(),
		}}, nil

	case TypeReaction:
		var payload ReactionPayload
		if err := unmarshalData(env.Data, &payload); err != nil {
			return Event{}, fmt.Errorf("decode reaction: %w", err)
		}
		return Event{Topic: events.TopicReaction, Payload: events.ReactionUpdate{
			ConversationID: payload.ConversationID,
			MessageID:      payload.MessageID,
			UserID:         payload.UserID,
			Emoji:          payload.Emoji,
			Removed:        payload.Removed,
		}}, nil

	case TypePresence:
		var payload PresencePayload
		if err := unmarshalData(env.Data, &payload); err != nil {
			return Event{}, fmt.Errorf("decode presence: %w", err)
		}
		return Event{Topic: events.TopicPresence, Payload: events.PresenceUpdate{
			UserID: payload.UserID,
			Online: payload.Online,
			At:     time.Now(),
		}}, nil

	default:
		return Event{}, fmt.Errorf("unknown frame type: %q", env.Type)
	}
}

func unmarshalData(data json.RawMessage, dst any) error {
	if len(data) == 0 {
		return fmt.Errorf("empty frame data")
	}
	return json.Unmarshal(data, dst)
}
