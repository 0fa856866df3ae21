package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"chatsync/internal/domain"
)

type ConversationRepo struct {
	db *sql.DB
}

func NewConversationRepo(db *sql.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

func (r *ConversationRepo) Upsert(ctx context.Context, c domain.Conversation) error {
	participants, err := json.Marshal(c.Participants)
	if err != nil {
		return fmt.Errorf("encode participants: %w", err)
	}
	lastMessage, err := nullableJSON(c.LastMessage)
	if err != nil {
		return fmt.Errorf("encode last message: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO conversations(id, participants_json, unread_count, last_message_json, created_at, updated_at)
		VALUES(?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			participants_json = excluded.participants_json,
			unread_count = excluded.unread_count,
			last_message_json = COALESCE(excluded.last_message_json, conversations.last_message_json),
			updated_at = CASE
				WHEN excluded.updated_at > conversations.updated_at THEN excluded.updated_at
				ELSE conversations.updated_at
			END
	`, c.ID, string(participants), c.UnreadCount, lastMessage, toUnixMillis(c.CreatedAt), toUnixMillis(c.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert conversation: %w", err)
	}
	return nil
}

// Touch bumps a conversation's activity from a live message without touching
// participants or the unread counter.
func (r *ConversationRepo) Touch(ctx context.Context, conversationID string, lastMessage *domain.Message, at int64) error {
	lastJSON, err := nullableJSON(lastMessage)
	if err != nil {
		return fmt.Errorf("encode last message: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO conversations(id, last_message_json, created_at, updated_at)
		VALUES(?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			last_message_json = COALESCE(excluded.last_message_json, conversations.last_message_json),
			updated_at = CASE
				WHEN excluded.updated_at > conversations.updated_at THEN excluded.updated_at
				ELSE conversations.updated_at
			END
	`, conversationID, lastJSON, at, at)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return nil
}

func (r *ConversationRepo) ListByLastActivity(ctx context.Context) ([]domain.Conversation, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, participants_json, unread_count, last_message_json, created_at, updated_at
		FROM conversations
		ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	out := make([]domain.Conversation, 0)
	for rows.Next() {
		var (
			conv            domain.Conversation
			participantsRaw string
			lastMessageRaw  sql.NullString
			createdMs       int64
			updatedMs       int64
		)
		if err := rows.Scan(&conv.ID, &participantsRaw, &conv.UnreadCount, &lastMessageRaw, &createdMs, &updatedMs); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		if err := json.Unmarshal([]byte(participantsRaw), &conv.Participants); err != nil {
			return nil, fmt.Errorf("decode participants: %w", err)
		}
		if lastMessageRaw.Valid {
			var last domain.Message
			if err := json.Unmarshal([]byte(lastMessageRaw.String), &last); err != nil {
				return nil, fmt.Errorf("decode last message: %w", err)
			}
			conv.LastMessage = &last
		}
		conv.CreatedAt = fromUnixMillis(createdMs)
		conv.UpdatedAt = fromUnixMillis(updatedMs)
		out = append(out, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	return out, nil
}
