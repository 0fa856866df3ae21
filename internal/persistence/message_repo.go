package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"chatsync/internal/domain"
)

type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// Upsert stores a message by id. When the row carries a correlation id, any
// other row with the same correlation id is removed first, so a server
// confirmation replaces the optimistic entry instead of sitting next to it.
func (r *MessageRepo) Upsert(ctx context.Context, m domain.Message) error {
	attachment, err := nullableJSON(m.Attachment)
	if err != nil {
		return fmt.Errorf("encode attachment: %w", err)
	}
	reactions, err := nullableJSON(m.Reactions)
	if err != nil {
		return fmt.Errorf("encode reactions: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin message upsert tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Live events can outrun the conversation refresh; make sure the parent
	// row exists before the foreign key is checked.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO conversations(id, created_at, updated_at)
		VALUES(?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, m.ConversationID, toUnixMillis(m.CreatedAt), toUnixMillis(m.CreatedAt)); err != nil {
		return fmt.Errorf("ensure conversation row: %w", err)
	}

	if m.CorrelationID != "" {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM messages WHERE correlation_id = ? AND id != ?
		`, m.CorrelationID, m.ID); err != nil {
			return fmt.Errorf("drop superseded optimistic message: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages(id, correlation_id, conversation_id, content, sender_id, sender_name,
			type, status, status_reason, attachment_json, reactions_json, edited, created_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			status = excluded.status,
			status_reason = excluded.status_reason,
			attachment_json = excluded.attachment_json,
			reactions_json = excluded.reactions_json,
			edited = excluded.edited
	`, m.ID, nullableString(m.CorrelationID), m.ConversationID, m.Content, m.SenderID, m.SenderName,
		string(m.Type), string(m.Status), m.StatusReason, attachment, reactions, boolToInt(m.Edited),
		toUnixMillis(m.CreatedAt)); err != nil {
		return fmt.Errorf("upsert message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit message upsert tx: %w", err)
	}
	return nil
}

// UpdateStatus flips delivery status matching by id or correlation id.
func (r *MessageRepo) UpdateStatus(ctx context.Context, messageID, correlationID string, status domain.MessageStatus, reason string) error {
	messageID = strings.TrimSpace(messageID)
	correlationID = strings.TrimSpace(correlationID)
	if messageID == "" && correlationID == "" {
		return nil
	}

	_, err := r.db.ExecContext(ctx, `
		UPDATE messages
		SET status = ?, status_reason = ?
		WHERE (? != '' AND id = ?) OR (? != '' AND correlation_id = ?)
	`, string(status), reason, messageID, messageID, correlationID, correlationID)
	if err != nil {
		return fmt.Errorf("update message status: %w", err)
	}
	return nil
}

// ListRecentByConversation returns the newest messages first, matching the
// order the conversation store holds them in.
func (r *MessageRepo) ListRecentByConversation(ctx context.Context, conversationID string, limit int) ([]domain.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, correlation_id, conversation_id, content, sender_id, sender_name,
			type, status, status_reason, attachment_json, reactions_json, edited, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages by conversation: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages by conversation: %w", err)
	}
	return out, nil
}

// LoadRecentPerConversation seeds the in-memory store at startup.
func (r *MessageRepo) LoadRecentPerConversation(ctx context.Context, limit int) (map[string][]domain.Message, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM conversations`)
	if err != nil {
		return nil, fmt.Errorf("list conversation ids: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan conversation id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversation ids: %w", err)
	}

	result := make(map[string][]domain.Message)
	for _, id := range ids {
		msgs, err := r.ListRecentByConversation(ctx, id, limit)
		if err != nil {
			return nil, err
		}
		if len(msgs) > 0 {
			result[id] = msgs
		}
	}
	return result, nil
}

func scanMessage(scanner interface {
	Scan(dest ...any) error
}) (domain.Message, error) {
	var (
		m              domain.Message
		correlationRaw sql.NullString
		typeRaw        string
		statusRaw      string
		attachmentRaw  sql.NullString
		reactionsRaw   sql.NullString
		edited         int
		createdMs      int64
	)
	if err := scanner.Scan(&m.ID, &correlationRaw, &m.ConversationID, &m.Content, &m.SenderID, &m.SenderName,
		&typeRaw, &statusRaw, &m.StatusReason, &attachmentRaw, &reactionsRaw, &edited, &createdMs); err != nil {
		return domain.Message{}, fmt.Errorf("scan message: %w", err)
	}
	if correlationRaw.Valid {
		m.CorrelationID = correlationRaw.String
	}
	m.Type = domain.MessageType(typeRaw)
	m.Status = domain.MessageStatus(statusRaw)
	if attachmentRaw.Valid {
		var att domain.Attachment
		if err := json.Unmarshal([]byte(attachmentRaw.String), &att); err != nil {
			return domain.Message{}, fmt.Errorf("decode attachment: %w", err)
		}
		m.Attachment = &att
	}
	if reactionsRaw.Valid {
		if err := json.Unmarshal([]byte(reactionsRaw.String), &m.Reactions); err != nil {
			return domain.Message{}, fmt.Errorf("decode reactions: %w", err)
		}
	}
	m.Edited = edited != 0
	m.CreatedAt = fromUnixMillis(createdMs)
	return m, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
