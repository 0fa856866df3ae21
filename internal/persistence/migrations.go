package persistence

import (
	"context"
	"database/sql"
	"fmt"
)

// migrations apply in order; PRAGMA user_version records the last applied
// index so upgrades only run the tail.
var migrations = [][]string{
	{
		`CREATE TABLE conversations (
			id TEXT PRIMARY KEY,
			participants_json TEXT NOT NULL DEFAULT '[]',
			unread_count INTEGER NOT NULL DEFAULT 0,
			last_message_json TEXT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE TABLE messages (
			id TEXT PRIMARY KEY,
			correlation_id TEXT NULL,
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			content TEXT NOT NULL DEFAULT '',
			sender_id TEXT NOT NULL DEFAULT '',
			sender_name TEXT NOT NULL DEFAULT '',
			type TEXT NOT NULL DEFAULT 'text',
			status TEXT NOT NULL DEFAULT 'sent',
			status_reason TEXT NOT NULL DEFAULT '',
			attachment_json TEXT NULL,
			reactions_json TEXT NULL,
			edited INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX messages_conversation_created_idx ON messages(conversation_id, created_at DESC);`,
		`CREATE INDEX messages_correlation_idx ON messages(correlation_id);`,
	},
}

func migrate(ctx context.Context, db *sql.DB) error {
	var version int
	if err := db.QueryRowContext(ctx, `PRAGMA user_version;`).Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version >= len(migrations) {
		return nil
	}

	for i := version; i < len(migrations); i++ {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration tx: %w", err)
		}
		for _, stmt := range migrations[i] {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				_ = tx.Rollback()

				return fmt.Errorf("apply migration %d: %w", i+1, err)
			}
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d;`, i+1)); err != nil {
			_ = tx.Rollback()

			return fmt.Errorf("bump schema version: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", i+1, err)
		}
	}

	return nil
}
