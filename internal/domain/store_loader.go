package domain

import (
	"context"
	"fmt"
)

const defaultRecentMessagesLoad = 200

// ConversationReader lists cached conversations for startup seeding.
type ConversationReader interface {
	ListByLastActivity(ctx context.Context) ([]Conversation, error)
}

// MessageReader loads cached message history for startup seeding.
type MessageReader interface {
	LoadRecentPerConversation(ctx context.Context, limit int) (map[string][]Message, error)
}

// LoadStoreFromRepositories seeds the conversation store from the local cache
// so the UI has content before the first network round trip.
func LoadStoreFromRepositories(ctx context.Context, store *ConversationStore, convRepo ConversationReader, msgRepo MessageReader) error {
	conversations, err := convRepo.ListByLastActivity(ctx)
	if err != nil {
		return fmt.Errorf("load conversations from db: %w", err)
	}
	messages, err := msgRepo.LoadRecentPerConversation(ctx, defaultRecentMessagesLoad)
	if err != nil {
		return fmt.Errorf("load messages from db: %w", err)
	}

	store.Load(conversations, messages)

	return nil
}
