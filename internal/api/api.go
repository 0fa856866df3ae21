// Package api holds the REST collaborators the sync core depends on:
// conversation listing, paginated history, reactions, attachment upload, and
// the token source authorizing all of them.
package api

import (
	"context"
	"io"

	"chatsync/internal/domain"
)

// TokenSource yields the access token appended to REST calls and the
// WebSocket handshake.
type TokenSource interface {
	AccessToken() (string, error)
}

// StaticTokenSource returns a fixed token, typically read from config.
type StaticTokenSource string

func (s StaticTokenSource) AccessToken() (string, error) {
	return string(s), nil
}

// ConversationAPI fetches conversation metadata and paginated history.
type ConversationAPI interface {
	ListConversations(ctx context.Context, page int) ([]domain.Conversation, error)
	GetMessages(ctx context.Context, conversationID, beforeMessageID string) ([]domain.Message, error)
	CreateOneToOneConversation(ctx context.Context, recipientID string) (domain.Conversation, error)
}

// ReactionAPI mutates reactions over REST.
type ReactionAPI interface {
	AddReaction(ctx context.Context, messageID, emoji string) error
	RemoveReaction(ctx context.Context, messageID, emoji string) error
}

// Upload describes one attachment to push before its message frame is sent.
type Upload struct {
	Filename string
	MimeType string
	Size     int64
	Body     io.Reader
}

// Uploader pushes attachment bytes and returns the URL the message frame
// should reference.
type Uploader interface {
	Upload(ctx context.Context, upload Upload) (string, error)
}
