package domain

import (
	"context"

	"chatsync/internal/bus"
	"chatsync/internal/events"
)

// ConversationRepository persists conversation metadata.
type ConversationRepository interface {
	Upsert(ctx context.Context, c Conversation) error
	Touch(ctx context.Context, conversationID string, lastMessage *Message, at int64) error
}

// MessageRepository persists message rows.
type MessageRepository interface {
	Upsert(ctx context.Context, m Message) error
	UpdateStatus(ctx context.Context, messageID, correlationID string, status MessageStatus, reason string) error
}

// WriteQueue serializes persistence writes from async domain events.
type WriteQueue interface {
	Enqueue(name string, fn func(context.Context) error)
}

// StartPersistenceProjection mirrors server-confirmed events into the local
// cache so a restart can seed the store without waiting for the network.
func StartPersistenceProjection(ctx context.Context, b bus.MessageBus, queue WriteQueue, convRepo ConversationRepository, msgRepo MessageRepository) {
	messageSub := b.Subscribe(events.TopicMessageCreated)
	statusSub := b.Subscribe(events.TopicMessageStatus)

	go func() {
		defer b.Unsubscribe(messageSub)
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-messageSub:
				if !ok {
					return
				}
				msg, ok := raw.(Message)
				if !ok {
					continue
				}
				copyMsg := msg
				queue.Enqueue("upsert_message", func(writeCtx context.Context) error {
					if err := msgRepo.Upsert(writeCtx, copyMsg); err != nil {
						return err
					}
					latest := copyMsg

					return convRepo.Touch(writeCtx, copyMsg.ConversationID, &latest, copyMsg.CreatedAt.UnixMilli())
				})
			}
		}
	}()

	go func() {
		defer b.Unsubscribe(statusSub)
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-statusSub:
				if !ok {
					return
				}
				update, ok := raw.(MessageStatusUpdate)
				if !ok {
					continue
				}
				copyUpdate := update
				queue.Enqueue("update_message_status", func(writeCtx context.Context) error {
					return msgRepo.UpdateStatus(writeCtx, copyUpdate.MessageID, copyUpdate.CorrelationID, copyUpdate.Status, copyUpdate.Reason)
				})
			}
		}
	}()
}
