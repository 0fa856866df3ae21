package domain

import (
	"context"
	"sort"
	"sync"

	"chatsync/internal/bus"
	"chatsync/internal/events"
)

// ConversationStore is the single source of truth for conversations,
// messages, typing indicators and unread counters. All mutations funnel
// through Dispatch, so concurrent async completions apply safely in whatever
// order they land.
type ConversationStore struct {
	mu      sync.RWMutex
	state   *State
	changes chan struct{}
}

func NewConversationStore(selfID string) *ConversationStore {
	return &ConversationStore{
		state:   NewState(selfID),
		changes: make(chan struct{}, 1),
	}
}

// Dispatch applies one action and wakes change listeners.
func (s *ConversationStore) Dispatch(action Action) {
	s.mu.Lock()
	Apply(s.state, action)
	s.mu.Unlock()
	s.notify()
}

// Load seeds the store from the local cache at startup.
func (s *ConversationStore) Load(conversations []Conversation, messages map[string][]Message) {
	s.mu.Lock()
	for _, conv := range conversations {
		s.state.Conversations[conv.ID] = conv
	}
	for id, msgs := range messages {
		cloned := make([]Message, len(msgs))
		copy(cloned, msgs)
		sort.SliceStable(cloned, func(i, j int) bool {
			return cloned[i].CreatedAt.After(cloned[j].CreatedAt)
		})
		s.state.Messages[id] = cloned
	}
	s.mu.Unlock()
	s.notify()
}

// Start consumes server-pushed events from the bus until ctx is done.
func (s *ConversationStore) Start(ctx context.Context, b bus.MessageBus) {
	sub := b.Subscribe(
		events.TopicMessageCreated,
		events.TopicMessageStatus,
		events.TopicTyping,
		events.TopicReadReceipt,
		events.TopicReaction,
		events.TopicPresence,
	)

	go func() {
		defer b.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-sub:
				if !ok {
					return
				}
				s.consume(raw)
			}
		}
	}()
}

func (s *ConversationStore) consume(raw any) {
	switch payload := raw.(type) {
	case Message:
		s.Dispatch(AddMessage{Message: payload})
	case MessageStatusUpdate:
		s.Dispatch(SetMessageStatus{
			MessageID:     payload.MessageID,
			CorrelationID: payload.CorrelationID,
			Status:        payload.Status,
			Reason:        payload.Reason,
		})
	case TypingEvent:
		s.Dispatch(SetTyping{Indicator: payload.Indicator, IsTyping: payload.IsTyping})
	case events.ReadReceipt:
		s.Dispatch(ApplyReadReceipt{
			ConversationID: payload.ConversationID,
			MessageID:      payload.MessageID,
			UserID:         payload.UserID,
		})
	case events.ReactionUpdate:
		s.Dispatch(ApplyReaction{
			ConversationID: payload.ConversationID,
			MessageID:      payload.MessageID,
			UserID:         payload.UserID,
			Emoji:          payload.Emoji,
			Removed:        payload.Removed,
		})
	case events.PresenceUpdate:
		s.Dispatch(ApplyPresence{UserID: payload.UserID, Online: payload.Online})
	}
}

// TypingEvent pairs an indicator with its isTyping flag for bus transport.
type TypingEvent struct {
	Indicator TypingIndicator
	IsTyping  bool
}

func (s *ConversationStore) SelfID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.SelfID
}

func (s *ConversationStore) ActiveConversation() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.ActiveID
}

// Messages returns the conversation's messages newest first.
func (s *ConversationStore) Messages(conversationID string) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.state.Messages[conversationID]
	cloned := make([]Message, len(msgs))
	copy(cloned, msgs)
	return cloned
}

// Message looks a single message up by id across all conversations.
func (s *ConversationStore) Message(messageID string) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, list := range s.state.Messages {
		if idx := indexOfMessage(list, messageID, ""); idx >= 0 {
			return list[idx], true
		}
	}
	return Message{}, false
}

// Conversations returns all conversations sorted by last activity.
func (s *ConversationStore) Conversations() []Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Conversation, 0, len(s.state.Conversations))
	for _, conv := range s.state.Conversations {
		out = append(out, conv)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

func (s *ConversationStore) Conversation(id string) (Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.state.Conversations[id]
	return conv, ok
}

func (s *ConversationStore) TypingIndicators(conversationID string) []TypingIndicator {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.state.Typing[conversationID]
	cloned := make([]TypingIndicator, len(list))
	copy(cloned, list)
	return cloned
}

func (s *ConversationStore) LoadState(conversationID string) LoadState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.LoadStates[conversationID]
}

// HasMore reports whether older history pages may exist. Unknown
// conversations default to true so the first fetch is always attempted.
func (s *ConversationStore) HasMore(conversationID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, known := s.state.HasMore[conversationID]; !known {
		return true
	}
	return s.state.HasMore[conversationID]
}

func (s *ConversationStore) Error(conversationID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Errors[conversationID]
}

// OldestMessageID returns the id of the oldest loaded message, the pagination
// cursor for the next history page.
func (s *ConversationStore) OldestMessageID(conversationID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.state.Messages[conversationID]
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1].ID
}

// UnreadMessageIDs lists incoming messages not yet marked read, oldest first.
func (s *ConversationStore) UnreadMessageIDs(conversationID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.state.Messages[conversationID]
	out := make([]string, 0)
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.SenderID != s.state.SelfID && m.Status != MessageStatusRead {
			out = append(out, m.ID)
		}
	}
	return out
}

// Changes signals after every dispatched action; the channel is never closed
// and signals coalesce.
func (s *ConversationStore) Changes() <-chan struct{} {
	return s.changes
}

func (s *ConversationStore) notify() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}
