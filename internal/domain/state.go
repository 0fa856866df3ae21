package domain

import "time"

// State is the complete conversation-store model. All mutations go through
// Apply so that async completions can land in any order without corrupting
// the model, and so transitions stay unit-testable without I/O.
type State struct {
	SelfID        string
	ActiveID      string
	Conversations map[string]Conversation
	Messages      map[string][]Message
	Typing        map[string][]TypingIndicator
	LoadStates    map[string]LoadState
	HasMore       map[string]bool
	Errors        map[string]string
}

func NewState(selfID string) *State {
	return &State{
		SelfID:        selfID,
		Conversations: make(map[string]Conversation),
		Messages:      make(map[string][]Message),
		Typing:        make(map[string][]TypingIndicator),
		LoadStates:    make(map[string]LoadState),
		HasMore:       make(map[string]bool),
		Errors:        make(map[string]string),
	}
}

// Action is a tagged mutation applied to State.
type Action interface {
	isAction()
}

// AddMessage inserts a message at the head of its conversation (newest
// first). A message whose ID or CorrelationID matches an existing entry
// replaces that entry in place, which covers both optimistic-id confirmation
// and idempotent re-delivery of the same server event.
type AddMessage struct {
	Message Message
}

// AppendHistory appends an older page at the tail of the conversation list.
// An empty page means no more history exists.
type AppendHistory struct {
	ConversationID string
	Page           []Message
}

// BeginLoadingMore marks a history fetch in flight.
type BeginLoadingMore struct {
	ConversationID string
}

// SetMessageStatus updates delivery status, matching by message id first and
// correlation id second.
type SetMessageStatus struct {
	MessageID     string
	CorrelationID string
	Status        MessageStatus
	Reason        string
}

// SetTyping replaces the indicator for the (conversation, user) pair; when
// IsTyping is false the pair's indicator is removed.
type SetTyping struct {
	Indicator TypingIndicator
	IsTyping  bool
}

// MarkMessageRead flips one incoming message to read and decrements the
// conversation's unread counter. Re-marking a read message is a no-op.
type MarkMessageRead struct {
	ConversationID string
	MessageID      string
}

// ApplyReadReceipt records that another participant read one of our messages.
type ApplyReadReceipt struct {
	ConversationID string
	MessageID      string
	UserID         string
}

// ApplyReaction adds or removes a reaction on a message.
type ApplyReaction struct {
	ConversationID string
	MessageID      string
	UserID         string
	Emoji          string
	Removed        bool
}

// SetActive switches the active conversation and drops the previous one's
// typing indicators so they cannot leak into the new view.
type SetActive struct {
	ConversationID string
}

// UpsertConversation inserts or refreshes conversation metadata. Unread count
// and messages already held locally are preserved.
type UpsertConversation struct {
	Conversation Conversation
}

// ApplyPresence flips a participant's online flag everywhere it appears.
type ApplyPresence struct {
	UserID string
	Online bool
}

// SetError records a store-level error for a conversation without clearing
// already-loaded data.
type SetError struct {
	ConversationID string
	Err            string
}

func (AddMessage) isAction()         {}
func (AppendHistory) isAction()      {}
func (BeginLoadingMore) isAction()   {}
func (SetMessageStatus) isAction()   {}
func (SetTyping) isAction()          {}
func (MarkMessageRead) isAction()    {}
func (ApplyReadReceipt) isAction()   {}
func (ApplyReaction) isAction()      {}
func (SetActive) isAction()          {}
func (UpsertConversation) isAction() {}
func (ApplyPresence) isAction()      {}
func (SetError) isAction()           {}

// Apply executes one state transition. It never performs I/O.
func Apply(st *State, action Action) {
	switch a := action.(type) {
	case AddMessage:
		applyAddMessage(st, a.Message)
	case AppendHistory:
		applyAppendHistory(st, a)
	case BeginLoadingMore:
		st.LoadStates[a.ConversationID] = LoadStateLoadingMore
	case SetMessageStatus:
		applySetMessageStatus(st, a)
	case SetTyping:
		applySetTyping(st, a)
	case MarkMessageRead:
		applyMarkMessageRead(st, a)
	case ApplyReadReceipt:
		applyReadReceipt(st, a)
	case ApplyReaction:
		applyReaction(st, a)
	case SetActive:
		applySetActive(st, a.ConversationID)
	case UpsertConversation:
		applyUpsertConversation(st, a.Conversation)
	case ApplyPresence:
		applyPresence(st, a)
	case SetError:
		st.Errors[a.ConversationID] = a.Err
		if st.LoadStates[a.ConversationID] == LoadStateLoadingMore {
			st.LoadStates[a.ConversationID] = LoadStateError
		}
	}
}

func applyAddMessage(st *State, msg Message) {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	list := st.Messages[msg.ConversationID]

	if idx := indexOfMessage(list, msg.ID, msg.CorrelationID); idx >= 0 {
		list[idx] = msg
		st.Messages[msg.ConversationID] = list
		touchConversation(st, msg)
		return
	}

	st.Messages[msg.ConversationID] = append([]Message{msg}, list...)
	touchConversation(st, msg)

	if msg.SenderID != st.SelfID && msg.ConversationID != st.ActiveID {
		conv := st.Conversations[msg.ConversationID]
		conv.UnreadCount++
		st.Conversations[msg.ConversationID] = conv
	}
}

func applyAppendHistory(st *State, a AppendHistory) {
	st.LoadStates[a.ConversationID] = LoadStateLoaded
	st.HasMore[a.ConversationID] = len(a.Page) > 0
	delete(st.Errors, a.ConversationID)
	if len(a.Page) == 0 {
		return
	}

	list := st.Messages[a.ConversationID]
	for _, msg := range a.Page {
		if idx := indexOfMessage(list, msg.ID, msg.CorrelationID); idx >= 0 {
			list[idx] = msg
			continue
		}
		list = append(list, msg)
	}
	st.Messages[a.ConversationID] = list
}

func applySetMessageStatus(st *State, a SetMessageStatus) {
	for convID, list := range st.Messages {
		idx := indexOfMessage(list, a.MessageID, a.CorrelationID)
		if idx < 0 {
			continue
		}
		list[idx].Status = a.Status
		list[idx].StatusReason = a.Reason
		st.Messages[convID] = list
		return
	}
}

func applySetTyping(st *State, a SetTyping) {
	ind := a.Indicator
	list := st.Typing[ind.ConversationID]
	filtered := list[:0]
	for _, existing := range list {
		if existing.UserID != ind.UserID {
			filtered = append(filtered, existing)
		}
	}
	if a.IsTyping {
		if ind.At.IsZero() {
			ind.At = time.Now()
		}
		filtered = append(filtered, ind)
	}
	if len(filtered) == 0 {
		delete(st.Typing, ind.ConversationID)
		return
	}
	st.Typing[ind.ConversationID] = filtered
}

func applyMarkMessageRead(st *State, a MarkMessageRead) {
	list := st.Messages[a.ConversationID]
	idx := indexOfMessage(list, a.MessageID, "")
	if idx < 0 {
		return
	}
	if list[idx].SenderID == st.SelfID || list[idx].Status == MessageStatusRead {
		return
	}
	list[idx].Status = MessageStatusRead
	st.Messages[a.ConversationID] = list

	conv := st.Conversations[a.ConversationID]
	if conv.UnreadCount > 0 {
		conv.UnreadCount--
		st.Conversations[a.ConversationID] = conv
	}
}

func applyReadReceipt(st *State, a ApplyReadReceipt) {
	if a.UserID == st.SelfID {
		return
	}
	list := st.Messages[a.ConversationID]
	idx := indexOfMessage(list, a.MessageID, "")
	if idx < 0 || list[idx].SenderID != st.SelfID {
		return
	}
	list[idx].Status = MessageStatusRead
	st.Messages[a.ConversationID] = list
}

func applyReaction(st *State, a ApplyReaction) {
	list := st.Messages[a.ConversationID]
	idx := indexOfMessage(list, a.MessageID, "")
	if idx < 0 {
		return
	}

	// Read accessors hand out snapshots that share this backing array, so the
	// filter must build a fresh slice rather than compact in place.
	reactions := list[idx].Reactions
	filtered := make([]Reaction, 0, len(reactions)+1)
	for _, r := range reactions {
		if r.UserID != a.UserID || r.Emoji != a.Emoji {
			filtered = append(filtered, r)
		}
	}
	if !a.Removed {
		filtered = append(filtered, Reaction{UserID: a.UserID, Emoji: a.Emoji})
	}
	list[idx].Reactions = filtered
	st.Messages[a.ConversationID] = list
}

func applySetActive(st *State, conversationID string) {
	if st.ActiveID != "" && st.ActiveID != conversationID {
		delete(st.Typing, st.ActiveID)
	}
	st.ActiveID = conversationID
}

func applyUpsertConversation(st *State, conv Conversation) {
	existing, ok := st.Conversations[conv.ID]
	if ok {
		conv.UnreadCount = existing.UnreadCount
		if conv.LastMessage == nil {
			conv.LastMessage = existing.LastMessage
		}
		if existing.UpdatedAt.After(conv.UpdatedAt) {
			conv.UpdatedAt = existing.UpdatedAt
		}
	}
	if conv.UpdatedAt.IsZero() {
		conv.UpdatedAt = time.Now()
	}
	st.Conversations[conv.ID] = conv
}

func applyPresence(st *State, a ApplyPresence) {
	for id, conv := range st.Conversations {
		changed := false
		for i := range conv.Participants {
			if conv.Participants[i].ID == a.UserID {
				conv.Participants[i].Online = a.Online
				changed = true
			}
		}
		if changed {
			st.Conversations[id] = conv
		}
	}
}

func touchConversation(st *State, msg Message) {
	conv, ok := st.Conversations[msg.ConversationID]
	if !ok {
		conv = Conversation{ID: msg.ConversationID, CreatedAt: msg.CreatedAt}
	}
	latest := msg
	conv.LastMessage = &latest
	if msg.CreatedAt.After(conv.UpdatedAt) {
		conv.UpdatedAt = msg.CreatedAt
	}
	st.Conversations[msg.ConversationID] = conv
}

func indexOfMessage(list []Message, id, correlationID string) int {
	for i, m := range list {
		if id != "" && m.ID == id {
			return i
		}
		if correlationID != "" && m.CorrelationID == correlationID {
			return i
		}
	}
	return -1
}
