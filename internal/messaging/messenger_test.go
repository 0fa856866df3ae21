package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"chatsync/internal/api"
	"chatsync/internal/domain"
	"chatsync/internal/protocol"
	"chatsync/internal/session"
)

type fakeTransmitter struct {
	mu          sync.Mutex
	online      bool
	scopes      []string
	disconnects int
	sent        [][]byte
}

func (f *fakeTransmitter) Connect(_ context.Context, scope string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scopes = append(f.scopes, scope)
}

func (f *fakeTransmitter) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
}

func (f *fakeTransmitter) Send(payload []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.online {
		return false
	}
	cloned := make([]byte, len(payload))
	copy(cloned, payload)
	f.sent = append(f.sent, cloned)
	return true
}

func (f *fakeTransmitter) Scope() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.scopes) == 0 {
		return ""
	}
	return f.scopes[len(f.scopes)-1]
}

func (f *fakeTransmitter) framesOfType(t *testing.T, frameType protocol.FrameType) []*protocol.Envelope {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*protocol.Envelope
	for _, raw := range f.sent {
		env, err := protocol.ParseEnvelope(raw)
		if err != nil {
			t.Fatalf("parse sent frame: %v", err)
		}
		if env.Type == frameType {
			out = append(out, env)
		}
	}
	return out
}

type fakeConversationAPI struct {
	mu      sync.Mutex
	pages   map[string][]domain.Message
	getErr  error
	cursors []string
	onGet   func()
}

func (f *fakeConversationAPI) ListConversations(context.Context, int) ([]domain.Conversation, error) {
	return nil, nil
}

func (f *fakeConversationAPI) GetMessages(_ context.Context, _ string, beforeMessageID string) ([]domain.Message, error) {
	f.mu.Lock()
	f.cursors = append(f.cursors, beforeMessageID)
	hook := f.onGet
	f.onGet = nil
	err := f.getErr
	page := f.pages[beforeMessageID]
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	if err != nil {
		return nil, err
	}
	return page, nil
}

func (f *fakeConversationAPI) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cursors)
}

func (f *fakeConversationAPI) CreateOneToOneConversation(_ context.Context, recipientID string) (domain.Conversation, error) {
	return domain.Conversation{ID: "conv-" + recipientID}, nil
}

type fakeReactions struct {
	addErr    error
	removeErr error
}

func (f *fakeReactions) AddReaction(context.Context, string, string) error    { return f.addErr }
func (f *fakeReactions) RemoveReaction(context.Context, string, string) error { return f.removeErr }

type fakeUploader struct {
	url string
	err error
}

func (f *fakeUploader) Upload(context.Context, api.Upload) (string, error) {
	return f.url, f.err
}

func newTestMessenger(cfg Config) (*Messenger, *domain.ConversationStore, *fakeTransmitter, *session.Outbox, *fakeConversationAPI) {
	if cfg.SelfID == "" {
		cfg.SelfID = "self"
		cfg.SelfName = "Self"
	}
	store := domain.NewConversationStore(cfg.SelfID)
	transmitter := &fakeTransmitter{online: true}
	outbox := session.NewOutbox()
	conversations := &fakeConversationAPI{pages: map[string][]domain.Message{}}
	m := NewMessenger(nil, store, transmitter, outbox, conversations, &fakeReactions{}, &fakeUploader{url: "https://cdn.example.com/f"}, cfg)
	return m, store, transmitter, outbox, conversations
}

func TestSendMessage_TransmitsFrameAndAddsOptimisticEntry(t *testing.T) {
	m, store, transmitter, _, _ := newTestMessenger(Config{})

	msg, err := m.SendMessage(context.Background(), "c1", "hello", nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg.Status != domain.MessageStatusSending {
		t.Fatalf("expected sending status, got %s", msg.Status)
	}
	if msg.CorrelationID != msg.ID {
		t.Fatalf("optimistic id %s should equal correlation id %s", msg.ID, msg.CorrelationID)
	}

	stored := store.Messages("c1")
	if len(stored) != 1 || stored[0].ID != msg.ID {
		t.Fatalf("unexpected store contents: %+v", stored)
	}

	frames := transmitter.framesOfType(t, protocol.TypeSendMessage)
	if len(frames) != 1 {
		t.Fatalf("expected 1 send frame, got %d", len(frames))
	}
	var payload protocol.SendMessagePayload
	if err := json.Unmarshal(frames[0].Data, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.CorrelationID != msg.CorrelationID || payload.Content != "hello" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if payload.MessageType != domain.MessageTypeText {
		t.Fatalf("expected text type, got %s", payload.MessageType)
	}
}

func TestSendMessage_QueuesWhileOfflineAndConfirmsAfterDrain(t *testing.T) {
	m, store, transmitter, outbox, _ := newTestMessenger(Config{})
	transmitter.online = false

	msg, err := m.SendMessage(context.Background(), "c1", "offline hello", nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if outbox.Len() != 1 {
		t.Fatalf("expected 1 queued frame, got %d", outbox.Len())
	}
	if got := store.Messages("c1")[0].Status; got != domain.MessageStatusSending {
		t.Fatalf("expected sending while queued, got %s", got)
	}

	// Reconnect: the session drains the queue, then the server confirms.
	transmitter.online = true
	failed := outbox.DrainAndRetry(func(frame session.PendingFrame) bool {
		return transmitter.Send(frame.Payload)
	})
	if len(failed) != 0 {
		t.Fatalf("expected clean drain, got %d failures", len(failed))
	}
	if len(transmitter.framesOfType(t, protocol.TypeSendMessage)) != 1 {
		t.Fatal("queued frame was not transmitted on drain")
	}

	store.Dispatch(domain.AddMessage{Message: domain.Message{
		ID:             "srv-1",
		CorrelationID:  msg.CorrelationID,
		ConversationID: "c1",
		Content:        "offline hello",
		SenderID:       "self",
		Status:         domain.MessageStatusSent,
		CreatedAt:      time.Now(),
	}})

	stored := store.Messages("c1")
	if len(stored) != 1 {
		t.Fatalf("confirmation duplicated the message: %+v", stored)
	}
	if stored[0].ID != "srv-1" || stored[0].Status != domain.MessageStatusSent {
		t.Fatalf("confirmation did not replace optimistic entry: %+v", stored[0])
	}
}

func TestSendMessage_UploadFailureMarksFailed(t *testing.T) {
	cfg := Config{SelfID: "self"}
	store := domain.NewConversationStore("self")
	transmitter := &fakeTransmitter{online: true}
	uploader := &fakeUploader{err: errors.New("cdn down")}
	m := NewMessenger(nil, store, transmitter, session.NewOutbox(), &fakeConversationAPI{}, &fakeReactions{}, uploader, cfg)

	_, err := m.SendMessage(context.Background(), "c1", "", &api.Upload{Filename: "a.png", MimeType: "image/png", Body: strings.NewReader("x")})
	if err == nil {
		t.Fatal("expected upload error")
	}
	stored := store.Messages("c1")
	if len(stored) != 1 || stored[0].Status != domain.MessageStatusFailed {
		t.Fatalf("expected failed optimistic entry, got %+v", stored)
	}
	if len(transmitter.sent) != 0 {
		t.Fatal("no frame should be sent when the upload fails")
	}
}

func TestSendMessage_AttachmentMimeDrivesMessageType(t *testing.T) {
	m, store, _, _, _ := newTestMessenger(Config{})

	msg, err := m.SendMessage(context.Background(), "c1", "", &api.Upload{Filename: "pic.png", MimeType: "image/png", Body: strings.NewReader("x")})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg.Type != domain.MessageTypeImage {
		t.Fatalf("expected image type, got %s", msg.Type)
	}
	stored := store.Messages("c1")
	if stored[0].Attachment == nil || stored[0].Attachment.URL != "https://cdn.example.com/f" {
		t.Fatalf("attachment URL missing from stored message: %+v", stored[0].Attachment)
	}
}

func TestSendMessage_PendingTimeoutFlipsToFailed(t *testing.T) {
	m, store, _, _, _ := newTestMessenger(Config{PendingTimeout: 20 * time.Millisecond})

	msg, err := m.SendMessage(context.Background(), "c1", "never confirmed", nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	deadline := time.After(time.Second)
	for {
		stored, ok := store.Message(msg.ID)
		if ok && stored.Status == domain.MessageStatusFailed {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("message never flipped to failed: %+v", stored)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestSendMessage_PendingTimeoutDropsQueuedFrameSoRetryTransmitsOnce(t *testing.T) {
	m, store, transmitter, outbox, _ := newTestMessenger(Config{PendingTimeout: 20 * time.Millisecond})
	transmitter.online = false

	msg, err := m.SendMessage(context.Background(), "c1", "offline and stale", nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if outbox.Len() != 1 {
		t.Fatalf("expected 1 queued frame, got %d", outbox.Len())
	}

	deadline := time.After(time.Second)
	for {
		stored, _ := store.Message(msg.ID)
		if stored.Status == domain.MessageStatusFailed {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("message never flipped to failed: %+v", stored)
		case <-time.After(5 * time.Millisecond):
		}
	}
	if outbox.Len() != 0 {
		t.Fatalf("timed-out message must leave the outbox, got %d frames", outbox.Len())
	}

	// Explicit retry while still offline queues one fresh frame; the next
	// reconnect must put the message on the wire exactly once.
	if err := m.Retry(msg.ID); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if outbox.Len() != 1 {
		t.Fatalf("expected exactly 1 queued frame after retry, got %d", outbox.Len())
	}

	transmitter.online = true
	outbox.DrainAndRetry(func(frame session.PendingFrame) bool {
		return transmitter.Send(frame.Payload)
	})
	if frames := transmitter.framesOfType(t, protocol.TypeSendMessage); len(frames) != 1 {
		t.Fatalf("expected the message transmitted once, got %d frames", len(frames))
	}
}

func TestRetry_RequiresFailedState(t *testing.T) {
	m, store, transmitter, _, _ := newTestMessenger(Config{})

	msg, err := m.SendMessage(context.Background(), "c1", "hello", nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := m.Retry(msg.ID); err == nil {
		t.Fatal("retry of a sending message should error")
	}

	store.Dispatch(domain.SetMessageStatus{MessageID: msg.ID, Status: domain.MessageStatusFailed})
	if err := m.Retry(msg.ID); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if got, _ := store.Message(msg.ID); got.Status != domain.MessageStatusSending {
		t.Fatalf("retry should flip back to sending, got %s", got.Status)
	}
	if frames := transmitter.framesOfType(t, protocol.TypeSendMessage); len(frames) != 2 {
		t.Fatalf("expected 2 send frames after retry, got %d", len(frames))
	}
}

func TestStartTyping_AutoStopEmitsSingleStopFrame(t *testing.T) {
	m, _, transmitter, _, _ := newTestMessenger(Config{TypingStop: 20 * time.Millisecond})

	m.StartTyping("c1")
	m.StartTyping("c1")
	time.Sleep(100 * time.Millisecond)

	frames := transmitter.framesOfType(t, protocol.TypeTyping)
	if len(frames) != 3 {
		t.Fatalf("expected 2 start + 1 stop frames, got %d", len(frames))
	}
	var last protocol.TypingPayload
	if err := json.Unmarshal(frames[2].Data, &last); err != nil {
		t.Fatalf("decode typing payload: %v", err)
	}
	if last.IsTyping {
		t.Fatal("final frame should announce typing stopped")
	}
}

func TestStopTyping_CancelsAutoStop(t *testing.T) {
	m, _, transmitter, _, _ := newTestMessenger(Config{TypingStop: 30 * time.Millisecond})

	m.StartTyping("c1")
	m.StopTyping("c1")
	time.Sleep(80 * time.Millisecond)

	frames := transmitter.framesOfType(t, protocol.TypeTyping)
	if len(frames) != 2 {
		t.Fatalf("timer should not fire after explicit stop, got %d frames", len(frames))
	}
}

func TestMarkConversationRead_ClearsUnreadOldestFirst(t *testing.T) {
	m, store, transmitter, _, _ := newTestMessenger(Config{})
	base := time.Now()
	store.Dispatch(domain.AddMessage{Message: domain.Message{ID: "m1", ConversationID: "c1", SenderID: "peer", Status: domain.MessageStatusDelivered, CreatedAt: base}})
	store.Dispatch(domain.AddMessage{Message: domain.Message{ID: "m2", ConversationID: "c1", SenderID: "peer", Status: domain.MessageStatusDelivered, CreatedAt: base.Add(time.Second)}})
	store.Dispatch(domain.AddMessage{Message: domain.Message{ID: "m3", ConversationID: "c1", SenderID: "self", Status: domain.MessageStatusSent, CreatedAt: base.Add(2 * time.Second)}})

	m.MarkConversationRead("c1")

	conv, _ := store.Conversation("c1")
	if conv.UnreadCount != 0 {
		t.Fatalf("expected unread 0, got %d", conv.UnreadCount)
	}
	frames := transmitter.framesOfType(t, protocol.TypeMarkRead)
	if len(frames) != 2 {
		t.Fatalf("expected 2 mark_read frames, got %d", len(frames))
	}
	var first protocol.MarkReadPayload
	if err := json.Unmarshal(frames[0].Data, &first); err != nil {
		t.Fatalf("decode mark_read payload: %v", err)
	}
	if first.MessageID != "m1" {
		t.Fatalf("expected oldest message first, got %s", first.MessageID)
	}

	// Acknowledging again sends nothing new.
	m.MarkConversationRead("c1")
	if got := len(transmitter.framesOfType(t, protocol.TypeMarkRead)); got != 2 {
		t.Fatalf("re-acknowledging should be a no-op, got %d frames", got)
	}
}

func TestLoadMoreMessages_UsesOldestCursorAndAppends(t *testing.T) {
	m, store, _, _, conversations := newTestMessenger(Config{})
	base := time.Now()
	store.Dispatch(domain.AddMessage{Message: domain.Message{ID: "m10", ConversationID: "c1", SenderID: "peer", CreatedAt: base}})
	conversations.pages["m10"] = []domain.Message{
		{ID: "m9", ConversationID: "c1", SenderID: "peer", CreatedAt: base.Add(-time.Minute)},
		{ID: "m8", ConversationID: "c1", SenderID: "peer", CreatedAt: base.Add(-2 * time.Minute)},
	}

	if err := m.LoadMoreMessages(context.Background(), "c1"); err != nil {
		t.Fatalf("load more: %v", err)
	}
	if conversations.cursors[0] != "m10" {
		t.Fatalf("expected oldest-message cursor, got %q", conversations.cursors[0])
	}
	msgs := store.Messages("c1")
	if len(msgs) != 3 || msgs[2].ID != "m8" {
		t.Fatalf("older page should append at the tail: %+v", msgs)
	}
	if store.LoadState("c1") != domain.LoadStateLoaded {
		t.Fatalf("unexpected load state %v", store.LoadState("c1"))
	}
}

func TestLoadMoreMessages_NoopWhenHistoryExhausted(t *testing.T) {
	m, store, _, _, conversations := newTestMessenger(Config{})
	store.Dispatch(domain.AppendHistory{ConversationID: "c1", Page: nil})

	if err := m.LoadMoreMessages(context.Background(), "c1"); err != nil {
		t.Fatalf("load more: %v", err)
	}
	if len(conversations.cursors) != 0 {
		t.Fatal("no fetch should happen once history is exhausted")
	}
}

func TestLoadMoreMessages_ErrorKeepsLoadedMessages(t *testing.T) {
	m, store, _, _, conversations := newTestMessenger(Config{})
	store.Dispatch(domain.AddMessage{Message: domain.Message{ID: "m1", ConversationID: "c1", SenderID: "peer", CreatedAt: time.Now()}})
	conversations.getErr = errors.New("backend down")

	if err := m.LoadMoreMessages(context.Background(), "c1"); err == nil {
		t.Fatal("expected fetch error")
	}
	if len(store.Messages("c1")) != 1 {
		t.Fatal("loaded messages must survive a failed page fetch")
	}
	if store.Error("c1") == "" {
		t.Fatal("expected conversation error to be recorded")
	}
}

func TestSetActiveConversation_SwitchesScopeAndLoadsInitialPage(t *testing.T) {
	m, store, transmitter, _, conversations := newTestMessenger(Config{})
	conversations.pages[""] = []domain.Message{
		{ID: "m1", ConversationID: "c1", SenderID: "peer", CreatedAt: time.Now()},
	}

	if err := m.SetActiveConversation(context.Background(), "c1"); err != nil {
		t.Fatalf("set active: %v", err)
	}
	if transmitter.disconnects != 1 {
		t.Fatalf("previous socket must be torn down, got %d disconnects", transmitter.disconnects)
	}
	if transmitter.Scope() != "c1" {
		t.Fatalf("expected scope c1, got %q", transmitter.Scope())
	}
	if store.ActiveConversation() != "c1" {
		t.Fatalf("store active id not updated: %q", store.ActiveConversation())
	}
	if len(store.Messages("c1")) != 1 {
		t.Fatal("initial page was not loaded")
	}

	// Switching again must not re-fetch an already-loaded conversation.
	if err := m.SetActiveConversation(context.Background(), ""); err != nil {
		t.Fatalf("clear active: %v", err)
	}
	if err := m.SetActiveConversation(context.Background(), "c1"); err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	if len(conversations.cursors) != 1 {
		t.Fatalf("expected a single initial fetch, got %d", len(conversations.cursors))
	}
}

func TestSetActiveConversation_LoadMoreDuringInitialFetchIsSkipped(t *testing.T) {
	m, _, _, _, conversations := newTestMessenger(Config{})
	conversations.pages[""] = []domain.Message{
		{ID: "m1", ConversationID: "c1", SenderID: "peer", Content: "hi", CreatedAt: time.Now()},
	}
	// Issued while the initial page is still in flight; the shared guard must
	// swallow it instead of starting a second fetch.
	conversations.onGet = func() {
		if err := m.LoadMoreMessages(context.Background(), "c1"); err != nil {
			t.Errorf("load more during initial fetch: %v", err)
		}
	}

	if err := m.SetActiveConversation(context.Background(), "c1"); err != nil {
		t.Fatalf("set active: %v", err)
	}
	if got := conversations.fetchCount(); got != 1 {
		t.Fatalf("expected a single fetch for c1, got %d", got)
	}
}

func TestAddReaction_RollsBackOnBackendError(t *testing.T) {
	cfg := Config{SelfID: "self"}
	store := domain.NewConversationStore("self")
	reactions := &fakeReactions{addErr: errors.New("rejected")}
	m := NewMessenger(nil, store, &fakeTransmitter{online: true}, session.NewOutbox(), &fakeConversationAPI{}, reactions, &fakeUploader{}, cfg)
	store.Dispatch(domain.AddMessage{Message: domain.Message{ID: "m1", ConversationID: "c1", SenderID: "peer", CreatedAt: time.Now()}})

	if err := m.AddReaction(context.Background(), "c1", "m1", "👍"); err == nil {
		t.Fatal("expected backend error")
	}
	msg, _ := store.Message("m1")
	if len(msg.Reactions) != 0 {
		t.Fatalf("optimistic reaction was not rolled back: %+v", msg.Reactions)
	}
}
