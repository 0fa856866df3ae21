package persistence

import (
	"testing"
	"time"

	"chatsync/internal/domain"
)

func TestConversationRepoUpsert_KeepsLatestActivityTimestamp(t *testing.T) {
	tdb := openTestDB(t)
	now := time.Now().UTC().Truncate(time.Millisecond)

	fresh := domain.Conversation{ID: "c1", UpdatedAt: now.Add(time.Minute), CreatedAt: now}
	if err := tdb.conversations.Upsert(tdb.ctx, fresh); err != nil {
		t.Fatalf("upsert fresh: %v", err)
	}

	stale := domain.Conversation{ID: "c1", UpdatedAt: now, CreatedAt: now}
	if err := tdb.conversations.Upsert(tdb.ctx, stale); err != nil {
		t.Fatalf("upsert stale: %v", err)
	}

	convs, err := tdb.conversations.ListByLastActivity(tdb.ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(convs) != 1 {
		t.Fatalf("expected one conversation, got %d", len(convs))
	}
	if !convs[0].UpdatedAt.Equal(now.Add(time.Minute)) {
		t.Fatalf("stale upsert moved updated_at backwards: %v", convs[0].UpdatedAt)
	}
}

func TestConversationRepoTouch_PreservesParticipants(t *testing.T) {
	tdb := openTestDB(t)
	now := time.Now().UTC().Truncate(time.Millisecond)

	conv := domain.Conversation{
		ID:           "c1",
		Participants: []domain.Participant{{ID: "peer", Name: "Peer"}},
		UnreadCount:  3,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := tdb.conversations.Upsert(tdb.ctx, conv); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	last := domain.Message{ID: "m1", ConversationID: "c1", Content: "ping", CreatedAt: now.Add(time.Minute)}
	if err := tdb.conversations.Touch(tdb.ctx, "c1", &last, last.CreatedAt.UnixMilli()); err != nil {
		t.Fatalf("touch: %v", err)
	}

	convs, err := tdb.conversations.ListByLastActivity(tdb.ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	got := convs[0]
	if len(got.Participants) != 1 || got.Participants[0].ID != "peer" {
		t.Fatalf("touch clobbered participants: %+v", got.Participants)
	}
	if got.UnreadCount != 3 {
		t.Fatalf("touch clobbered unread count: %d", got.UnreadCount)
	}
	if got.LastMessage == nil || got.LastMessage.ID != "m1" {
		t.Fatalf("touch did not record last message: %+v", got.LastMessage)
	}
	if !got.UpdatedAt.Equal(now.Add(time.Minute)) {
		t.Fatalf("touch did not advance updated_at: %v", got.UpdatedAt)
	}
}

func TestConversationRepoList_OrdersByLastActivity(t *testing.T) {
	tdb := openTestDB(t)
	now := time.Now().UTC().Truncate(time.Millisecond)

	for _, conv := range []domain.Conversation{
		{ID: "old", CreatedAt: now, UpdatedAt: now},
		{ID: "recent", CreatedAt: now, UpdatedAt: now.Add(time.Hour)},
	} {
		if err := tdb.conversations.Upsert(tdb.ctx, conv); err != nil {
			t.Fatalf("upsert %s: %v", conv.ID, err)
		}
	}

	convs, err := tdb.conversations.ListByLastActivity(tdb.ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if convs[0].ID != "recent" {
		t.Fatalf("expected recent first, got %+v", convs)
	}
}
