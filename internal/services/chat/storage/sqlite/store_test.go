package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/aeriallens/livechat/internal/services/chat/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "chat.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	return store
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestUpsertAndGetConversation(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	err := store.UpsertConversation(ctx, storage.Conversation{
		ID:           "conv-1",
		VisitorName:  "Ama",
		VisitorEmail: "ama@example.com",
		CreatedAt:    created,
	})
	if err != nil {
		t.Fatalf("upsert conversation: %v", err)
	}

	conversation, err := store.GetConversation(ctx, "conv-1")
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	if conversation.VisitorName != "Ama" {
		t.Fatalf("visitor name = %q, want Ama", conversation.VisitorName)
	}
	if conversation.VisitorEmail != "ama@example.com" {
		t.Fatalf("visitor email = %q", conversation.VisitorEmail)
	}
	if !conversation.UpdatedAt.Equal(created) {
		t.Fatalf("updated at = %v, want %v", conversation.UpdatedAt, created)
	}

	// Re-joining with a new name must not duplicate the row.
	err = store.UpsertConversation(ctx, storage.Conversation{
		ID:          "conv-1",
		VisitorName: "Ama K.",
		UpdatedAt:   created.Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("re-upsert conversation: %v", err)
	}
	conversations, err := store.ListConversations(ctx, time.Time{})
	if err != nil {
		t.Fatalf("list conversations: %v", err)
	}
	if len(conversations) != 1 {
		t.Fatalf("expected 1 conversation, got %d", len(conversations))
	}
	if conversations[0].VisitorName != "Ama K." {
		t.Fatalf("visitor name after upsert = %q", conversations[0].VisitorName)
	}
}

func TestGetConversationNotFound(t *testing.T) {
	store := openTestStore(t)
	if _, err := store.GetConversation(context.Background(), "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListConversationsOrderAndCutoff(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i, id := range []string{"conv-a", "conv-b", "conv-c"} {
		err := store.UpsertConversation(ctx, storage.Conversation{
			ID:          id,
			VisitorName: "Visitor",
			CreatedAt:   base.Add(time.Duration(i) * time.Hour),
		})
		if err != nil {
			t.Fatalf("upsert %s: %v", id, err)
		}
	}

	conversations, err := store.ListConversations(ctx, time.Time{})
	if err != nil {
		t.Fatalf("list conversations: %v", err)
	}
	if len(conversations) != 3 {
		t.Fatalf("expected 3 conversations, got %d", len(conversations))
	}
	if conversations[0].ID != "conv-c" || conversations[2].ID != "conv-a" {
		t.Fatalf("unexpected order: %s, %s, %s", conversations[0].ID, conversations[1].ID, conversations[2].ID)
	}

	recent, err := store.ListConversations(ctx, base.Add(90*time.Minute))
	if err != nil {
		t.Fatalf("list recent conversations: %v", err)
	}
	if len(recent) != 1 || recent[0].ID != "conv-c" {
		t.Fatalf("expected only conv-c past cutoff, got %+v", recent)
	}
}

func TestAppendMessageBumpsConversation(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if err := store.UpsertConversation(ctx, storage.Conversation{ID: "conv-1", VisitorName: "Ama", CreatedAt: base}); err != nil {
		t.Fatalf("upsert conversation: %v", err)
	}
	err := store.AppendMessage(ctx, storage.Message{
		ID:             "msg-1",
		TempID:         "temp-1",
		ConversationID: "conv-1",
		SenderName:     "Ama",
		SenderType:     "visitor",
		Body:           "Hello",
		CreatedAt:      base.Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("append message: %v", err)
	}

	conversation, err := store.GetConversation(ctx, "conv-1")
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	if !conversation.UpdatedAt.Equal(base.Add(time.Minute)) {
		t.Fatalf("updated at = %v, want bumped to message time", conversation.UpdatedAt)
	}

	last, err := store.LastMessage(ctx, "conv-1")
	if err != nil {
		t.Fatalf("last message: %v", err)
	}
	if last.ID != "msg-1" || last.Body != "Hello" {
		t.Fatalf("unexpected last message %+v", last)
	}
}

func TestListMessagesAscendingWithLimit(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if err := store.UpsertConversation(ctx, storage.Conversation{ID: "conv-1", VisitorName: "Ama", CreatedAt: base}); err != nil {
		t.Fatalf("upsert conversation: %v", err)
	}
	for i := 0; i < 5; i++ {
		err := store.AppendMessage(ctx, storage.Message{
			ID:             string(rune('a' + i)),
			ConversationID: "conv-1",
			SenderName:     "Ama",
			SenderType:     "visitor",
			Body:           "m",
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("append message %d: %v", i, err)
		}
	}

	all, err := store.ListMessages(ctx, "conv-1", 0)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("expected 5 messages, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].CreatedAt.Before(all[i-1].CreatedAt) {
			t.Fatalf("messages out of order at %d", i)
		}
	}

	tail, err := store.ListMessages(ctx, "conv-1", 2)
	if err != nil {
		t.Fatalf("list limited messages: %v", err)
	}
	if len(tail) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(tail))
	}
	if tail[0].ID != "d" || tail[1].ID != "e" {
		t.Fatalf("expected newest tail in ascending order, got %s, %s", tail[0].ID, tail[1].ID)
	}
}

func TestMarkMessagesReadReportsChanges(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if err := store.UpsertConversation(ctx, storage.Conversation{ID: "conv-1", VisitorName: "Ama", CreatedAt: base}); err != nil {
		t.Fatalf("upsert conversation: %v", err)
	}
	for _, id := range []string{"msg-1", "msg-2"} {
		err := store.AppendMessage(ctx, storage.Message{
			ID:             id,
			ConversationID: "conv-1",
			SenderName:     "Ama",
			SenderType:     "visitor",
			Body:           "m",
			CreatedAt:      base,
		})
		if err != nil {
			t.Fatalf("append %s: %v", id, err)
		}
	}

	changed, err := store.MarkMessagesRead(ctx, "conv-1", []string{"msg-1", "missing"})
	if err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if len(changed) != 1 || changed[0] != "msg-1" {
		t.Fatalf("expected only msg-1 to change, got %v", changed)
	}

	// Second pass is a no-op for already-read messages.
	changed, err = store.MarkMessagesRead(ctx, "conv-1", []string{"msg-1"})
	if err != nil {
		t.Fatalf("mark read again: %v", err)
	}
	if len(changed) != 0 {
		t.Fatalf("expected no changes on replay, got %v", changed)
	}
}

func TestUnreadCounter(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.UpsertConversation(ctx, storage.Conversation{ID: "conv-1", VisitorName: "Ama"}); err != nil {
		t.Fatalf("upsert conversation: %v", err)
	}

	for want := 1; want <= 3; want++ {
		count, err := store.IncrementUnread(ctx, "conv-1")
		if err != nil {
			t.Fatalf("increment unread: %v", err)
		}
		if count != want {
			t.Fatalf("unread = %d, want %d", count, want)
		}
	}

	if err := store.ResetUnread(ctx, "conv-1"); err != nil {
		t.Fatalf("reset unread: %v", err)
	}
	conversation, err := store.GetConversation(ctx, "conv-1")
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	if conversation.UnreadCount != 0 {
		t.Fatalf("unread after reset = %d, want 0", conversation.UnreadCount)
	}

	if _, err := store.IncrementUnread(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing conversation, got %v", err)
	}
}

func TestAppendMessageRejectsDuplicateTempID(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.UpsertConversation(ctx, storage.Conversation{ID: "conv-1", VisitorName: "Ama"}); err != nil {
		t.Fatalf("upsert conversation: %v", err)
	}
	first := storage.Message{
		ID:             "msg-1",
		TempID:         "temp-1",
		ConversationID: "conv-1",
		SenderName:     "Ama",
		SenderType:     "visitor",
		Body:           "hello",
	}
	if err := store.AppendMessage(ctx, first); err != nil {
		t.Fatalf("append message: %v", err)
	}

	duplicate := first
	duplicate.ID = "msg-2"
	if err := store.AppendMessage(ctx, duplicate); err == nil {
		t.Fatal("expected error appending a second message under the same tempId")
	}

	found, err := store.GetMessageByTempID(ctx, "conv-1", "temp-1")
	if err != nil {
		t.Fatalf("get message by temp id: %v", err)
	}
	if found.ID != "msg-1" {
		t.Fatalf("message id = %q, want msg-1", found.ID)
	}

	if _, err := store.GetMessageByTempID(ctx, "conv-1", "temp-missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
