package chatclient

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aeriallens/livechat/internal/chatwire"
	server "github.com/aeriallens/livechat/internal/services/chat/app"
)

// newBackendDialer points a client at a real in-process backend.
func newBackendDialer(t *testing.T) Dialer {
	t.Helper()

	srv := httptest.NewServer(server.NewHandler())
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	dialer, err := NewWSDialer(wsURL, srv.URL)
	if err != nil {
		t.Fatalf("build dialer: %v", err)
	}
	return dialer
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func joinTestVisitor(t *testing.T, dialer Dialer, name string) (*Visitor, string) {
	t.Helper()
	visitor := NewVisitor(dialer, shortOptions())
	t.Cleanup(visitor.Close)
	conversationID, err := visitor.Join(testContext(t), "", name, "")
	if err != nil {
		t.Fatalf("visitor join: %v", err)
	}
	return visitor, conversationID
}

func joinTestAdmin(t *testing.T, dialer Dialer) *Admin {
	t.Helper()
	admin := NewAdmin(dialer, shortOptions())
	t.Cleanup(admin.Close)
	if err := admin.Join(testContext(t), "admin-1", "Support", ""); err != nil {
		t.Fatalf("admin join: %v", err)
	}
	return admin
}

func TestVisitorMessageDeliveredEndToEnd(t *testing.T) {
	dialer := newBackendDialer(t)
	visitor, _ := joinTestVisitor(t, dialer, "Dana")

	tempID, err := visitor.Send("do you cover agricultural mapping?")
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	waitFor(t, "delivery ack", func() bool {
		message, ok := visitor.timeline.find(tempID)
		return ok && message.Status == chatwire.StatusDelivered && message.ID != ""
	})
	if got := len(visitor.Messages()); got != 1 {
		t.Fatalf("messages = %d, want exactly 1", got)
	}
}

func TestAdminSeesVisitorMessageExactlyOnce(t *testing.T) {
	// The backend pushes both new-message and new-visitor-message for the
	// same logical message; the console must render it once.
	dialer := newBackendDialer(t)
	visitor, conversationID := joinTestVisitor(t, dialer, "Dana")
	admin := joinTestAdmin(t, dialer)

	if _, err := visitor.Send("hello"); err != nil {
		t.Fatalf("send: %v", err)
	}

	waitFor(t, "message to reach the console", func() bool {
		return len(admin.Messages(conversationID)) == 1
	})

	// Give the duplicate path time to arrive, then re-check.
	time.Sleep(100 * time.Millisecond)
	if got := len(admin.Messages(conversationID)); got != 1 {
		t.Fatalf("console messages = %d, want 1 after both pushes", got)
	}
}

func TestAdminConversationFlow(t *testing.T) {
	dialer := newBackendDialer(t)
	visitor, conversationID := joinTestVisitor(t, dialer, "Dana")
	admin := joinTestAdmin(t, dialer)

	if _, err := visitor.Send("first question"); err != nil {
		t.Fatalf("visitor send: %v", err)
	}
	if _, err := visitor.Send("second question"); err != nil {
		t.Fatalf("visitor send: %v", err)
	}

	waitFor(t, "unread count to reach 2", func() bool {
		return admin.Unread(conversationID) == 2
	})
	if got := admin.TotalUnread(); got != 2 {
		t.Fatalf("total unread = %d, want 2", got)
	}

	messages, err := admin.Select(testContext(t), conversationID)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("selected messages = %d, want 2", len(messages))
	}
	if admin.Unread(conversationID) != 0 {
		t.Fatal("unread count should reset on select")
	}

	// The batch mark-read on select reaches the visitor as read receipts.
	waitFor(t, "visitor read receipts", func() bool {
		for _, message := range visitor.Messages() {
			if message.Status != chatwire.StatusRead {
				return false
			}
		}
		return len(visitor.Messages()) == 2
	})

	if _, err := admin.Send(conversationID, "happy to help"); err != nil {
		t.Fatalf("admin send: %v", err)
	}
	waitFor(t, "reply to reach the visitor", func() bool {
		messages := visitor.Messages()
		return len(messages) == 3 && messages[2].SenderType == chatwire.RoleAdmin
	})
}

func TestAdminRegistryTracksRecentActivity(t *testing.T) {
	dialer := newBackendDialer(t)
	first, firstID := joinTestVisitor(t, dialer, "Dana")
	second, secondID := joinTestVisitor(t, dialer, "Morgan")
	admin := joinTestAdmin(t, dialer)

	if _, err := first.Send("older activity"); err != nil {
		t.Fatalf("send: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, err := second.Send("newer activity"); err != nil {
		t.Fatalf("send: %v", err)
	}

	waitFor(t, "both conversations to surface", func() bool {
		conversations := admin.Conversations()
		return len(conversations) == 2 &&
			conversations[0].LastMessage != nil &&
			conversations[1].LastMessage != nil
	})

	conversations := admin.Conversations()
	if conversations[0].ConversationID != secondID {
		t.Fatalf("top conversation = %q, want most recently active %q", conversations[0].ConversationID, secondID)
	}
	if conversations[1].ConversationID != firstID {
		t.Fatalf("second conversation = %q, want %q", conversations[1].ConversationID, firstID)
	}
}

func TestAdminRefreshesOnVisitorJoin(t *testing.T) {
	dialer := newBackendDialer(t)
	admin := joinTestAdmin(t, dialer)

	if got := len(admin.Conversations()); got != 0 {
		t.Fatalf("conversations before any visitor = %d, want 0", got)
	}

	_, conversationID := joinTestVisitor(t, dialer, "Dana")

	waitFor(t, "registry to pick up the new visitor", func() bool {
		preview, ok := admin.registry.get(conversationID)
		return ok && preview.VisitorName == "Dana" && preview.IsOnline
	})
}

func TestAdminSeesVisitorLeave(t *testing.T) {
	dialer := newBackendDialer(t)
	admin := joinTestAdmin(t, dialer)
	visitor, conversationID := joinTestVisitor(t, dialer, "Dana")

	waitFor(t, "visitor to show online", func() bool {
		preview, ok := admin.registry.get(conversationID)
		return ok && preview.IsOnline
	})

	visitor.Close()

	waitFor(t, "visitor to show offline", func() bool {
		preview, ok := admin.registry.get(conversationID)
		return ok && !preview.IsOnline
	})
}

func TestTypingIndicatorEndToEnd(t *testing.T) {
	dialer := newBackendDialer(t)
	visitor, conversationID := joinTestVisitor(t, dialer, "Dana")
	admin := joinTestAdmin(t, dialer)

	if err := visitor.Typing(); err != nil {
		t.Fatalf("typing: %v", err)
	}
	waitFor(t, "console typing indicator", func() bool {
		return admin.VisitorTyping(conversationID)
	})

	// No further input: the idle window lapses and the indicator clears
	// without an explicit stop.
	waitFor(t, "typing indicator to expire", func() bool {
		return !admin.VisitorTyping(conversationID)
	})
}

func TestAdminTypingReachesVisitor(t *testing.T) {
	dialer := newBackendDialer(t)
	visitor, conversationID := joinTestVisitor(t, dialer, "Dana")
	admin := joinTestAdmin(t, dialer)

	if _, err := admin.Select(testContext(t), conversationID); err != nil {
		t.Fatalf("select: %v", err)
	}
	if err := admin.Typing(); err != nil {
		t.Fatalf("typing: %v", err)
	}
	waitFor(t, "widget typing indicator", func() bool {
		return visitor.AdminTyping()
	})

	if err := admin.StopTyping(); err != nil {
		t.Fatalf("stop typing: %v", err)
	}
	waitFor(t, "widget typing indicator to clear", func() bool {
		return !visitor.AdminTyping()
	})
}

func TestVisitorResumesConversationAcrossClients(t *testing.T) {
	dialer := newBackendDialer(t)
	first, conversationID := joinTestVisitor(t, dialer, "Dana")

	tempID, err := first.Send("remember me")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	waitFor(t, "delivery ack", func() bool {
		message, ok := first.timeline.find(tempID)
		return ok && message.Status == chatwire.StatusDelivered
	})
	first.Close()

	second := NewVisitor(dialer, shortOptions())
	t.Cleanup(second.Close)
	settled, err := second.Join(testContext(t), conversationID, "Dana", "")
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if settled != conversationID {
		t.Fatalf("settled id = %q, want resumed %q", settled, conversationID)
	}
	waitFor(t, "history to load", func() bool {
		messages := second.Messages()
		return len(messages) == 1 && messages[0].Body == "remember me"
	})
}
