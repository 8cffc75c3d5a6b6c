package chatclient

import (
	"testing"

	"github.com/aeriallens/livechat/internal/chatwire"
)

func TestTimelineDedupByTempIDAndServerID(t *testing.T) {
	line := newTimeline()

	optimistic := chatwire.Message{
		TempID:         "temp-1",
		ConversationID: "conv-1",
		Body:           "hello",
		Status:         chatwire.StatusSending,
	}
	if added := line.upsert(optimistic); !added {
		t.Fatal("optimistic message should append")
	}

	echo := chatwire.Message{
		ID:             "srv-1",
		TempID:         "temp-1",
		ConversationID: "conv-1",
		Body:           "hello",
		Status:         chatwire.StatusDelivered,
	}
	if added := line.upsert(echo); added {
		t.Fatal("echo with matching tempId should merge, not append")
	}

	messages := line.snapshot()
	if len(messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(messages))
	}
	if messages[0].ID != "srv-1" {
		t.Fatalf("merged id = %q, want srv-1", messages[0].ID)
	}
	if messages[0].Status != chatwire.StatusDelivered {
		t.Fatalf("merged status = %q, want delivered", messages[0].Status)
	}

	// A later copy carrying only the server id still dedupes.
	byServerID := chatwire.Message{ID: "srv-1", ConversationID: "conv-1", Body: "hello"}
	if added := line.upsert(byServerID); added {
		t.Fatal("copy with matching server id should merge")
	}
	if len(line.snapshot()) != 1 {
		t.Fatal("timeline grew on duplicate")
	}
}

func TestTimelineStatusNeverMovesBackward(t *testing.T) {
	line := newTimeline()
	line.upsert(chatwire.Message{ID: "srv-1", Status: chatwire.StatusRead})

	line.upsert(chatwire.Message{ID: "srv-1", Status: chatwire.StatusDelivered})
	if got := line.snapshot()[0].Status; got != chatwire.StatusRead {
		t.Fatalf("status = %q, want read preserved", got)
	}

	if line.advance("srv-1", chatwire.StatusDelivered) {
		t.Fatal("advance to an earlier status should be refused")
	}
}

func TestTimelineConfirmBindsServerID(t *testing.T) {
	line := newTimeline()
	line.upsert(chatwire.Message{TempID: "temp-1", Status: chatwire.StatusSending})

	if !line.confirm("temp-1", "srv-9") {
		t.Fatal("confirm should find the pending message")
	}
	got := line.snapshot()[0]
	if got.ID != "srv-9" {
		t.Fatalf("id = %q, want srv-9", got.ID)
	}
	if got.Status != chatwire.StatusDelivered {
		t.Fatalf("status = %q, want delivered", got.Status)
	}

	if line.confirm("temp-unknown", "srv-10") {
		t.Fatal("confirm of unknown tempId should report false")
	}
}

func TestTimelineReplaceKeepsPendingLocalMessages(t *testing.T) {
	line := newTimeline()
	line.upsert(chatwire.Message{TempID: "temp-pending", Body: "unsent", Status: chatwire.StatusSending})
	line.upsert(chatwire.Message{ID: "srv-1", Body: "old", Status: chatwire.StatusDelivered})

	line.replace([]chatwire.Message{
		{ID: "srv-1", Body: "old", Status: chatwire.StatusRead},
		{ID: "srv-2", Body: "new", Status: chatwire.StatusDelivered},
	})

	messages := line.snapshot()
	if len(messages) != 3 {
		t.Fatalf("messages = %d, want history plus pending local", len(messages))
	}
	last := messages[len(messages)-1]
	if last.TempID != "temp-pending" {
		t.Fatalf("trailing message tempId = %q, want temp-pending", last.TempID)
	}
}

func TestTimelineMarkRead(t *testing.T) {
	line := newTimeline()
	line.upsert(chatwire.Message{ID: "srv-1", Status: chatwire.StatusDelivered})
	line.upsert(chatwire.Message{ID: "srv-2", Status: chatwire.StatusDelivered})

	if changed := line.markRead([]string{"srv-1", "srv-404"}); changed != 1 {
		t.Fatalf("changed = %d, want 1", changed)
	}
	got := line.snapshot()
	if got[0].Status != chatwire.StatusRead || !got[0].IsRead {
		t.Fatalf("first message = %+v, want read", got[0])
	}
	if got[1].Status != chatwire.StatusDelivered {
		t.Fatalf("second message status = %q, want delivered untouched", got[1].Status)
	}
}

func TestRegistrySortsByMostRecentActivity(t *testing.T) {
	reg := newRegistry()
	reg.replace([]chatwire.ConversationPreview{
		{ConversationID: "conv-a", UpdatedAt: 100},
		{ConversationID: "conv-b", UpdatedAt: 300},
		{ConversationID: "conv-c", UpdatedAt: 200},
	})

	sorted := reg.sorted()
	want := []string{"conv-b", "conv-c", "conv-a"}
	for i, id := range want {
		if sorted[i].ConversationID != id {
			t.Fatalf("sorted[%d] = %q, want %q", i, sorted[i].ConversationID, id)
		}
	}

	// New activity moves a conversation to the front.
	reg.recordMessage(chatwire.Message{
		ConversationID: "conv-a",
		Body:           "fresh",
		CreatedAt:      400,
		SenderType:     chatwire.RoleVisitor,
	})
	sorted = reg.sorted()
	if sorted[0].ConversationID != "conv-a" {
		t.Fatalf("sorted[0] = %q, want conv-a after new message", sorted[0].ConversationID)
	}
	if sorted[0].LastMessage == nil || sorted[0].LastMessage.Body != "fresh" {
		t.Fatal("preview should carry the latest message")
	}
}

func TestRegistryTieBreaksOnConversationID(t *testing.T) {
	reg := newRegistry()
	reg.replace([]chatwire.ConversationPreview{
		{ConversationID: "conv-b", UpdatedAt: 100},
		{ConversationID: "conv-a", UpdatedAt: 100},
	})
	sorted := reg.sorted()
	if sorted[0].ConversationID != "conv-a" {
		t.Fatalf("sorted[0] = %q, want deterministic tie-break", sorted[0].ConversationID)
	}
}

func TestRegistryOnlineFlag(t *testing.T) {
	reg := newRegistry()
	reg.replace([]chatwire.ConversationPreview{{ConversationID: "conv-1", IsOnline: true}})

	reg.setOnline("conv-1", false)
	preview, ok := reg.get("conv-1")
	if !ok || preview.IsOnline {
		t.Fatalf("preview = %+v, want offline", preview)
	}

	// An offline flip for an unknown conversation is dropped rather than
	// creating a ghost entry.
	reg.setOnline("conv-unknown", false)
	if _, ok := reg.get("conv-unknown"); ok {
		t.Fatal("offline signal created a registry entry")
	}
}

func TestUnreadCountsNeverNegative(t *testing.T) {
	counts := newUnreadCounts()
	counts.set("conv-1", -5)
	if got := counts.get("conv-1"); got != 0 {
		t.Fatalf("count = %d, want clamped to 0", got)
	}

	counts.set("conv-1", 2)
	counts.set("conv-2", 3)
	if got := counts.total(); got != 5 {
		t.Fatalf("total = %d, want 5", got)
	}

	counts.reset("conv-1")
	if got := counts.get("conv-1"); got != 0 {
		t.Fatalf("count after reset = %d, want 0", got)
	}
	if got := counts.total(); got != 3 {
		t.Fatalf("total after reset = %d, want 3", got)
	}
}
