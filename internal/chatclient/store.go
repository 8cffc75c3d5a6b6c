package chatclient

import (
	"sort"
	"sync"

	"github.com/aeriallens/livechat/internal/chatwire"
)

// timeline is the ordered message list of one conversation. It deduplicates
// by server id or tempId, so an optimistic copy and its broadcast echo
// collapse into a single entry.
type timeline struct {
	mu       sync.Mutex
	messages []chatwire.Message
}

func newTimeline() *timeline {
	return &timeline{}
}

// replace swaps in an authoritative history, keeping any local messages the
// history does not know about yet. Pending sends survive a rejoin this way.
func (t *timeline) replace(history []chatwire.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var kept []chatwire.Message
	for _, existing := range t.messages {
		found := false
		for _, incoming := range history {
			if existing.SameLogical(incoming) {
				found = true
				break
			}
		}
		if !found && (existing.Status == chatwire.StatusSending || existing.Status == chatwire.StatusFailed) {
			kept = append(kept, existing)
		}
	}
	t.messages = append(append([]chatwire.Message{}, history...), kept...)
}

// upsert merges the message into the timeline. An existing logical match is
// updated in place; the server copy wins on identity fields while the
// delivery status only moves forward.
func (t *timeline) upsert(message chatwire.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.messages {
		if !t.messages[i].SameLogical(message) {
			continue
		}
		if message.ID != "" {
			t.messages[i].ID = message.ID
		}
		if message.Body != "" {
			t.messages[i].Body = message.Body
		}
		if message.CreatedAt != 0 {
			t.messages[i].CreatedAt = message.CreatedAt
		}
		if t.messages[i].Status.CanAdvanceTo(message.Status) {
			t.messages[i].Status = message.Status
		}
		if message.IsRead {
			t.messages[i].IsRead = true
		}
		return false
	}

	t.messages = append(t.messages, message)
	return true
}

// advance moves one message's delivery status forward. The key matches the
// server id first and falls back to the tempId. Backward transitions are
// ignored per the delivery state machine.
func (t *timeline) advance(key string, status chatwire.DeliveryStatus) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.messages {
		if t.messages[i].ID != key && t.messages[i].TempID != key {
			continue
		}
		if !t.messages[i].Status.CanAdvanceTo(status) {
			return false
		}
		t.messages[i].Status = status
		if status == chatwire.StatusRead {
			t.messages[i].IsRead = true
		}
		return true
	}
	return false
}

// replaceStatus forces a message's status outside the monotonic order. The
// two callers are timeout failure (sending to failed) and retry (failed
// back to sending).
func (t *timeline) replaceStatus(key string, status chatwire.DeliveryStatus) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.messages {
		if t.messages[i].ID != key && t.messages[i].TempID != key {
			continue
		}
		t.messages[i].Status = status
		return true
	}
	return false
}

// confirm records the backend acknowledgment for an optimistic message,
// binding the server id and advancing the status to delivered.
func (t *timeline) confirm(tempID string, serverID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.messages {
		if t.messages[i].TempID != tempID {
			continue
		}
		if t.messages[i].ID == "" {
			t.messages[i].ID = serverID
		}
		if t.messages[i].Status.CanAdvanceTo(chatwire.StatusDelivered) {
			t.messages[i].Status = chatwire.StatusDelivered
		}
		return true
	}
	return false
}

// markRead flips the listed messages to read.
func (t *timeline) markRead(messageIDs []string) int {
	changed := 0
	for _, id := range messageIDs {
		if t.advance(id, chatwire.StatusRead) {
			changed++
		}
	}
	return changed
}

// find returns a copy of the message matching the id or tempId.
func (t *timeline) find(key string) (chatwire.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, message := range t.messages {
		if message.ID == key || message.TempID == key {
			return message, true
		}
	}
	return chatwire.Message{}, false
}

// snapshot returns a copy of the timeline in order.
func (t *timeline) snapshot() []chatwire.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]chatwire.Message{}, t.messages...)
}

// registry is the admin-side conversation list. Snapshots are sorted by
// most recent activity first, with the conversation id as a stable
// tie-break.
type registry struct {
	mu      sync.Mutex
	entries map[string]chatwire.ConversationPreview
}

func newRegistry() *registry {
	return &registry{entries: make(map[string]chatwire.ConversationPreview)}
}

// replace swaps the registry for an authoritative listing.
func (r *registry) replace(previews []chatwire.ConversationPreview) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = make(map[string]chatwire.ConversationPreview, len(previews))
	for _, preview := range previews {
		r.entries[preview.ConversationID] = preview
	}
}

func (r *registry) get(conversationID string) (chatwire.ConversationPreview, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	preview, ok := r.entries[conversationID]
	return preview, ok
}

// recordMessage folds a live message into the conversation's preview,
// creating a placeholder entry for conversations the last refresh missed.
func (r *registry) recordMessage(message chatwire.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	preview, ok := r.entries[message.ConversationID]
	if !ok {
		preview = chatwire.ConversationPreview{ConversationID: message.ConversationID}
	}
	last := message
	preview.LastMessage = &last
	if message.CreatedAt > preview.UpdatedAt {
		preview.UpdatedAt = message.CreatedAt
	}
	if message.SenderType == chatwire.RoleVisitor {
		preview.IsOnline = true
	}
	r.entries[message.ConversationID] = preview
}

func (r *registry) setUnread(conversationID string, count int) {
	if count < 0 {
		count = 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	preview, ok := r.entries[conversationID]
	if !ok {
		preview = chatwire.ConversationPreview{ConversationID: conversationID}
	}
	preview.UnreadCount = count
	r.entries[conversationID] = preview
}

func (r *registry) setOnline(conversationID string, online bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	preview, ok := r.entries[conversationID]
	if !ok {
		if !online {
			return
		}
		preview = chatwire.ConversationPreview{ConversationID: conversationID}
	}
	preview.IsOnline = online
	r.entries[conversationID] = preview
}

// sorted returns the registry ordered by updatedAt descending.
func (r *registry) sorted() []chatwire.ConversationPreview {
	r.mu.Lock()
	defer r.mu.Unlock()

	previews := make([]chatwire.ConversationPreview, 0, len(r.entries))
	for _, preview := range r.entries {
		previews = append(previews, preview)
	}
	sort.Slice(previews, func(i, j int) bool {
		if previews[i].UpdatedAt != previews[j].UpdatedAt {
			return previews[i].UpdatedAt > previews[j].UpdatedAt
		}
		return previews[i].ConversationID < previews[j].ConversationID
	})
	return previews
}
