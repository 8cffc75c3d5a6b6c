package chatclient

import "sync"

// unreadCounts tracks per-conversation unread totals. Counts never go
// negative; a stale decrement clamps to zero.
type unreadCounts struct {
	mu     sync.Mutex
	counts map[string]int
}

func newUnreadCounts() *unreadCounts {
	return &unreadCounts{counts: make(map[string]int)}
}

func (u *unreadCounts) set(conversationID string, count int) {
	if count < 0 {
		count = 0
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if count == 0 {
		delete(u.counts, conversationID)
		return
	}
	u.counts[conversationID] = count
}

func (u *unreadCounts) reset(conversationID string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.counts, conversationID)
}

func (u *unreadCounts) get(conversationID string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.counts[conversationID]
}

// total sums unread counts across every conversation.
func (u *unreadCounts) total() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	sum := 0
	for _, count := range u.counts {
		sum += count
	}
	return sum
}
