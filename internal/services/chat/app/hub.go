package server

import (
	"sync"

	"github.com/aeriallens/livechat/internal/chatwire"
)

// connHub tracks which peers are attached to which conversation and which
// peers are admin consoles. Persistence lives in the store; the hub only owns
// live connection fan-out.
type connHub struct {
	mu       sync.Mutex
	admins   map[*wsPeer]struct{}
	visitors map[string]map[*wsPeer]struct{}
}

func newConnHub() *connHub {
	return &connHub{
		admins:   make(map[*wsPeer]struct{}),
		visitors: make(map[string]map[*wsPeer]struct{}),
	}
}

func (h *connHub) joinAdmin(peer *wsPeer) {
	h.mu.Lock()
	h.admins[peer] = struct{}{}
	h.mu.Unlock()
}

func (h *connHub) joinVisitor(conversationID string, peer *wsPeer) {
	h.mu.Lock()
	peers, ok := h.visitors[conversationID]
	if !ok {
		peers = make(map[*wsPeer]struct{})
		h.visitors[conversationID] = peers
	}
	peers[peer] = struct{}{}
	h.mu.Unlock()
}

// leave removes the peer everywhere and reports whether it was the last
// visitor peer of its conversation.
func (h *connHub) leave(peer *wsPeer, role chatwire.Role, conversationID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.admins, peer)
	if role != chatwire.RoleVisitor || conversationID == "" {
		return false
	}
	peers, ok := h.visitors[conversationID]
	if !ok {
		return false
	}
	delete(peers, peer)
	if len(peers) > 0 {
		return false
	}
	delete(h.visitors, conversationID)
	return true
}

func (h *connHub) adminPeers() []*wsPeer {
	h.mu.Lock()
	defer h.mu.Unlock()
	peers := make([]*wsPeer, 0, len(h.admins))
	for peer := range h.admins {
		peers = append(peers, peer)
	}
	return peers
}

func (h *connHub) visitorPeers(conversationID string) []*wsPeer {
	h.mu.Lock()
	defer h.mu.Unlock()
	stored := h.visitors[conversationID]
	peers := make([]*wsPeer, 0, len(stored))
	for peer := range stored {
		peers = append(peers, peer)
	}
	return peers
}

func (h *connHub) visitorOnline(conversationID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.visitors[conversationID]) > 0
}

// rolePeers returns live peers of one role scoped to a conversation; admin
// peers are never conversation-scoped.
func (h *connHub) rolePeers(role chatwire.Role, conversationID string) []*wsPeer {
	if role == chatwire.RoleAdmin {
		return h.adminPeers()
	}
	return h.visitorPeers(conversationID)
}
