package server

import (
	"encoding/json"
	"sync"

	"github.com/aeriallens/livechat/internal/chatwire"
)

// wsPeer serializes frame writes onto one websocket connection.
type wsPeer struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

func newWSPeer(encoder *json.Encoder) *wsPeer {
	return &wsPeer{encoder: encoder}
}

func (p *wsPeer) writeFrame(frame chatwire.Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.encoder.Encode(frame)
}

// connSession tracks what one connection has joined as.
type connSession struct {
	mu             sync.Mutex
	peer           *wsPeer
	role           chatwire.Role
	conversationID string
	adminID        string
	adminName      string
}

func newConnSession(peer *wsPeer) *connSession {
	return &connSession{peer: peer}
}

func (s *connSession) setVisitor(conversationID string) {
	s.mu.Lock()
	s.role = chatwire.RoleVisitor
	s.conversationID = conversationID
	s.mu.Unlock()
}

func (s *connSession) setAdmin(userID string, name string) {
	s.mu.Lock()
	s.role = chatwire.RoleAdmin
	s.adminID = userID
	s.adminName = name
	s.mu.Unlock()
}

func (s *connSession) snapshot() (chatwire.Role, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role, s.conversationID
}
