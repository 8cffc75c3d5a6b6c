package chatclient

import (
	"sync"
	"time"
)

// typingNotifier turns keystroke-level input signals into typing and
// stop-typing frames. The first input emits typing; further input within
// the idle window only pushes the expiry out; the window lapsing or an
// explicit stop emits stop-typing.
type typingNotifier struct {
	mu     sync.Mutex
	idle   time.Duration
	start  func() error
	stop   func() error
	timer  *time.Timer
	active bool
	closed bool
}

func newTypingNotifier(idle time.Duration, start func() error, stop func() error) *typingNotifier {
	return &typingNotifier{idle: idle, start: start, stop: stop}
}

// input records typing activity.
func (n *typingNotifier) input() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return ErrClosed
	}
	wasActive := n.active
	n.active = true
	if n.timer != nil {
		n.timer.Stop()
	}
	n.timer = time.AfterFunc(n.idle, n.expire)
	n.mu.Unlock()

	if wasActive {
		return nil
	}
	return n.start()
}

func (n *typingNotifier) expire() {
	n.mu.Lock()
	if n.closed || !n.active {
		n.mu.Unlock()
		return
	}
	n.active = false
	n.timer = nil
	n.mu.Unlock()
	_ = n.stop()
}

// submit ends the typing episode immediately, as when the message is sent.
func (n *typingNotifier) submit() error {
	n.mu.Lock()
	if n.closed || !n.active {
		n.mu.Unlock()
		return nil
	}
	n.active = false
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
	n.mu.Unlock()
	return n.stop()
}

func (n *typingNotifier) typing() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.active
}

func (n *typingNotifier) close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	n.active = false
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
}

// remoteTyping tracks which conversations currently show a remote typing
// indicator.
type remoteTyping struct {
	mu     sync.Mutex
	active map[string]bool
}

func newRemoteTyping() *remoteTyping {
	return &remoteTyping{active: make(map[string]bool)}
}

func (r *remoteTyping) set(conversationID string, typing bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if typing {
		r.active[conversationID] = true
		return
	}
	delete(r.active, conversationID)
}

func (r *remoteTyping) get(conversationID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active[conversationID]
}
