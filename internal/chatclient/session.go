package chatclient

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/aeriallens/livechat/internal/chatwire"
	"github.com/aeriallens/livechat/internal/platform/timeouts"
)

// Options tune client timing. Zero values select the shared defaults.
type Options struct {
	// AckTimeout caps how long an optimistic message waits for the backend
	// acknowledgment before it is marked failed.
	AckTimeout time.Duration
	// TypingIdle is the quiet period after which the local typing signal
	// expires and stop-typing is sent automatically.
	TypingIdle time.Duration
	// ReconnectDelay is the pause between redial attempts after a drop.
	ReconnectDelay time.Duration
}

func (o Options) withDefaults() Options {
	if o.AckTimeout <= 0 {
		o.AckTimeout = timeouts.DeliveryAck
	}
	if o.TypingIdle <= 0 {
		o.TypingIdle = timeouts.TypingIdle
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = timeouts.Reconnect
	}
	return o
}

// ConnectionState is the transport status a client surfaces to its UI.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
)

// session owns one logical chat connection. It redials after a drop, replays
// the owning client's join handshake, and routes inbound frames to the
// client's handler plus any one-shot waiter for that event.
type session struct {
	dialer Dialer
	opts   Options

	// handler sees every inbound frame before waiters are satisfied, so
	// client state is current when a blocking call returns.
	handler func(chatwire.Frame)
	// rejoin replays the join handshake on a fresh connection.
	rejoin func() error

	mu       sync.Mutex
	conn     Conn
	closed   bool
	state    ConnectionState
	attempts int
	waiters  map[string][]*frameWaiter
}

type frameWaiter struct {
	frames chan chatwire.Frame
	once   sync.Once
}

func (w *frameWaiter) deliver(frame chatwire.Frame) {
	w.once.Do(func() {
		w.frames <- frame
		close(w.frames)
	})
}

func (w *frameWaiter) cancel() {
	w.once.Do(func() {
		close(w.frames)
	})
}

func newSession(dialer Dialer, opts Options) *session {
	return &session{
		dialer:  dialer,
		opts:    opts.withDefaults(),
		state:   StateDisconnected,
		waiters: make(map[string][]*frameWaiter),
	}
}

// connect dials the backend and starts the read loop. The context bounds the
// dial only; the read loop lives until Close.
func (s *session) connect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.conn != nil {
		s.mu.Unlock()
		return nil
	}
	s.state = StateConnecting
	s.mu.Unlock()

	conn, err := s.dialer.Dial(ctx)
	if err != nil {
		s.mu.Lock()
		s.state = StateDisconnected
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}
	s.conn = conn
	s.state = StateConnected
	s.attempts = 0
	s.mu.Unlock()

	go s.readLoop(conn)
	return nil
}

func (s *session) readLoop(conn Conn) {
	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			s.handleDrop(conn)
			return
		}
		s.dispatch(frame)
	}
}

func (s *session) dispatch(frame chatwire.Frame) {
	if s.handler != nil {
		s.handler(frame)
	}

	s.mu.Lock()
	pending := s.waiters[frame.Event]
	if len(pending) > 0 {
		s.waiters[frame.Event] = pending[1:]
	}
	s.mu.Unlock()

	if len(pending) > 0 {
		pending[0].deliver(frame)
	}
}

// handleDrop tears down the dead connection and redials until Close. Each
// successful redial replays the join handshake before frames flow again.
func (s *session) handleDrop(dead Conn) {
	s.mu.Lock()
	if s.closed || s.conn != dead {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.state = StateDisconnected
	s.mu.Unlock()
	_ = dead.Close()
	s.cancelWaiters()

	for {
		time.Sleep(s.opts.ReconnectDelay)

		s.mu.Lock()
		if s.closed || s.conn != nil {
			s.mu.Unlock()
			return
		}
		s.state = StateConnecting
		s.attempts++
		s.mu.Unlock()

		conn, err := s.dialer.Dial(context.Background())
		if err != nil {
			log.Printf("chat client: redial failed: %v", err)
			s.mu.Lock()
			s.state = StateDisconnected
			s.mu.Unlock()
			continue
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		s.conn = conn
		s.state = StateConnected
		s.attempts = 0
		s.mu.Unlock()

		go s.readLoop(conn)
		if s.rejoin != nil {
			if err := s.rejoin(); err != nil {
				log.Printf("chat client: rejoin failed: %v", err)
			}
		}
		return
	}
}

func (s *session) send(event string, payload any) error {
	s.mu.Lock()
	conn := s.conn
	closed := s.closed
	s.mu.Unlock()

	if closed {
		return ErrClosed
	}
	if conn == nil {
		return ErrNotConnected
	}

	frame, err := chatwire.NewFrame(event, payload)
	if err != nil {
		return err
	}
	return conn.WriteFrame(frame)
}

// request writes a frame and blocks for the next frame with the reply event.
// The waiter is registered before the write so a reply the read loop
// dispatches while WriteFrame is still in flight cannot slip past.
func (s *session) request(ctx context.Context, event string, payload any, reply string) (chatwire.Frame, error) {
	waiter, err := s.registerWaiter(reply)
	if err != nil {
		return chatwire.Frame{}, err
	}
	if err := s.send(event, payload); err != nil {
		s.removeWaiter(reply, waiter)
		return chatwire.Frame{}, err
	}
	return s.waitOn(ctx, reply, waiter)
}

func (s *session) registerWaiter(event string) (*frameWaiter, error) {
	waiter := &frameWaiter{frames: make(chan chatwire.Frame, 1)}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.waiters[event] = append(s.waiters[event], waiter)
	s.mu.Unlock()
	return waiter, nil
}

func (s *session) waitOn(ctx context.Context, event string, waiter *frameWaiter) (chatwire.Frame, error) {
	select {
	case <-ctx.Done():
		s.removeWaiter(event, waiter)
		return chatwire.Frame{}, ctx.Err()
	case frame, ok := <-waiter.frames:
		if !ok {
			return chatwire.Frame{}, ErrNotConnected
		}
		return frame, nil
	}
}

func (s *session) removeWaiter(event string, waiter *frameWaiter) {
	s.mu.Lock()
	pending := s.waiters[event]
	for i, candidate := range pending {
		if candidate == waiter {
			s.waiters[event] = append(pending[:i:i], pending[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
	waiter.cancel()
}

func (s *session) cancelWaiters() {
	s.mu.Lock()
	pending := s.waiters
	s.waiters = make(map[string][]*frameWaiter)
	s.mu.Unlock()

	for _, waiters := range pending {
		for _, waiter := range waiters {
			waiter.cancel()
		}
	}
}

func (s *session) connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

func (s *session) status() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// close shuts the channel down and cancels every pending waiter.
func (s *session) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	conn := s.conn
	s.conn = nil
	s.state = StateDisconnected
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	s.cancelWaiters()
}
