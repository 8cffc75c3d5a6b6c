package chatclient

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/net/websocket"

	"github.com/aeriallens/livechat/internal/chatwire"
)

// Conn is a single established chat channel.
type Conn interface {
	WriteFrame(frame chatwire.Frame) error
	ReadFrame() (chatwire.Frame, error)
	Close() error
}

// Dialer establishes chat channels. The session redials through the same
// dialer after a dropped connection.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

type wsDialer struct {
	url    string
	origin string
}

// NewWSDialer returns a Dialer for the backend websocket endpoint. The
// origin is sent in the handshake; an empty origin falls back to the url.
func NewWSDialer(url string, origin string) (Dialer, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, fmt.Errorf("websocket url is required")
	}
	origin = strings.TrimSpace(origin)
	if origin == "" {
		origin = url
	}
	return &wsDialer{url: url, origin: origin}, nil
}

func (d *wsDialer) Dial(ctx context.Context) (Conn, error) {
	config, err := websocket.NewConfig(d.url, d.origin)
	if err != nil {
		return nil, fmt.Errorf("build websocket config: %w", err)
	}

	type dialResult struct {
		conn *websocket.Conn
		err  error
	}
	results := make(chan dialResult, 1)
	go func() {
		conn, err := websocket.DialConfig(config)
		results <- dialResult{conn: conn, err: err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			result := <-results
			if result.conn != nil {
				_ = result.conn.Close()
			}
		}()
		return nil, ctx.Err()
	case result := <-results:
		if result.err != nil {
			return nil, fmt.Errorf("dial websocket: %w", result.err)
		}
		return newWSConn(result.conn), nil
	}
}

type wsConn struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	encoder *json.Encoder
	decoder *json.Decoder
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{
		conn:    conn,
		encoder: json.NewEncoder(conn),
		decoder: json.NewDecoder(conn),
	}
}

func (c *wsConn) WriteFrame(frame chatwire.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.encoder.Encode(frame)
}

func (c *wsConn) ReadFrame() (chatwire.Frame, error) {
	var frame chatwire.Frame
	if err := c.decoder.Decode(&frame); err != nil {
		return chatwire.Frame{}, err
	}
	return frame, nil
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}
