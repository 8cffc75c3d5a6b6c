package chatwire

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Frame is the envelope for every event exchanged on the channel.
type Frame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewFrame builds a frame, marshaling payload to JSON. A nil payload yields
// an event-only frame.
func NewFrame(event string, payload any) (Frame, error) {
	event = strings.TrimSpace(event)
	if event == "" {
		return Frame{}, fmt.Errorf("frame event is required")
	}
	frame := Frame{Event: event}
	if payload == nil {
		return frame, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	frame.Payload = raw
	return frame, nil
}

// Decode unmarshals the frame payload into target.
func (f Frame) Decode(target any) error {
	if len(f.Payload) == 0 {
		return fmt.Errorf("%s frame has no payload", f.Event)
	}
	if err := json.Unmarshal(f.Payload, target); err != nil {
		return fmt.Errorf("decode %s payload: %w", f.Event, err)
	}
	return nil
}
