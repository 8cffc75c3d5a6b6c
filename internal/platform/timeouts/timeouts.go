// Package timeouts defines shared timeout constants used across the chat
// surface. Centralizing these values prevents drift between the transport
// layer and the client state machines and makes the durations discoverable.
package timeouts

import "time"

// ReadHeader limits how long the HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long the HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second

// DeliveryAck caps how long a client waits for a message-delivered
// acknowledgment before marking an optimistic message failed.
const DeliveryAck = 15 * time.Second

// TypingIdle is the quiet period after which a typing signal expires and a
// stop-typing signal is emitted automatically.
const TypingIdle = 2 * time.Second

// Reconnect is the delay between transport reconnection attempts.
const Reconnect = time.Second
