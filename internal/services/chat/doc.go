// Package chat implements the real-time messaging backend for the visitor
// widget and the admin console.
//
// It keeps WebSocket lifecycle, message acknowledgment, unread bookkeeping,
// and fan-out isolated from the clients so both roles share one conformant
// event contract.
package chat
