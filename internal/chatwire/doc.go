// Package chatwire defines the event contract shared by the live chat
// backend and its visitor/admin clients.
//
// Every exchange on the channel is one JSON frame naming an event and
// carrying a typed payload. The package owns the event names, the payload
// shapes, the message delivery statuses, and the frame codec so the server
// and both client roles cannot drift apart.
package chatwire
