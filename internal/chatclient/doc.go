// Package chatclient implements the embeddable live chat client used by the
// visitor widget and the admin console.
//
// The package owns the connection lifecycle, optimistic message delivery
// with acknowledgment timeouts, typing signals with idle expiry, unread
// counters, and the admin-side conversation registry. Rendering is out of
// scope; callers observe state through snapshots and an event callback.
package chatclient
