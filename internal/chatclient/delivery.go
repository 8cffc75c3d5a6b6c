package chatclient

import (
	"sync"
	"time"
)

// deliveryTracker arms one acknowledgment timer per optimistic message. A
// message whose backend ack does not arrive within the timeout is handed to
// the onTimeout callback to be marked failed.
type deliveryTracker struct {
	mu        sync.Mutex
	timeout   time.Duration
	onTimeout func(tempID string)
	pending   map[string]*time.Timer
	closed    bool
}

func newDeliveryTracker(timeout time.Duration, onTimeout func(tempID string)) *deliveryTracker {
	return &deliveryTracker{
		timeout:   timeout,
		onTimeout: onTimeout,
		pending:   make(map[string]*time.Timer),
	}
}

// track arms the ack timer for a freshly sent message. Re-tracking a tempId
// restarts its timer, which happens on retry.
func (d *deliveryTracker) track(tempID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	if timer, ok := d.pending[tempID]; ok {
		timer.Stop()
	}
	d.pending[tempID] = time.AfterFunc(d.timeout, func() {
		d.expire(tempID)
	})
}

func (d *deliveryTracker) expire(tempID string) {
	d.mu.Lock()
	_, ok := d.pending[tempID]
	delete(d.pending, tempID)
	d.mu.Unlock()
	if ok {
		d.onTimeout(tempID)
	}
}

// ack disarms the timer for an acknowledged message. It reports whether the
// message was still pending, so duplicate acks are ignored.
func (d *deliveryTracker) ack(tempID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	timer, ok := d.pending[tempID]
	if !ok {
		return false
	}
	timer.Stop()
	delete(d.pending, tempID)
	return true
}

// fail disarms the timer without waiting for it, for locally detected send
// failures and server error frames naming the message.
func (d *deliveryTracker) fail(tempID string) bool {
	return d.ack(tempID)
}

// close stops every pending timer. Messages still in flight keep their last
// status; the caller decides what teardown means for them.
func (d *deliveryTracker) close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	for tempID, timer := range d.pending {
		timer.Stop()
		delete(d.pending, tempID)
	}
}
