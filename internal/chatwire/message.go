package chatwire

import (
	"fmt"
	"math/rand"
	"strconv"
	"time"
)

// DeliveryStatus tracks a message's lifecycle from composition to read receipt.
type DeliveryStatus string

const (
	StatusSending   DeliveryStatus = "sending"
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusRead      DeliveryStatus = "read"
	StatusFailed    DeliveryStatus = "failed"
)

var statusRank = map[DeliveryStatus]int{
	StatusSending:   0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
}

// CanAdvanceTo reports whether a transition from s to next is legal.
//
// Statuses move monotonically forward; failed is terminal and reachable only
// from sending.
func (s DeliveryStatus) CanAdvanceTo(next DeliveryStatus) bool {
	if s == StatusFailed {
		return false
	}
	if next == StatusFailed {
		return s == StatusSending
	}
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	to, ok := statusRank[next]
	if !ok {
		return false
	}
	return to > from
}

// Message is one chat message on the wire.
//
// A message is identified by TempID until the backend acknowledges it, and by
// ID afterwards. Both may be present on inbound frames; clients dedup on
// either field before appending.
type Message struct {
	ID             string         `json:"id,omitempty"`
	TempID         string         `json:"tempId,omitempty"`
	ConversationID string         `json:"conversationId"`
	SenderName     string         `json:"senderName"`
	SenderType     Role           `json:"senderType"`
	Body           string         `json:"message"`
	CreatedAt      int64          `json:"createdAt"`
	Status         DeliveryStatus `json:"status,omitempty"`
	IsRead         bool           `json:"isRead"`
}

// SameLogical reports whether two messages are the same logical message,
// matching first by server id then by tempId.
func (m Message) SameLogical(other Message) bool {
	if m.ID != "" && m.ID == other.ID {
		return true
	}
	if m.TempID != "" && m.TempID == other.TempID {
		return true
	}
	return false
}

// NewTempID returns a client-local provisional message identifier.
func NewTempID(now time.Time, random *rand.Rand) string {
	return fmt.Sprintf("temp-%d-%s", now.UnixMilli(), randomSuffix(random))
}

// NewVisitorConversationID returns the legacy client-generated conversation
// identifier of the form visitor-<epoch-ms>-<random-suffix>.
//
// The suffix is short and uncoordinated, so identifiers minted in the same
// millisecond from the same random source can collide. The backend therefore
// treats this value as a request and answers with its own canonical id; see
// ConversationJoinedPayload.
func NewVisitorConversationID(now time.Time, random *rand.Rand) string {
	return fmt.Sprintf("visitor-%d-%s", now.UnixMilli(), randomSuffix(random))
}

func randomSuffix(random *rand.Rand) string {
	var value int64
	if random != nil {
		value = random.Int63()
	} else {
		value = rand.Int63()
	}
	suffix := strconv.FormatInt(value, 36)
	if len(suffix) > 9 {
		suffix = suffix[:9]
	}
	return suffix
}
