package chatclient

import (
	"context"
	"log"
	"math/rand"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/aeriallens/livechat/internal/chatwire"
)

const maxMessageRunes = 2000

// Visitor is the widget-side chat client. One visitor owns exactly one
// conversation for the lifetime of the client.
type Visitor struct {
	session  *session
	opts     Options
	timeline *timeline
	delivery *deliveryTracker
	typing   *typingNotifier
	remote   *remoteTyping

	mu             sync.Mutex
	conversationID string
	name           string
	email          string
	joined         bool
	windowOpen     bool
	unread         int
	random         *rand.Rand
}

// NewVisitor builds a visitor client over the given dialer. Nothing
// connects until Join.
func NewVisitor(dialer Dialer, opts Options) *Visitor {
	opts = opts.withDefaults()
	v := &Visitor{
		opts:     opts,
		timeline: newTimeline(),
		remote:   newRemoteTyping(),
		random:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	v.session = newSession(dialer, opts)
	v.session.handler = v.handleFrame
	v.session.rejoin = v.replayJoin
	v.delivery = newDeliveryTracker(opts.AckTimeout, v.failMessage)
	v.typing = newTypingNotifier(opts.TypingIdle,
		func() error { return v.session.send(chatwire.EventTyping, chatwire.TypingPayload{}) },
		func() error { return v.session.send(chatwire.EventStopTyping, chatwire.TypingPayload{}) },
	)
	return v
}

// Join connects and opens the visitor's conversation. A stored conversation
// id resumes the prior thread; an empty id lets the client propose one,
// which the backend may replace with a canonical id. The id the backend
// settles on is returned and must be persisted for the next visit.
func (v *Visitor) Join(ctx context.Context, conversationID string, name string, email string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", &ValidationError{Field: "name", Reason: "is required"}
	}

	v.mu.Lock()
	if conversationID = strings.TrimSpace(conversationID); conversationID == "" {
		conversationID = chatwire.NewVisitorConversationID(time.Now(), v.random)
	}
	v.conversationID = conversationID
	v.name = name
	v.email = strings.TrimSpace(email)
	v.mu.Unlock()

	if err := v.session.connect(ctx); err != nil {
		return "", err
	}

	frame, err := v.session.request(ctx, chatwire.EventJoin, v.joinPayload(), chatwire.EventConversationJoined)
	if err != nil {
		return "", err
	}
	var payload chatwire.ConversationJoinedPayload
	if err := frame.Decode(&payload); err != nil {
		return "", err
	}

	v.mu.Lock()
	v.joined = true
	if payload.ConversationID != "" {
		v.conversationID = payload.ConversationID
	}
	settled := v.conversationID
	v.mu.Unlock()
	return settled, nil
}

func (v *Visitor) joinPayload() chatwire.JoinPayload {
	v.mu.Lock()
	defer v.mu.Unlock()
	return chatwire.JoinPayload{
		ConversationID: v.conversationID,
		User: chatwire.User{
			Name:  v.name,
			Email: v.email,
			Type:  chatwire.RoleVisitor,
		},
	}
}

func (v *Visitor) sendJoin() error {
	return v.session.send(chatwire.EventJoin, v.joinPayload())
}

// replayJoin re-runs the join handshake after a reconnect so the backend
// reattaches this connection to the same conversation and resends history.
func (v *Visitor) replayJoin() error {
	v.mu.Lock()
	joined := v.joined
	v.mu.Unlock()
	if !joined {
		return nil
	}
	return v.sendJoin()
}

// Send appends the message optimistically and ships it. The returned tempId
// identifies the message until the backend acknowledgment binds a server
// id; without an ack within the configured timeout the message fails.
func (v *Visitor) Send(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", &ValidationError{Field: "message", Reason: "is required"}
	}
	if utf8.RuneCountInString(text) > maxMessageRunes {
		return "", &ValidationError{Field: "message", Reason: "is too long"}
	}

	v.mu.Lock()
	if !v.joined {
		v.mu.Unlock()
		return "", ErrNotConnected
	}
	conversationID := v.conversationID
	name := v.name
	tempID := chatwire.NewTempID(time.Now(), v.random)
	v.mu.Unlock()

	message := chatwire.Message{
		TempID:         tempID,
		ConversationID: conversationID,
		SenderName:     name,
		SenderType:     chatwire.RoleVisitor,
		Body:           text,
		CreatedAt:      time.Now().UnixMilli(),
		Status:         chatwire.StatusSending,
	}
	v.timeline.upsert(message)
	_ = v.typing.submit()

	if err := v.ship(message); err != nil {
		return tempID, err
	}
	return tempID, nil
}

// Retry re-sends a failed message under its original tempId.
func (v *Visitor) Retry(tempID string) error {
	message, ok := v.timeline.find(tempID)
	if !ok {
		return &ValidationError{Field: "tempId", Reason: "is unknown"}
	}
	if message.Status != chatwire.StatusFailed {
		return &ValidationError{Field: "tempId", Reason: "is not a failed message"}
	}

	// A failed message restarts its delivery lifecycle from scratch.
	v.timeline.replaceStatus(tempID, chatwire.StatusSending)
	message.Status = chatwire.StatusSending
	return v.ship(message)
}

// ship arms the ack timer and writes the frame. The message stays sending
// until the acknowledgment arrives; a write failure fails it immediately.
func (v *Visitor) ship(message chatwire.Message) error {
	v.delivery.track(message.TempID)
	if err := v.session.send(chatwire.EventSendMessage, message); err != nil {
		v.delivery.fail(message.TempID)
		v.timeline.replaceStatus(message.TempID, chatwire.StatusFailed)
		return err
	}
	return nil
}

func (v *Visitor) failMessage(tempID string) {
	v.timeline.replaceStatus(tempID, chatwire.StatusFailed)
}

// MarkRead reports the given admin messages as read.
func (v *Visitor) MarkRead(messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	v.mu.Lock()
	conversationID := v.conversationID
	v.mu.Unlock()
	return v.session.send(chatwire.EventMarkRead, chatwire.MarkReadPayload{
		ConversationID: conversationID,
		MessageIDs:     messageIDs,
	})
}

// Typing records local input activity. The first call in an episode emits a
// typing signal; the signal expires on its own after the idle window.
func (v *Visitor) Typing() error {
	return v.typing.input()
}

// StopTyping ends the local typing episode immediately.
func (v *Visitor) StopTyping() error {
	return v.typing.submit()
}

// AdminTyping reports whether the admin side is currently typing.
func (v *Visitor) AdminTyping() bool {
	v.mu.Lock()
	conversationID := v.conversationID
	v.mu.Unlock()
	return v.remote.get(conversationID)
}

// SetWindowOpen tracks whether the chat widget is visible. Opening the
// window clears the unread counter; replies arriving while it is closed
// accumulate there.
func (v *Visitor) SetWindowOpen(open bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.windowOpen = open
	if open {
		v.unread = 0
	}
}

// Unread returns how many admin replies arrived while the widget was
// closed.
func (v *Visitor) Unread() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.unread
}

// Status reports the transport state for the widget's connection banner.
func (v *Visitor) Status() ConnectionState {
	return v.session.status()
}

// ConversationID returns the id the backend settled on.
func (v *Visitor) ConversationID() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.conversationID
}

// Messages returns a copy of the conversation timeline.
func (v *Visitor) Messages() []chatwire.Message {
	return v.timeline.snapshot()
}

// Connected reports whether the channel is currently up.
func (v *Visitor) Connected() bool {
	return v.session.connected()
}

// Close tears the client down. Pending blocking calls return and delivery
// timers stop.
func (v *Visitor) Close() {
	v.typing.close()
	v.delivery.close()
	v.session.close()
}

func (v *Visitor) handleFrame(frame chatwire.Frame) {
	switch frame.Event {
	case chatwire.EventConversationJoined:
		var payload chatwire.ConversationJoinedPayload
		if err := frame.Decode(&payload); err != nil {
			log.Printf("chat client: %v", err)
			return
		}
		if payload.ConversationID != "" {
			v.mu.Lock()
			v.conversationID = payload.ConversationID
			v.mu.Unlock()
		}
	case chatwire.EventConversationHistory:
		var history []chatwire.Message
		if err := frame.Decode(&history); err != nil {
			log.Printf("chat client: %v", err)
			return
		}
		v.timeline.replace(history)
	case chatwire.EventNewMessage:
		var message chatwire.Message
		if err := frame.Decode(&message); err != nil {
			log.Printf("chat client: %v", err)
			return
		}
		v.timeline.upsert(message)
		if message.SenderType == chatwire.RoleAdmin {
			v.mu.Lock()
			if !v.windowOpen {
				v.unread++
			}
			v.mu.Unlock()
		}
	case chatwire.EventMessageDelivered:
		var payload chatwire.MessageDeliveredPayload
		if err := frame.Decode(&payload); err != nil {
			log.Printf("chat client: %v", err)
			return
		}
		v.delivery.ack(payload.TempID)
		v.timeline.confirm(payload.TempID, payload.MessageID)
	case chatwire.EventMessageStatusUpdated:
		var payload chatwire.MessageStatusUpdatedPayload
		if err := frame.Decode(&payload); err != nil {
			log.Printf("chat client: %v", err)
			return
		}
		v.timeline.advance(payload.MessageID, payload.Status)
	case chatwire.EventMessagesRead:
		var payload chatwire.MessagesReadPayload
		if err := frame.Decode(&payload); err != nil {
			log.Printf("chat client: %v", err)
			return
		}
		v.timeline.markRead(payload.MessageIDs)
	case chatwire.EventUserTyping, chatwire.EventUserStopTyping:
		var payload chatwire.UserTypingPayload
		if err := frame.Decode(&payload); err != nil {
			log.Printf("chat client: %v", err)
			return
		}
		conversationID := payload.ConversationID
		if conversationID == "" {
			conversationID = v.ConversationID()
		}
		v.remote.set(conversationID, frame.Event == chatwire.EventUserTyping)
	case chatwire.EventError:
		var payload chatwire.ErrorPayload
		if err := frame.Decode(&payload); err != nil {
			log.Printf("chat client: %v", err)
			return
		}
		if payload.TempID != "" {
			v.delivery.fail(payload.TempID)
			v.timeline.replaceStatus(payload.TempID, chatwire.StatusFailed)
			return
		}
		log.Printf("chat client: server error %s: %s", payload.Code, payload.Message)
	}
}
