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

// Admin is the console-side chat client. It tracks every active
// conversation, the per-conversation unread counts, and the timeline of any
// conversation the operator has opened.
type Admin struct {
	session  *session
	opts     Options
	registry *registry
	unread   *unreadCounts
	remote   *remoteTyping
	delivery *deliveryTracker
	typing   *typingNotifier

	mu        sync.Mutex
	userID    string
	adminName string
	token     string
	joined    bool
	selected  string
	pending   string
	timelines map[string]*timeline
	random    *rand.Rand
}

// NewAdmin builds a console client over the given dialer. Nothing connects
// until Join.
func NewAdmin(dialer Dialer, opts Options) *Admin {
	opts = opts.withDefaults()
	a := &Admin{
		opts:      opts,
		registry:  newRegistry(),
		unread:    newUnreadCounts(),
		remote:    newRemoteTyping(),
		timelines: make(map[string]*timeline),
		random:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	a.session = newSession(dialer, opts)
	a.session.handler = a.handleFrame
	a.session.rejoin = a.replayJoin
	a.delivery = newDeliveryTracker(opts.AckTimeout, a.failMessage)
	a.typing = newTypingNotifier(opts.TypingIdle,
		func() error { return a.sendTyping(chatwire.EventTyping) },
		func() error { return a.sendTyping(chatwire.EventStopTyping) },
	)
	return a
}

// Join connects, authenticates the operator, and pulls the initial
// conversation registry. It returns once the registry arrived or the
// backend rejected the credentials.
func (a *Admin) Join(ctx context.Context, userID string, adminName string, token string) error {
	a.mu.Lock()
	a.userID = strings.TrimSpace(userID)
	a.adminName = strings.TrimSpace(adminName)
	a.token = strings.TrimSpace(token)
	a.mu.Unlock()

	if err := a.session.connect(ctx); err != nil {
		return err
	}

	// Register both waiters before sending so neither response can slip
	// past. join-admin has no success frame; the registry doubles as one.
	listingWaiter, err := a.session.registerWaiter(chatwire.EventActiveConversations)
	if err != nil {
		return err
	}
	failureWaiter, err := a.session.registerWaiter(chatwire.EventError)
	if err != nil {
		a.session.removeWaiter(chatwire.EventActiveConversations, listingWaiter)
		return err
	}

	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer a.session.removeWaiter(chatwire.EventActiveConversations, listingWaiter)
	defer a.session.removeWaiter(chatwire.EventError, failureWaiter)

	type raceResult struct {
		frame chatwire.Frame
		err   error
	}
	listings := make(chan raceResult, 1)
	failures := make(chan raceResult, 1)
	go func() {
		frame, err := a.session.waitOn(raceCtx, chatwire.EventActiveConversations, listingWaiter)
		listings <- raceResult{frame: frame, err: err}
	}()
	go func() {
		frame, err := a.session.waitOn(raceCtx, chatwire.EventError, failureWaiter)
		failures <- raceResult{frame: frame, err: err}
	}()

	if err := a.sendJoin(); err != nil {
		return err
	}
	if err := a.session.send(chatwire.EventGetActiveConversations, struct{}{}); err != nil {
		return err
	}

	select {
	case result := <-listings:
		if result.err != nil {
			return result.err
		}
		a.mu.Lock()
		a.joined = true
		a.mu.Unlock()
		return nil
	case result := <-failures:
		if result.err != nil {
			return result.err
		}
		var payload chatwire.ErrorPayload
		if err := result.frame.Decode(&payload); err != nil {
			return err
		}
		return &ServerError{Code: payload.Code, Message: payload.Message, Retryable: payload.Retryable}
	}
}

func (a *Admin) sendJoin() error {
	a.mu.Lock()
	payload := chatwire.JoinAdminPayload{
		UserID:    a.userID,
		AdminName: a.adminName,
		Token:     a.token,
	}
	a.mu.Unlock()
	return a.session.send(chatwire.EventJoinAdmin, payload)
}

// replayJoin re-authenticates after a reconnect and re-pulls the registry
// so the console never renders a stale list.
func (a *Admin) replayJoin() error {
	a.mu.Lock()
	joined := a.joined
	a.mu.Unlock()
	if !joined {
		return nil
	}
	if err := a.sendJoin(); err != nil {
		return err
	}
	return a.session.send(chatwire.EventGetActiveConversations, struct{}{})
}

// Refresh re-pulls the full conversation registry and returns it sorted by
// most recent activity.
func (a *Admin) Refresh(ctx context.Context) ([]chatwire.ConversationPreview, error) {
	if _, err := a.session.request(ctx, chatwire.EventGetActiveConversations, struct{}{}, chatwire.EventActiveConversations); err != nil {
		return nil, err
	}
	return a.registry.sorted(), nil
}

// Select opens a conversation: it loads the recent history, resets the
// unread count, and reports the visitor's pending messages as read. The
// returned slice is the loaded timeline.
func (a *Admin) Select(ctx context.Context, conversationID string) ([]chatwire.Message, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return nil, &ValidationError{Field: "conversationId", Reason: "is required"}
	}

	a.mu.Lock()
	a.selected = conversationID
	a.pending = conversationID
	a.mu.Unlock()
	a.unread.reset(conversationID)
	a.registry.setUnread(conversationID, 0)

	if _, err := a.session.request(ctx, chatwire.EventGetConversation, chatwire.GetConversationPayload{
		ConversationID: conversationID,
	}, chatwire.EventConversationMessages); err != nil {
		return nil, err
	}

	messages := a.timelineFor(conversationID).snapshot()

	var unreadIDs []string
	for _, message := range messages {
		if message.SenderType == chatwire.RoleVisitor && !message.IsRead && message.ID != "" {
			unreadIDs = append(unreadIDs, message.ID)
		}
	}
	if len(unreadIDs) > 0 {
		if err := a.session.send(chatwire.EventMarkRead, chatwire.MarkReadPayload{
			ConversationID: conversationID,
			MessageIDs:     unreadIDs,
		}); err != nil {
			log.Printf("chat client: mark read on select: %v", err)
		}
	}
	return messages, nil
}

// Send appends the reply optimistically and ships it, returning the tempId
// that identifies the message until the backend acknowledgment.
func (a *Admin) Send(conversationID string, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", &ValidationError{Field: "message", Reason: "is required"}
	}
	if utf8.RuneCountInString(text) > maxMessageRunes {
		return "", &ValidationError{Field: "message", Reason: "is too long"}
	}
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return "", &ValidationError{Field: "conversationId", Reason: "is required"}
	}

	a.mu.Lock()
	if !a.joined {
		a.mu.Unlock()
		return "", ErrNotConnected
	}
	name := a.adminName
	if name == "" {
		name = a.userID
	}
	tempID := chatwire.NewTempID(time.Now(), a.random)
	a.mu.Unlock()

	message := chatwire.Message{
		TempID:         tempID,
		ConversationID: conversationID,
		SenderName:     name,
		SenderType:     chatwire.RoleAdmin,
		Body:           text,
		CreatedAt:      time.Now().UnixMilli(),
		Status:         chatwire.StatusSending,
	}
	a.timelineFor(conversationID).upsert(message)
	a.registry.recordMessage(message)
	_ = a.typing.submit()

	a.delivery.track(tempID)
	if err := a.session.send(chatwire.EventSendMessage, message); err != nil {
		a.delivery.fail(tempID)
		a.timelineFor(conversationID).replaceStatus(tempID, chatwire.StatusFailed)
		return tempID, err
	}
	return tempID, nil
}

// Retry re-sends a failed reply under its original tempId.
func (a *Admin) Retry(conversationID string, tempID string) error {
	line := a.timelineFor(conversationID)
	message, ok := line.find(tempID)
	if !ok {
		return &ValidationError{Field: "tempId", Reason: "is unknown"}
	}
	if message.Status != chatwire.StatusFailed {
		return &ValidationError{Field: "tempId", Reason: "is not a failed message"}
	}

	line.replaceStatus(tempID, chatwire.StatusSending)
	message.Status = chatwire.StatusSending
	a.delivery.track(tempID)
	if err := a.session.send(chatwire.EventSendMessage, message); err != nil {
		a.delivery.fail(tempID)
		line.replaceStatus(tempID, chatwire.StatusFailed)
		return err
	}
	return nil
}

// Typing records operator input in the selected conversation.
func (a *Admin) Typing() error {
	return a.typing.input()
}

// StopTyping ends the operator's typing episode immediately.
func (a *Admin) StopTyping() error {
	return a.typing.submit()
}

func (a *Admin) sendTyping(event string) error {
	a.mu.Lock()
	conversationID := a.selected
	a.mu.Unlock()
	if conversationID == "" {
		return nil
	}
	return a.session.send(event, chatwire.TypingPayload{ConversationID: conversationID})
}

// Conversations returns the registry sorted by most recent activity.
func (a *Admin) Conversations() []chatwire.ConversationPreview {
	return a.registry.sorted()
}

// Messages returns a copy of the loaded timeline for a conversation.
func (a *Admin) Messages(conversationID string) []chatwire.Message {
	return a.timelineFor(conversationID).snapshot()
}

// Unread returns the unread count of one conversation.
func (a *Admin) Unread(conversationID string) int {
	return a.unread.get(conversationID)
}

// TotalUnread sums unread counts across every conversation, for the badge
// on the console entry point.
func (a *Admin) TotalUnread() int {
	return a.unread.total()
}

// VisitorTyping reports whether the visitor in a conversation is typing.
func (a *Admin) VisitorTyping(conversationID string) bool {
	return a.remote.get(conversationID)
}

// Selected returns the conversation the operator has open, if any.
func (a *Admin) Selected() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.selected
}

// Connected reports whether the channel is currently up.
func (a *Admin) Connected() bool {
	return a.session.connected()
}

// Status reports the transport state for the console's connection banner.
func (a *Admin) Status() ConnectionState {
	return a.session.status()
}

// Close tears the client down.
func (a *Admin) Close() {
	a.typing.close()
	a.delivery.close()
	a.session.close()
}

func (a *Admin) timelineFor(conversationID string) *timeline {
	a.mu.Lock()
	defer a.mu.Unlock()
	line, ok := a.timelines[conversationID]
	if !ok {
		line = newTimeline()
		a.timelines[conversationID] = line
	}
	return line
}

func (a *Admin) eachTimeline(fn func(line *timeline) bool) {
	a.mu.Lock()
	lines := make([]*timeline, 0, len(a.timelines))
	for _, line := range a.timelines {
		lines = append(lines, line)
	}
	a.mu.Unlock()

	for _, line := range lines {
		if fn(line) {
			return
		}
	}
}

func (a *Admin) failMessage(tempID string) {
	a.eachTimeline(func(line *timeline) bool {
		return line.replaceStatus(tempID, chatwire.StatusFailed)
	})
}

func (a *Admin) handleFrame(frame chatwire.Frame) {
	switch frame.Event {
	case chatwire.EventActiveConversations:
		var payload chatwire.ActiveConversationsPayload
		if err := frame.Decode(&payload); err != nil {
			log.Printf("chat client: %v", err)
			return
		}
		a.registry.replace(payload.Conversations)
		for _, preview := range payload.Conversations {
			a.unread.set(preview.ConversationID, preview.UnreadCount)
		}
	case chatwire.EventConversationMessages:
		var payload chatwire.ConversationMessagesPayload
		if err := frame.Decode(&payload); err != nil {
			log.Printf("chat client: %v", err)
			return
		}
		conversationID := ""
		if len(payload.Messages) > 0 {
			conversationID = payload.Messages[0].ConversationID
		}
		if conversationID == "" {
			a.mu.Lock()
			conversationID = a.pending
			a.mu.Unlock()
		}
		if conversationID == "" {
			return
		}
		a.timelineFor(conversationID).replace(payload.Messages)
	case chatwire.EventVisitorJoined:
		var payload chatwire.VisitorPresencePayload
		if err := frame.Decode(&payload); err != nil {
			log.Printf("chat client: %v", err)
			return
		}
		a.registry.setOnline(payload.ConversationID, true)
		// A joining visitor may be brand new; re-pull the registry rather
		// than guess at a partial entry.
		if err := a.session.send(chatwire.EventGetActiveConversations, struct{}{}); err != nil {
			log.Printf("chat client: refresh on visitor join: %v", err)
		}
	case chatwire.EventVisitorLeft:
		var payload chatwire.VisitorPresencePayload
		if err := frame.Decode(&payload); err != nil {
			log.Printf("chat client: %v", err)
			return
		}
		a.registry.setOnline(payload.ConversationID, false)
		a.remote.set(payload.ConversationID, false)
	case chatwire.EventNewMessage:
		var message chatwire.Message
		if err := frame.Decode(&message); err != nil {
			log.Printf("chat client: %v", err)
			return
		}
		a.timelineFor(message.ConversationID).upsert(message)
		a.registry.recordMessage(message)
		a.autoReadIfSelected(message)
	case chatwire.EventNewVisitorMessage:
		var payload chatwire.NewVisitorMessagePayload
		if err := frame.Decode(&payload); err != nil {
			log.Printf("chat client: %v", err)
			return
		}
		a.timelineFor(payload.ConversationID).upsert(payload.Message)
		a.registry.recordMessage(payload.Message)
		a.mu.Lock()
		selected := a.selected == payload.ConversationID
		a.mu.Unlock()
		if !selected {
			a.unread.set(payload.ConversationID, payload.UnreadCount)
			a.registry.setUnread(payload.ConversationID, payload.UnreadCount)
		}
	case chatwire.EventMessageDelivered:
		var payload chatwire.MessageDeliveredPayload
		if err := frame.Decode(&payload); err != nil {
			log.Printf("chat client: %v", err)
			return
		}
		a.delivery.ack(payload.TempID)
		a.eachTimeline(func(line *timeline) bool {
			return line.confirm(payload.TempID, payload.MessageID)
		})
	case chatwire.EventMessageStatusUpdated:
		var payload chatwire.MessageStatusUpdatedPayload
		if err := frame.Decode(&payload); err != nil {
			log.Printf("chat client: %v", err)
			return
		}
		a.eachTimeline(func(line *timeline) bool {
			return line.advance(payload.MessageID, payload.Status)
		})
	case chatwire.EventMessagesRead:
		var payload chatwire.MessagesReadPayload
		if err := frame.Decode(&payload); err != nil {
			log.Printf("chat client: %v", err)
			return
		}
		a.eachTimeline(func(line *timeline) bool {
			return line.markRead(payload.MessageIDs) > 0
		})
	case chatwire.EventUnreadCountUpdated:
		var payload chatwire.UnreadCountUpdatedPayload
		if err := frame.Decode(&payload); err != nil {
			log.Printf("chat client: %v", err)
			return
		}
		a.unread.set(payload.ConversationID, payload.UnreadCount)
		a.registry.setUnread(payload.ConversationID, payload.UnreadCount)
	case chatwire.EventUserTyping, chatwire.EventUserStopTyping:
		var payload chatwire.UserTypingPayload
		if err := frame.Decode(&payload); err != nil {
			log.Printf("chat client: %v", err)
			return
		}
		a.remote.set(payload.ConversationID, frame.Event == chatwire.EventUserTyping)
	case chatwire.EventError:
		var payload chatwire.ErrorPayload
		if err := frame.Decode(&payload); err != nil {
			log.Printf("chat client: %v", err)
			return
		}
		if payload.TempID != "" {
			a.delivery.fail(payload.TempID)
			a.failMessage(payload.TempID)
			return
		}
		log.Printf("chat client: server error %s: %s", payload.Code, payload.Message)
	}
}

// autoReadIfSelected reports an incoming visitor message as read right away
// when the operator already has the conversation open.
func (a *Admin) autoReadIfSelected(message chatwire.Message) {
	if message.SenderType != chatwire.RoleVisitor || message.ID == "" {
		return
	}
	a.mu.Lock()
	selected := a.selected == message.ConversationID
	a.mu.Unlock()
	if !selected {
		return
	}
	if err := a.session.send(chatwire.EventMarkRead, chatwire.MarkReadPayload{
		ConversationID: message.ConversationID,
		MessageIDs:     []string{message.ID},
	}); err != nil {
		log.Printf("chat client: mark read on arrival: %v", err)
	}
}
