package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/net/websocket"

	"github.com/aeriallens/livechat/internal/chatwire"
	platformid "github.com/aeriallens/livechat/internal/platform/id"
	"github.com/aeriallens/livechat/internal/services/chat/storage"
)

const (
	maxFramePayloadBytes   = 16 * 1024
	maxFramesPerSecond     = 40
	maxDecodeErrorsPerConn = 3

	maxMessageBodyRunes = 2000
	maxTempIDRunes      = 128

	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// chatHandler owns event dispatch for every websocket connection.
type chatHandler struct {
	hub          *connHub
	store        storage.Store
	authorizer   AdminAuthorizer
	activeWindow time.Duration
	now          func() time.Time
}

func newChatHandler(store storage.Store, authorizer AdminAuthorizer, activeWindow time.Duration) *chatHandler {
	return &chatHandler{
		hub:          newConnHub(),
		store:        store,
		authorizer:   authorizer,
		activeWindow: activeWindow,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (h *chatHandler) handleConn(conn *websocket.Conn) {
	defer func() {
		_ = conn.Close()
	}()

	decoder := json.NewDecoder(conn)
	session := newConnSession(newWSPeer(json.NewEncoder(conn)))
	defer h.dropSession(session)

	windowStart := time.Now()
	framesInWindow := 0
	decodeErrors := 0

	for {
		var frame chatwire.Frame
		if err := decoder.Decode(&frame); err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			decodeErrors++
			h.writeError(session.peer, "INVALID_ARGUMENT", "invalid frame payload", "")
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			continue
		}
		decodeErrors = 0

		if len(frame.Payload) > maxFramePayloadBytes {
			h.writeError(session.peer, "INVALID_ARGUMENT", "payload too large", "")
			continue
		}

		now := time.Now()
		if now.Sub(windowStart) >= time.Second {
			windowStart = now
			framesInWindow = 0
		}
		framesInWindow++
		if framesInWindow > maxFramesPerSecond {
			h.writeError(session.peer, "RESOURCE_EXHAUSTED", "rate limit exceeded", "")
			return
		}

		switch frame.Event {
		case chatwire.EventJoin:
			h.handleJoin(session, frame)
		case chatwire.EventJoinAdmin:
			h.handleJoinAdmin(session, frame)
		case chatwire.EventGetActiveConversations:
			h.handleGetActiveConversations(session)
		case chatwire.EventGetConversation:
			h.handleGetConversation(session, frame)
		case chatwire.EventSendMessage:
			h.handleSendMessage(session, frame)
		case chatwire.EventMarkRead:
			h.handleMarkRead(session, frame)
		case chatwire.EventTyping:
			h.handleTyping(session, frame, false)
		case chatwire.EventStopTyping:
			h.handleTyping(session, frame, true)
		default:
			h.writeError(session.peer, "INVALID_ARGUMENT", "unsupported event", "")
		}
	}
}

// dropSession detaches the peer and, for the last visitor peer of a
// conversation, tells admins the visitor left and is no longer typing.
func (h *chatHandler) dropSession(session *connSession) {
	role, conversationID := session.snapshot()
	if !h.hub.leave(session.peer, role, conversationID) {
		return
	}
	h.broadcast(h.hub.adminPeers(), chatwire.EventUserStopTyping, chatwire.UserTypingPayload{
		ConversationID: conversationID,
	})
	h.broadcast(h.hub.adminPeers(), chatwire.EventVisitorLeft, chatwire.VisitorPresencePayload{
		ConversationID: conversationID,
	})
}

func (h *chatHandler) handleJoin(session *connSession, frame chatwire.Frame) {
	var payload chatwire.JoinPayload
	if err := frame.Decode(&payload); err != nil {
		h.writeError(session.peer, "INVALID_ARGUMENT", "invalid join payload", "")
		return
	}

	name := strings.TrimSpace(payload.User.Name)
	if name == "" {
		h.writeError(session.peer, "INVALID_ARGUMENT", "visitor name is required", "")
		return
	}

	ctx := context.Background()
	conversationID, err := h.resolveConversationID(ctx, strings.TrimSpace(payload.ConversationID), name)
	if err != nil {
		log.Printf("chat: resolve conversation id: %v", err)
		h.writeError(session.peer, "INTERNAL", "could not open conversation", "")
		return
	}

	now := h.now()
	err = h.store.UpsertConversation(ctx, storage.Conversation{
		ID:           conversationID,
		VisitorName:  name,
		VisitorEmail: strings.TrimSpace(payload.User.Email),
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		log.Printf("chat: upsert conversation %s: %v", conversationID, err)
		h.writeError(session.peer, "INTERNAL", "could not open conversation", "")
		return
	}

	h.hub.joinVisitor(conversationID, session.peer)
	session.setVisitor(conversationID)

	h.send(session.peer, chatwire.EventConversationJoined, chatwire.ConversationJoinedPayload{
		ConversationID: conversationID,
	})

	messages, err := h.store.ListMessages(ctx, conversationID, 0)
	if err != nil {
		log.Printf("chat: load history %s: %v", conversationID, err)
	} else {
		h.send(session.peer, chatwire.EventConversationHistory, wireMessages(messages))
	}

	h.broadcast(h.hub.adminPeers(), chatwire.EventVisitorJoined, chatwire.VisitorPresencePayload{
		ConversationID: conversationID,
	})
}

// resolveConversationID keeps a requested id when it is free or already
// belongs to the same visitor; otherwise it mints a canonical server id.
func (h *chatHandler) resolveConversationID(ctx context.Context, requested string, visitorName string) (string, error) {
	if requested != "" {
		existing, err := h.store.GetConversation(ctx, requested)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return requested, nil
			}
			return "", err
		}
		if !h.hub.visitorOnline(requested) || existing.VisitorName == visitorName {
			return requested, nil
		}
	}
	minted, err := platformid.NewID()
	if err != nil {
		return "", err
	}
	return minted, nil
}

func (h *chatHandler) handleJoinAdmin(session *connSession, frame chatwire.Frame) {
	var payload chatwire.JoinAdminPayload
	if err := frame.Decode(&payload); err != nil {
		h.writeError(session.peer, "INVALID_ARGUMENT", "invalid join-admin payload", "")
		return
	}

	userID := strings.TrimSpace(payload.UserID)
	adminName := strings.TrimSpace(payload.AdminName)
	if h.authorizer != nil {
		identity, err := h.authorizer.VerifyAdmin(payload.Token)
		if err != nil {
			log.Printf("chat: admin auth failed: %v", err)
			h.writeError(session.peer, "UNAUTHENTICATED", "admin credentials rejected", "")
			return
		}
		userID = identity.UserID
		if identity.Name != "" {
			adminName = identity.Name
		}
	}
	if userID == "" {
		h.writeError(session.peer, "INVALID_ARGUMENT", "admin user id is required", "")
		return
	}

	h.hub.joinAdmin(session.peer)
	session.setAdmin(userID, adminName)
}

func (h *chatHandler) handleGetActiveConversations(session *connSession) {
	role, _ := session.snapshot()
	if role != chatwire.RoleAdmin {
		h.writeError(session.peer, "FORBIDDEN", "join-admin required", "")
		return
	}

	ctx := context.Background()
	cutoff := time.Time{}
	if h.activeWindow > 0 {
		cutoff = h.now().Add(-h.activeWindow)
	}
	conversations, err := h.store.ListConversations(ctx, cutoff)
	if err != nil {
		log.Printf("chat: list conversations: %v", err)
		h.writeError(session.peer, "INTERNAL", "could not list conversations", "")
		return
	}

	previews := make([]chatwire.ConversationPreview, 0, len(conversations))
	for _, conversation := range conversations {
		preview := chatwire.ConversationPreview{
			ConversationID: conversation.ID,
			VisitorName:    conversation.VisitorName,
			VisitorEmail:   conversation.VisitorEmail,
			UnreadCount:    conversation.UnreadCount,
			UpdatedAt:      conversation.UpdatedAt.UnixMilli(),
			IsOnline:       h.hub.visitorOnline(conversation.ID),
		}
		last, err := h.store.LastMessage(ctx, conversation.ID)
		if err == nil {
			wire := wireMessage(last)
			preview.LastMessage = &wire
		} else if !errors.Is(err, storage.ErrNotFound) {
			log.Printf("chat: last message %s: %v", conversation.ID, err)
		}
		previews = append(previews, preview)
	}

	h.send(session.peer, chatwire.EventActiveConversations, chatwire.ActiveConversationsPayload{
		Conversations: previews,
	})
}

func (h *chatHandler) handleGetConversation(session *connSession, frame chatwire.Frame) {
	role, _ := session.snapshot()
	if role != chatwire.RoleAdmin {
		h.writeError(session.peer, "FORBIDDEN", "join-admin required", "")
		return
	}

	var payload chatwire.GetConversationPayload
	if err := frame.Decode(&payload); err != nil {
		h.writeError(session.peer, "INVALID_ARGUMENT", "invalid get-conversation payload", "")
		return
	}
	conversationID := strings.TrimSpace(payload.ConversationID)
	if conversationID == "" {
		h.writeError(session.peer, "INVALID_ARGUMENT", "conversationId is required", "")
		return
	}
	limit := payload.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	messages, err := h.store.ListMessages(context.Background(), conversationID, limit)
	if err != nil {
		log.Printf("chat: load conversation %s: %v", conversationID, err)
		h.writeError(session.peer, "INTERNAL", "could not load conversation", "")
		return
	}
	h.send(session.peer, chatwire.EventConversationMessages, chatwire.ConversationMessagesPayload{
		Messages: wireMessages(messages),
	})
}

func (h *chatHandler) handleSendMessage(session *connSession, frame chatwire.Frame) {
	var payload chatwire.Message
	if err := frame.Decode(&payload); err != nil {
		h.writeError(session.peer, "INVALID_ARGUMENT", "invalid send-message payload", "")
		return
	}

	role, sessionConversation := session.snapshot()
	if role == "" {
		h.writeError(session.peer, "FORBIDDEN", "join before sending", payload.TempID)
		return
	}

	tempID := strings.TrimSpace(payload.TempID)
	if tempID == "" {
		h.writeError(session.peer, "INVALID_ARGUMENT", "tempId is required", "")
		return
	}
	if utf8.RuneCountInString(tempID) > maxTempIDRunes {
		h.writeError(session.peer, "INVALID_ARGUMENT", "tempId is too long", "")
		return
	}
	body := strings.TrimSpace(payload.Body)
	if body == "" {
		h.writeError(session.peer, "INVALID_ARGUMENT", "message body is required", tempID)
		return
	}
	if utf8.RuneCountInString(body) > maxMessageBodyRunes {
		h.writeError(session.peer, "INVALID_ARGUMENT", "message body is too long", tempID)
		return
	}

	conversationID := strings.TrimSpace(payload.ConversationID)
	if role == chatwire.RoleVisitor {
		conversationID = sessionConversation
	}
	if conversationID == "" {
		h.writeError(session.peer, "INVALID_ARGUMENT", "conversationId is required", tempID)
		return
	}

	ctx := context.Background()
	if _, err := h.store.GetConversation(ctx, conversationID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			h.writeError(session.peer, "NOT_FOUND", "conversation not found", tempID)
			return
		}
		log.Printf("chat: lookup conversation %s: %v", conversationID, err)
		h.writeError(session.peer, "INTERNAL", "could not send message", tempID)
		return
	}

	// A retry after a lost acknowledgment reuses the tempId. Re-ack with
	// the original id instead of persisting a second copy.
	if existing, err := h.store.GetMessageByTempID(ctx, conversationID, tempID); err == nil {
		h.send(session.peer, chatwire.EventMessageDelivered, chatwire.MessageDeliveredPayload{
			MessageID: existing.ID,
			TempID:    tempID,
		})
		return
	} else if !errors.Is(err, storage.ErrNotFound) {
		log.Printf("chat: lookup message by temp id %s: %v", tempID, err)
		h.writeError(session.peer, "INTERNAL", "could not send message", tempID)
		return
	}

	messageID, err := platformid.NewID()
	if err != nil {
		log.Printf("chat: mint message id: %v", err)
		h.writeError(session.peer, "INTERNAL", "could not send message", tempID)
		return
	}

	senderName := strings.TrimSpace(payload.SenderName)
	if senderName == "" {
		senderName = string(role)
	}
	stored := storage.Message{
		ID:             messageID,
		TempID:         tempID,
		ConversationID: conversationID,
		SenderName:     senderName,
		SenderType:     string(role),
		Body:           body,
		CreatedAt:      h.now(),
	}
	if err := h.store.AppendMessage(ctx, stored); err != nil {
		// A concurrent retry may have landed the same tempId between the
		// lookup and the insert; resolve to the stored row.
		if existing, lookupErr := h.store.GetMessageByTempID(ctx, conversationID, tempID); lookupErr == nil {
			h.send(session.peer, chatwire.EventMessageDelivered, chatwire.MessageDeliveredPayload{
				MessageID: existing.ID,
				TempID:    tempID,
			})
			return
		}
		log.Printf("chat: append message %s: %v", messageID, err)
		h.writeError(session.peer, "INTERNAL", "could not send message", tempID)
		return
	}

	h.send(session.peer, chatwire.EventMessageDelivered, chatwire.MessageDeliveredPayload{
		MessageID: messageID,
		TempID:    tempID,
	})

	out := wireMessage(stored)
	if role == chatwire.RoleVisitor {
		unread, err := h.store.IncrementUnread(ctx, conversationID)
		if err != nil {
			log.Printf("chat: increment unread %s: %v", conversationID, err)
		}
		admins := h.hub.adminPeers()
		h.broadcast(admins, chatwire.EventNewMessage, out)
		h.broadcast(admins, chatwire.EventNewVisitorMessage, chatwire.NewVisitorMessagePayload{
			ConversationID: conversationID,
			Message:        out,
			UnreadCount:    unread,
		})
		h.broadcastExcept(h.hub.visitorPeers(conversationID), session.peer, chatwire.EventNewMessage, out)
		return
	}

	h.broadcast(h.hub.visitorPeers(conversationID), chatwire.EventNewMessage, out)
	h.broadcastExcept(h.hub.adminPeers(), session.peer, chatwire.EventNewMessage, out)
}

func (h *chatHandler) handleMarkRead(session *connSession, frame chatwire.Frame) {
	var payload chatwire.MarkReadPayload
	if err := frame.Decode(&payload); err != nil {
		h.writeError(session.peer, "INVALID_ARGUMENT", "invalid mark-read payload", "")
		return
	}

	role, sessionConversation := session.snapshot()
	if role == "" {
		h.writeError(session.peer, "FORBIDDEN", "join before marking read", "")
		return
	}
	conversationID := strings.TrimSpace(payload.ConversationID)
	if role == chatwire.RoleVisitor {
		conversationID = sessionConversation
	}
	if conversationID == "" {
		h.writeError(session.peer, "INVALID_ARGUMENT", "conversationId is required", "")
		return
	}

	ctx := context.Background()
	changed, err := h.store.MarkMessagesRead(ctx, conversationID, payload.MessageIDs)
	if err != nil {
		log.Printf("chat: mark read %s: %v", conversationID, err)
		h.writeError(session.peer, "INTERNAL", "could not mark messages read", "")
		return
	}

	if role == chatwire.RoleAdmin {
		if err := h.store.ResetUnread(ctx, conversationID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			log.Printf("chat: reset unread %s: %v", conversationID, err)
		}
		h.broadcast(h.hub.adminPeers(), chatwire.EventUnreadCountUpdated, chatwire.UnreadCountUpdatedPayload{
			ConversationID: conversationID,
			UnreadCount:    0,
		})
	}

	if len(changed) == 0 {
		return
	}
	recipients := h.hub.rolePeers(role.Opposite(), conversationID)
	h.broadcast(recipients, chatwire.EventMessagesRead, chatwire.MessagesReadPayload{
		MessageIDs: changed,
	})
	for _, messageID := range changed {
		h.broadcast(recipients, chatwire.EventMessageStatusUpdated, chatwire.MessageStatusUpdatedPayload{
			MessageID: messageID,
			Status:    chatwire.StatusRead,
		})
	}
}

func (h *chatHandler) handleTyping(session *connSession, frame chatwire.Frame, stop bool) {
	var payload chatwire.TypingPayload
	if err := frame.Decode(&payload); err != nil {
		h.writeError(session.peer, "INVALID_ARGUMENT", "invalid typing payload", "")
		return
	}

	role, sessionConversation := session.snapshot()
	if role == "" {
		return
	}
	conversationID := strings.TrimSpace(payload.ConversationID)
	if role == chatwire.RoleVisitor {
		conversationID = sessionConversation
	}
	if conversationID == "" {
		return
	}

	event := chatwire.EventUserTyping
	if stop {
		event = chatwire.EventUserStopTyping
	}
	h.broadcastExcept(h.hub.rolePeers(role.Opposite(), conversationID), session.peer, event, chatwire.UserTypingPayload{
		ConversationID: conversationID,
	})
}

func (h *chatHandler) send(peer *wsPeer, event string, payload any) {
	frame, err := chatwire.NewFrame(event, payload)
	if err != nil {
		log.Printf("chat: build %s frame: %v", event, err)
		return
	}
	if err := peer.writeFrame(frame); err != nil {
		log.Printf("chat: write %s frame: %v", event, err)
	}
}

func (h *chatHandler) broadcast(peers []*wsPeer, event string, payload any) {
	h.broadcastExcept(peers, nil, event, payload)
}

func (h *chatHandler) broadcastExcept(peers []*wsPeer, skip *wsPeer, event string, payload any) {
	if len(peers) == 0 {
		return
	}
	frame, err := chatwire.NewFrame(event, payload)
	if err != nil {
		log.Printf("chat: build %s frame: %v", event, err)
		return
	}
	for _, peer := range peers {
		if peer == skip {
			continue
		}
		if err := peer.writeFrame(frame); err != nil {
			log.Printf("chat: write %s frame: %v", event, err)
		}
	}
}

func (h *chatHandler) writeError(peer *wsPeer, code string, message string, tempID string) {
	retryable := code == "INTERNAL" || code == "RESOURCE_EXHAUSTED"
	h.send(peer, chatwire.EventError, chatwire.ErrorPayload{
		Code:      code,
		Message:   message,
		Retryable: retryable,
		TempID:    tempID,
	})
}

func wireMessage(message storage.Message) chatwire.Message {
	status := chatwire.StatusDelivered
	if message.Read {
		status = chatwire.StatusRead
	}
	return chatwire.Message{
		ID:             message.ID,
		TempID:         message.TempID,
		ConversationID: message.ConversationID,
		SenderName:     message.SenderName,
		SenderType:     chatwire.Role(message.SenderType),
		Body:           message.Body,
		CreatedAt:      message.CreatedAt.UnixMilli(),
		Status:         status,
		IsRead:         message.Read,
	}
}

func wireMessages(messages []storage.Message) []chatwire.Message {
	wire := make([]chatwire.Message, 0, len(messages))
	for _, message := range messages {
		wire = append(wire, wireMessage(message))
	}
	return wire
}
