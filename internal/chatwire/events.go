package chatwire

// Event names emitted by clients.
const (
	EventJoin                   = "join"
	EventJoinAdmin              = "join-admin"
	EventGetActiveConversations = "get-active-conversations"
	EventGetConversation        = "get-conversation"
	EventSendMessage            = "send-message"
	EventMarkRead               = "mark-read"
	EventTyping                 = "typing"
	EventStopTyping             = "stop-typing"
)

// Event names emitted by the backend.
const (
	EventConversationJoined   = "conversation-joined"
	EventConversationHistory  = "conversation-history"
	EventConversationMessages = "conversation-messages"
	EventActiveConversations  = "active-conversations"
	EventVisitorJoined        = "visitor-joined"
	EventVisitorLeft          = "visitor-left"
	EventNewMessage           = "new-message"
	EventNewVisitorMessage    = "new-visitor-message"
	EventMessageDelivered     = "message-delivered"
	EventMessageStatusUpdated = "message-status-updated"
	EventMessagesRead         = "messages-read"
	EventUnreadCountUpdated   = "unread-count-updated"
	EventUserTyping           = "user-typing"
	EventUserStopTyping       = "user-stop-typing"
	EventError                = "error"
)

// Role identifies which side of a conversation a participant belongs to.
type Role string

const (
	RoleVisitor Role = "visitor"
	RoleAdmin   Role = "admin"
)

// Valid reports whether the role is one of the two known values.
func (r Role) Valid() bool {
	return r == RoleVisitor || r == RoleAdmin
}

// Opposite returns the peer role of a conversation.
func (r Role) Opposite() Role {
	if r == RoleVisitor {
		return RoleAdmin
	}
	return RoleVisitor
}

// User identifies a conversation participant inside a join payload.
type User struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Type  Role   `json:"type"`
}

// JoinPayload enters or reopens a conversation.
//
// ConversationID may be empty: the backend mints a canonical identifier and
// returns it in a conversation-joined frame. A non-empty identifier is kept
// when it does not collide with another visitor's live conversation.
type JoinPayload struct {
	ConversationID string `json:"conversationId,omitempty"`
	User           User   `json:"user"`
}

// JoinAdminPayload announces an operator on the shared console channel.
type JoinAdminPayload struct {
	UserID    string `json:"userId"`
	AdminName string `json:"adminName"`
	Token     string `json:"token,omitempty"`
}

// ConversationJoinedPayload carries the server-canonical conversation id.
type ConversationJoinedPayload struct {
	ConversationID string `json:"conversationId"`
}

// GetConversationPayload requests message history for one conversation.
type GetConversationPayload struct {
	ConversationID string `json:"conversationId"`
	Limit          int    `json:"limit,omitempty"`
}

// ConversationMessagesPayload is the admin-side history snapshot.
type ConversationMessagesPayload struct {
	Messages []Message `json:"messages"`
}

// ConversationPreview summarizes one conversation in the admin registry.
type ConversationPreview struct {
	ConversationID string   `json:"conversationId"`
	VisitorName    string   `json:"visitorName,omitempty"`
	VisitorEmail   string   `json:"visitorEmail,omitempty"`
	LastMessage    *Message `json:"lastMessage,omitempty"`
	UnreadCount    int      `json:"unreadCount"`
	UpdatedAt      int64    `json:"updatedAt"`
	IsOnline       bool     `json:"isOnline"`
}

// ActiveConversationsPayload is the full registry snapshot.
type ActiveConversationsPayload struct {
	Conversations []ConversationPreview `json:"conversations"`
}

// VisitorPresencePayload signals a visitor joining or leaving a conversation.
type VisitorPresencePayload struct {
	ConversationID string `json:"conversationId"`
}

// NewVisitorMessagePayload is the admin-scoped notice for one visitor message.
type NewVisitorMessagePayload struct {
	ConversationID string  `json:"conversationId"`
	Message        Message `json:"message"`
	UnreadCount    int     `json:"unreadCount"`
}

// MessageDeliveredPayload attaches the server id to an optimistic message.
type MessageDeliveredPayload struct {
	MessageID string `json:"messageId"`
	TempID    string `json:"tempId"`
}

// MessageStatusUpdatedPayload is the generic status push.
type MessageStatusUpdatedPayload struct {
	MessageID string         `json:"messageId"`
	Status    DeliveryStatus `json:"status"`
}

// MarkReadPayload acknowledges reading a batch of messages.
type MarkReadPayload struct {
	ConversationID string   `json:"conversationId"`
	MessageIDs     []string `json:"messageIds"`
}

// MessagesReadPayload is the read receipt broadcast.
type MessagesReadPayload struct {
	MessageIDs []string `json:"messageIds"`
}

// UnreadCountUpdatedPayload pushes a per-conversation counter to admins.
type UnreadCountUpdatedPayload struct {
	ConversationID string `json:"conversationId"`
	UnreadCount    int    `json:"unreadCount"`
}

// TypingPayload is the client-emitted presence signal.
type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	User           string `json:"user,omitempty"`
}

// UserTypingPayload is the relayed presence broadcast.
type UserTypingPayload struct {
	ConversationID string `json:"conversationId"`
}

// ErrorPayload reports a non-fatal channel error.
//
// TempID is set when the error concerns one specific outbound message so the
// sender can fail exactly that entry instead of the session.
type ErrorPayload struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	TempID    string `json:"tempId,omitempty"`
}
