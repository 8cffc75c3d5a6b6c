// Package storage defines persistence for conversations and messages.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New("record not found")

// Conversation is one visitor-to-business thread.
type Conversation struct {
	ID           string
	VisitorName  string
	VisitorEmail string
	UnreadCount  int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Message is one persisted chat message.
type Message struct {
	ID             string
	TempID         string
	ConversationID string
	SenderName     string
	SenderType     string
	Body           string
	Read           bool
	CreatedAt      time.Time
}

// Store persists chat conversations and their messages.
//
// AppendMessage also bumps the owning conversation's UpdatedAt so listing
// order follows last activity.
type Store interface {
	UpsertConversation(ctx context.Context, conversation Conversation) error
	GetConversation(ctx context.Context, id string) (Conversation, error)
	// ListConversations returns conversations with activity after the cutoff,
	// most recently updated first. A zero cutoff returns everything.
	ListConversations(ctx context.Context, updatedAfter time.Time) ([]Conversation, error)

	// AppendMessage stores one message. A message whose TempID is already
	// present in the conversation is rejected; callers resolve retries with
	// GetMessageByTempID first.
	AppendMessage(ctx context.Context, message Message) error
	// GetMessageByTempID returns the message a client submitted under the
	// given tempId, or ErrNotFound.
	GetMessageByTempID(ctx context.Context, conversationID string, tempID string) (Message, error)
	// ListMessages returns up to limit messages in ascending creation order.
	// A non-positive limit returns the full history.
	ListMessages(ctx context.Context, conversationID string, limit int) ([]Message, error)
	LastMessage(ctx context.Context, conversationID string) (Message, error)
	// MarkMessagesRead flags the given messages read and returns the ids that
	// actually changed state.
	MarkMessagesRead(ctx context.Context, conversationID string, messageIDs []string) ([]string, error)

	IncrementUnread(ctx context.Context, conversationID string) (int, error)
	ResetUnread(ctx context.Context, conversationID string) error

	Close() error
}
