// Package memory provides an in-memory chat store for tests and ephemeral runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aeriallens/livechat/internal/services/chat/storage"
)

// Store keeps chat state in process memory.
type Store struct {
	mu            sync.Mutex
	conversations map[string]storage.Conversation
	messages      map[string][]storage.Message
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		conversations: make(map[string]storage.Conversation),
		messages:      make(map[string][]storage.Message),
	}
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}

// UpsertConversation inserts or refreshes one conversation record.
func (s *Store) UpsertConversation(ctx context.Context, conversation storage.Conversation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id := strings.TrimSpace(conversation.ID)
	if id == "" {
		return fmt.Errorf("conversation id is required")
	}
	if strings.TrimSpace(conversation.VisitorName) == "" {
		return fmt.Errorf("visitor name is required")
	}
	if conversation.CreatedAt.IsZero() {
		conversation.CreatedAt = time.Now().UTC()
	}
	if conversation.UpdatedAt.IsZero() {
		conversation.UpdatedAt = conversation.CreatedAt
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.conversations[id]; ok {
		existing.VisitorName = conversation.VisitorName
		existing.VisitorEmail = conversation.VisitorEmail
		existing.UpdatedAt = conversation.UpdatedAt
		s.conversations[id] = existing
		return nil
	}
	conversation.ID = id
	s.conversations[id] = conversation
	return nil
}

// GetConversation returns one conversation by id.
func (s *Store) GetConversation(ctx context.Context, id string) (storage.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return storage.Conversation{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	conversation, ok := s.conversations[strings.TrimSpace(id)]
	if !ok {
		return storage.Conversation{}, storage.ErrNotFound
	}
	return conversation, nil
}

// ListConversations returns conversations updated after the cutoff, most
// recent first.
func (s *Store) ListConversations(ctx context.Context, updatedAfter time.Time) ([]storage.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var conversations []storage.Conversation
	for _, conversation := range s.conversations {
		if conversation.UpdatedAt.After(updatedAfter) {
			conversations = append(conversations, conversation)
		}
	}
	sort.Slice(conversations, func(i, j int) bool {
		return conversations[i].UpdatedAt.After(conversations[j].UpdatedAt)
	})
	return conversations, nil
}

// AppendMessage stores one message and bumps the conversation's UpdatedAt.
func (s *Store) AppendMessage(ctx context.Context, message storage.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id := strings.TrimSpace(message.ID)
	conversationID := strings.TrimSpace(message.ConversationID)
	if id == "" {
		return fmt.Errorf("message id is required")
	}
	if conversationID == "" {
		return fmt.Errorf("conversation id is required")
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tempID := strings.TrimSpace(message.TempID); tempID != "" {
		for _, existing := range s.messages[conversationID] {
			if existing.TempID == tempID {
				return fmt.Errorf("message with temp id %s already exists in conversation %s", tempID, conversationID)
			}
		}
	}
	s.messages[conversationID] = append(s.messages[conversationID], message)
	if conversation, ok := s.conversations[conversationID]; ok {
		conversation.UpdatedAt = message.CreatedAt
		s.conversations[conversationID] = conversation
	}
	return nil
}

// GetMessageByTempID returns the message submitted under the given tempId.
func (s *Store) GetMessageByTempID(ctx context.Context, conversationID string, tempID string) (storage.Message, error) {
	if err := ctx.Err(); err != nil {
		return storage.Message{}, err
	}
	conversationID = strings.TrimSpace(conversationID)
	tempID = strings.TrimSpace(tempID)
	if tempID == "" {
		return storage.Message{}, storage.ErrNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, message := range s.messages[conversationID] {
		if message.TempID == tempID {
			return message, nil
		}
	}
	return storage.Message{}, storage.ErrNotFound
}

// ListMessages returns up to limit messages in ascending creation order.
func (s *Store) ListMessages(ctx context.Context, conversationID string, limit int) ([]storage.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := s.messages[strings.TrimSpace(conversationID)]
	messages := make([]storage.Message, len(stored))
	copy(messages, stored)
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})
	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	return messages, nil
}

// LastMessage returns the most recent message of one conversation.
func (s *Store) LastMessage(ctx context.Context, conversationID string) (storage.Message, error) {
	messages, err := s.ListMessages(ctx, conversationID, 0)
	if err != nil {
		return storage.Message{}, err
	}
	if len(messages) == 0 {
		return storage.Message{}, storage.ErrNotFound
	}
	return messages[len(messages)-1], nil
}

// MarkMessagesRead flags messages read, returning the ids that changed.
func (s *Store) MarkMessagesRead(ctx context.Context, conversationID string, messageIDs []string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	conversationID = strings.TrimSpace(conversationID)

	wanted := make(map[string]struct{}, len(messageIDs))
	for _, messageID := range messageIDs {
		if messageID = strings.TrimSpace(messageID); messageID != "" {
			wanted[messageID] = struct{}{}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var changed []string
	stored := s.messages[conversationID]
	for i, message := range stored {
		if message.Read {
			continue
		}
		if _, ok := wanted[message.ID]; !ok {
			continue
		}
		stored[i].Read = true
		changed = append(changed, message.ID)
	}
	return changed, nil
}

// IncrementUnread adds one to the conversation's unread counter.
func (s *Store) IncrementUnread(ctx context.Context, conversationID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	conversation, ok := s.conversations[strings.TrimSpace(conversationID)]
	if !ok {
		return 0, storage.ErrNotFound
	}
	conversation.UnreadCount++
	s.conversations[conversation.ID] = conversation
	return conversation.UnreadCount, nil
}

// ResetUnread zeroes the conversation's unread counter.
func (s *Store) ResetUnread(ctx context.Context, conversationID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	conversation, ok := s.conversations[strings.TrimSpace(conversationID)]
	if !ok {
		return storage.ErrNotFound
	}
	conversation.UnreadCount = 0
	s.conversations[conversation.ID] = conversation
	return nil
}
