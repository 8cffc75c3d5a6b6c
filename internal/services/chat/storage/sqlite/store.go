// Package sqlite provides a SQLite-backed chat storage implementation.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/aeriallens/livechat/internal/platform/storage/sqlitemigrate"
	"github.com/aeriallens/livechat/internal/services/chat/storage"
	_ "modernc.org/sqlite"

	"github.com/aeriallens/livechat/internal/services/chat/storage/sqlite/migrations"
)

// Store persists chat state in SQLite.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite chat store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// UpsertConversation inserts or refreshes one conversation record.
func (s *Store) UpsertConversation(ctx context.Context, conversation storage.Conversation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	id := strings.TrimSpace(conversation.ID)
	name := strings.TrimSpace(conversation.VisitorName)
	if id == "" {
		return fmt.Errorf("conversation id is required")
	}
	if name == "" {
		return fmt.Errorf("visitor name is required")
	}
	createdAt := conversation.CreatedAt.UTC()
	updatedAt := conversation.UpdatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO conversations (id, visitor_name, visitor_email, unread_count, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   visitor_name  = excluded.visitor_name,
		   visitor_email = excluded.visitor_email,
		   updated_at    = excluded.updated_at`,
		id,
		name,
		strings.TrimSpace(conversation.VisitorEmail),
		conversation.UnreadCount,
		toMillis(createdAt),
		toMillis(updatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert conversation: %w", err)
	}
	return nil
}

// GetConversation returns one conversation by id.
func (s *Store) GetConversation(ctx context.Context, id string) (storage.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return storage.Conversation{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.Conversation{}, fmt.Errorf("storage is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return storage.Conversation{}, fmt.Errorf("conversation id is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT id, visitor_name, visitor_email, unread_count, created_at, updated_at
		   FROM conversations WHERE id = ?`,
		id,
	)
	return scanConversation(row)
}

// ListConversations returns conversations updated after the cutoff, most
// recent first.
func (s *Store) ListConversations(ctx context.Context, updatedAfter time.Time) ([]storage.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT id, visitor_name, visitor_email, unread_count, created_at, updated_at
		   FROM conversations
		  WHERE updated_at > ?
		  ORDER BY updated_at DESC`,
		toMillis(updatedAfter),
	)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var conversations []storage.Conversation
	for rows.Next() {
		conversation, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		conversations = append(conversations, conversation)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	return conversations, nil
}

// AppendMessage inserts one message and bumps the conversation's updated_at.
func (s *Store) AppendMessage(ctx context.Context, message storage.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	id := strings.TrimSpace(message.ID)
	conversationID := strings.TrimSpace(message.ConversationID)
	if id == "" {
		return fmt.Errorf("message id is required")
	}
	if conversationID == "" {
		return fmt.Errorf("conversation id is required")
	}
	createdAt := message.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append message: %w", err)
	}
	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO messages (id, temp_id, conversation_id, sender_name, sender_type, body, read, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id,
		strings.TrimSpace(message.TempID),
		conversationID,
		message.SenderName,
		message.SenderType,
		message.Body,
		boolToInt(message.Read),
		toMillis(createdAt),
	); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert message: %w", err)
	}
	if _, err := tx.ExecContext(
		ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`,
		toMillis(createdAt),
		conversationID,
	); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("touch conversation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append message: %w", err)
	}
	return nil
}

// GetMessageByTempID returns the message submitted under the given tempId.
func (s *Store) GetMessageByTempID(ctx context.Context, conversationID string, tempID string) (storage.Message, error) {
	if err := ctx.Err(); err != nil {
		return storage.Message{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.Message{}, fmt.Errorf("storage is not configured")
	}
	conversationID = strings.TrimSpace(conversationID)
	tempID = strings.TrimSpace(tempID)
	if conversationID == "" {
		return storage.Message{}, fmt.Errorf("conversation id is required")
	}
	if tempID == "" {
		return storage.Message{}, fmt.Errorf("temp id is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT id, temp_id, conversation_id, sender_name, sender_type, body, read, created_at
		   FROM messages
		  WHERE conversation_id = ? AND temp_id = ?
		  LIMIT 1`,
		conversationID,
		tempID,
	)
	return scanMessage(row)
}

// ListMessages returns up to limit messages in ascending creation order.
func (s *Store) ListMessages(ctx context.Context, conversationID string, limit int) ([]storage.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return nil, fmt.Errorf("conversation id is required")
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT id, temp_id, conversation_id, sender_name, sender_type, body, read, created_at
		   FROM (SELECT messages.*, rowid AS rid FROM messages
		          WHERE conversation_id = ?
		          ORDER BY created_at DESC, rid DESC
		          LIMIT ?)
		  ORDER BY created_at ASC, rid ASC`,
		conversationID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []storage.Message
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, message)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

// LastMessage returns the most recent message of one conversation.
func (s *Store) LastMessage(ctx context.Context, conversationID string) (storage.Message, error) {
	if err := ctx.Err(); err != nil {
		return storage.Message{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.Message{}, fmt.Errorf("storage is not configured")
	}
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return storage.Message{}, fmt.Errorf("conversation id is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT id, temp_id, conversation_id, sender_name, sender_type, body, read, created_at
		   FROM messages
		  WHERE conversation_id = ?
		  ORDER BY created_at DESC, rowid DESC
		  LIMIT 1`,
		conversationID,
	)
	return scanMessage(row)
}

// MarkMessagesRead flags messages read, returning the ids that changed.
func (s *Store) MarkMessagesRead(ctx context.Context, conversationID string, messageIDs []string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return nil, fmt.Errorf("conversation id is required")
	}

	var changed []string
	for _, messageID := range messageIDs {
		messageID = strings.TrimSpace(messageID)
		if messageID == "" {
			continue
		}
		result, err := s.sqlDB.ExecContext(
			ctx,
			`UPDATE messages SET read = 1
			  WHERE id = ? AND conversation_id = ? AND read = 0`,
			messageID,
			conversationID,
		)
		if err != nil {
			return nil, fmt.Errorf("mark message %s read: %w", messageID, err)
		}
		count, err := result.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("mark message %s read: %w", messageID, err)
		}
		if count > 0 {
			changed = append(changed, messageID)
		}
	}
	return changed, nil
}

// IncrementUnread adds one to the conversation's unread counter.
func (s *Store) IncrementUnread(ctx context.Context, conversationID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return 0, fmt.Errorf("conversation id is required")
	}

	result, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE conversations SET unread_count = unread_count + 1 WHERE id = ?`,
		conversationID,
	)
	if err != nil {
		return 0, fmt.Errorf("increment unread: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("increment unread: %w", err)
	}
	if affected == 0 {
		return 0, storage.ErrNotFound
	}

	var count int
	row := s.sqlDB.QueryRowContext(ctx, `SELECT unread_count FROM conversations WHERE id = ?`, conversationID)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("read unread count: %w", err)
	}
	return count, nil
}

// ResetUnread zeroes the conversation's unread counter.
func (s *Store) ResetUnread(ctx context.Context, conversationID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return fmt.Errorf("conversation id is required")
	}

	if _, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE conversations SET unread_count = 0 WHERE id = ?`,
		conversationID,
	); err != nil {
		return fmt.Errorf("reset unread: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (storage.Conversation, error) {
	var conversation storage.Conversation
	var createdAt int64
	var updatedAt int64
	err := row.Scan(
		&conversation.ID,
		&conversation.VisitorName,
		&conversation.VisitorEmail,
		&conversation.UnreadCount,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Conversation{}, storage.ErrNotFound
		}
		return storage.Conversation{}, fmt.Errorf("scan conversation: %w", err)
	}
	conversation.CreatedAt = fromMillis(createdAt)
	conversation.UpdatedAt = fromMillis(updatedAt)
	return conversation, nil
}

func scanMessage(row rowScanner) (storage.Message, error) {
	var message storage.Message
	var read int
	var createdAt int64
	err := row.Scan(
		&message.ID,
		&message.TempID,
		&message.ConversationID,
		&message.SenderName,
		&message.SenderType,
		&message.Body,
		&read,
		&createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Message{}, storage.ErrNotFound
		}
		return storage.Message{}, fmt.Errorf("scan message: %w", err)
	}
	message.Read = read != 0
	message.CreatedAt = fromMillis(createdAt)
	return message, nil
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
