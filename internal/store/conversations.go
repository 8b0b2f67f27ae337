// ABOUTME: Conversation and message persistence with previews and pinning
// ABOUTME: RecordMessage writes the message and the parent's preview in one transaction

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// idAlphabet and idLength shape conversation and message ids.
const (
	idAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	idLength   = 21
)

// ConversationStore defines methods for conversations and their messages.
type ConversationStore interface {
	CreateConversation(ctx context.Context, title string) (*Conversation, error)
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	ListConversations(ctx context.Context) ([]*Conversation, error)
	RenameConversation(ctx context.Context, id, title string) (*Conversation, error)
	SetConversationPinned(ctx context.Context, id string, pinned bool) (*Conversation, error)
	DeleteConversation(ctx context.Context, id string) error
	RecordMessage(ctx context.Context, conversationID, role, content string) (*Message, error)
	ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error)
}

var _ ConversationStore = (*SQLiteStore)(nil)

const conversationColumns = `id, title, pinned, last_message_preview, last_message_at, created_at, updated_at`

func newID() (string, error) {
	id, err := nanoid.Generate(idAlphabet, idLength)
	if err != nil {
		return "", fmt.Errorf("generating id: %w", err)
	}
	return id, nil
}

// previewOf returns the first PreviewLength characters of content.
func previewOf(content string) string {
	if utf8.RuneCountInString(content) <= PreviewLength {
		return content
	}
	n := 0
	for i := range content {
		if n == PreviewLength {
			return content[:i]
		}
		n++
	}
	return content
}

// CreateConversation creates a conversation. An empty title becomes
// DefaultConversationTitle.
func (s *SQLiteStore) CreateConversation(ctx context.Context, title string) (*Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = DefaultConversationTitle
	}
	id, err := newID()
	if err != nil {
		return nil, err
	}

	stamp := s.timestamp()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, title, pinned, created_at, updated_at) VALUES (?, ?, 0, ?, ?)`,
		id, title, stamp, stamp,
	); err != nil {
		return nil, fmt.Errorf("inserting conversation: %w", err)
	}

	s.logger.Debug("created conversation", "id", id)
	return s.GetConversation(ctx, id)
}

// GetConversation retrieves a conversation by ID.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return conv, err
}

// ListConversations returns pinned conversations first, then by most recent
// activity, creation time, and id, all descending.
func (s *SQLiteStore) ListConversations(ctx context.Context) ([]*Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		ORDER BY pinned DESC,
			COALESCE(last_message_at, updated_at) DESC,
			created_at DESC,
			id DESC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversations: %w", err)
	}
	return convs, nil
}

// RenameConversation sets a new title and returns the updated row.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) RenameConversation(ctx context.Context, id, title string) (*Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, errors.New("conversation title is required")
	}
	if err := s.updateConversation(ctx, id,
		`UPDATE conversations SET title = ?, updated_at = ? WHERE id = ?`,
		title, s.timestamp(), id,
	); err != nil {
		return nil, err
	}
	return s.GetConversation(ctx, id)
}

// SetConversationPinned pins or unpins a conversation and returns the
// updated row. Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) SetConversationPinned(ctx context.Context, id string, pinned bool) (*Conversation, error) {
	if err := s.updateConversation(ctx, id,
		`UPDATE conversations SET pinned = ?, updated_at = ? WHERE id = ?`,
		boolToInt(pinned), s.timestamp(), id,
	); err != nil {
		return nil, err
	}
	return s.GetConversation(ctx, id)
}

func (s *SQLiteStore) updateConversation(ctx context.Context, id, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating conversation: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	s.logger.Debug("updated conversation", "id", id)
	return nil
}

// DeleteConversation removes a conversation and, by cascade, its messages.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting conversation: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	s.logger.Debug("deleted conversation", "id", id)
	return nil
}

// RecordMessage appends a message and updates the conversation's preview and
// activity time in one transaction. Returns ErrNotFound, with nothing
// written, if the conversation doesn't exist.
func (s *SQLiteStore) RecordMessage(ctx context.Context, conversationID, role, content string) (*Message, error) {
	if !validRole(role) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	id, err := newID()
	if err != nil {
		return nil, err
	}

	// The timestamp is taken under the write lock so message order matches
	// commit order.
	var now time.Time
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		now = s.now().UTC()
		stamp := formatTime(now)
		result, err := tx.ExecContext(ctx, `
			UPDATE conversations
			SET last_message_preview = ?, last_message_at = ?, updated_at = ?
			WHERE id = ?
		`, previewOf(content), stamp, stamp, conversationID)
		if err != nil {
			return fmt.Errorf("updating conversation preview: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("checking rows affected: %w", err)
		}
		if rows == 0 {
			return ErrNotFound
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages (id, conversation_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
			id, conversationID, role, content, stamp,
		); err != nil {
			return fmt.Errorf("inserting message: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("recorded message", "conversation_id", conversationID, "role", role, "length", len(content))
	return &Message{
		ID:             id,
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      now,
	}, nil
}

// ListMessages returns messages in chronological order (oldest first).
// If limit > 0 only the most recent limit messages are returned, still
// oldest first. This is a tail window, not a head page: with a limit the
// oldest messages are the ones left out.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	var query string
	var args []any

	if limit > 0 {
		query = `
			SELECT id, conversation_id, role, content, created_at
			FROM (
				SELECT rowid AS seq, id, conversation_id, role, content, created_at
				FROM messages
				WHERE conversation_id = ?
				ORDER BY created_at DESC, rowid DESC
				LIMIT ?
			)
			ORDER BY created_at ASC, seq ASC
		`
		args = []any{conversationID, limit}
	} else {
		query = `
			SELECT id, conversation_id, role, content, created_at
			FROM messages
			WHERE conversation_id = ?
			ORDER BY created_at ASC, rowid ASC
		`
		args = []any{conversationID}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var msg Message
		var createdAt string
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		if msg.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing message created_at: %w", err)
		}
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}
	return messages, nil
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var c Conversation
	var preview, lastAt sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&c.ID, &c.Title, &c.Pinned, &preview, &lastAt, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scanning conversation: %w", err)
	}

	c.LastMessagePreview = preview.String
	if lastAt.Valid {
		t, err := parseTime(lastAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing conversation last_message_at: %w", err)
		}
		c.LastMessageAt = &t
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing conversation created_at: %w", err)
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing conversation updated_at: %w", err)
	}
	return &c, nil
}
