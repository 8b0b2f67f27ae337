// ABOUTME: Store data types and errors for aethos persistence
// ABOUTME: Defines settings, provider credentials, conversations, and messages

package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrNoProvider is returned when chat needs a credential and none is stored
var ErrNoProvider = errors.New("no default provider configured")

// ErrAPIKeyRequired is returned when a new provider is added without a key
var ErrAPIKeyRequired = errors.New("api key is required")

// ErrInvalidRole is returned when a message role is not user or assistant
var ErrInvalidRole = errors.New("invalid message role")

// DefaultConversationTitle is the sentinel title auto-titling may overwrite.
const DefaultConversationTitle = "New chat"

// PreviewLength is the number of characters kept in a conversation preview.
const PreviewLength = 200

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Sealer encrypts secret values on their way into the database and
// decrypts them on the way out. vault.Cipher satisfies it.
type Sealer interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(token string) (string, error)
}

// Setting is a key/value pair. Value is always plaintext here; secret
// values are sealed only in the database row.
type Setting struct {
	Key       string
	Value     string
	IsSecret  bool
	UpdatedAt time.Time
}

// ProviderSummary describes a stored provider without its API key.
type ProviderSummary struct {
	ID           int64     `json:"id"`
	Provider     string    `json:"provider"`
	DisplayName  string    `json:"displayName"`
	DefaultModel string    `json:"defaultModel,omitempty"`
	IsDefault    bool      `json:"isDefault"`
	HasAPIKey    bool      `json:"hasApiKey"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// ProviderUpsert is the input to UpsertProvider.
type ProviderUpsert struct {
	Provider     string
	DisplayName  string
	APIKey       string
	DefaultModel string
	MakeDefault  bool
}

// ProviderCredential is a decrypted credential ready for an outbound call.
type ProviderCredential struct {
	Provider     string
	APIKey       string
	DefaultModel string
}

// Conversation is a chat thread with its list-view metadata.
type Conversation struct {
	ID                 string     `json:"id"`
	Title              string     `json:"title"`
	Pinned             bool       `json:"pinned"`
	LastMessagePreview string     `json:"lastMessagePreview,omitempty"`
	LastMessageAt      *time.Time `json:"lastMessageAt,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

// HasDefaultTitle reports whether the title is still the sentinel.
func (c *Conversation) HasDefaultTitle() bool {
	return c.Title == DefaultConversationTitle
}

// LastActivity is the last message time, or the update time when the
// conversation has no messages.
func (c *Conversation) LastActivity() time.Time {
	if c.LastMessageAt != nil {
		return *c.LastMessageAt
	}
	return c.UpdatedAt
}

// Message is a single turn within a conversation.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Preferences are the UI preferences kept in settings. A nil field is unset.
type Preferences struct {
	Language     *string `json:"language,omitempty"`
	Theme        *string `json:"theme,omitempty"`
	SystemPrompt *string `json:"systemPrompt,omitempty"`
}

func validRole(role string) bool {
	return role == RoleUser || role == RoleAssistant
}
