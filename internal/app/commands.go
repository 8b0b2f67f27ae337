// ABOUTME: Collaborator-facing operations over settings, providers, conversations, and chat
// ABOUTME: Every failure is returned as a *CommandError carrying a human-readable message

package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/2389/aethos/internal/relay"
	"github.com/2389/aethos/internal/store"
	"github.com/2389/aethos/internal/vault"
)

// CommandError is the error every operation returns. Message is meant for
// the user; Err keeps the cause for errors.Is/As.
type CommandError struct {
	Command string
	Message string
	Err     error
}

func (e *CommandError) Error() string {
	return e.Message
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

func (a *App) fail(command string, err error) error {
	if err == nil {
		return nil
	}
	a.logger.Debug("command failed", "command", command, "error", err)
	return &CommandError{Command: command, Message: describe(err), Err: err}
}

// describe turns an error into a message for the user.
func describe(err error) string {
	var unsupported *relay.UnsupportedProviderError
	var providerErr *relay.ProviderError
	var networkErr *relay.NetworkError
	var titleErr *relay.TitleError

	switch {
	case errors.As(err, &titleErr):
		return fmt.Sprintf("The reply was saved but the conversation could not be titled: %v", titleErr.Err)
	case errors.Is(err, store.ErrNoProvider):
		return "No default provider configured. Add an API key first."
	case errors.As(err, &unsupported):
		return fmt.Sprintf("Provider %q is not supported for chat.", unsupported.Provider)
	case errors.Is(err, relay.ErrConversationRequired):
		return "A conversation id is required to stream a chat."
	case errors.As(err, &providerErr):
		if providerErr.StatusCode == 0 {
			return fmt.Sprintf("The provider reported an error: %s", providerErr.Message)
		}
		return fmt.Sprintf("The provider returned %d: %s", providerErr.StatusCode, providerErr.Message)
	case errors.As(err, &networkErr):
		return fmt.Sprintf("Could not reach the provider: %v", networkErr.Err)
	case errors.Is(err, relay.ErrStreamIncomplete):
		return "The response stream ended before completion."
	case errors.Is(err, relay.ErrMalformedFrame):
		return "The provider sent a response that could not be parsed."
	case errors.Is(err, relay.ErrEmptyResponse):
		return "The provider returned an empty response."
	case errors.Is(err, vault.ErrEncryption):
		return "A stored secret could not be decrypted. It may have been written with a different master key."
	case errors.Is(err, store.ErrAPIKeyRequired):
		return "An API key is required when adding a provider."
	}
	return err.Error()
}

// SettingValue is the result of GetSetting.
type SettingValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
	Found bool   `json:"found"`
}

// GetSetting returns a setting; secret values come back decrypted.
func (a *App) GetSetting(ctx context.Context, key string) (*SettingValue, error) {
	value, found, err := a.store.GetSetting(ctx, key)
	if err != nil {
		return nil, a.fail("get_setting", err)
	}
	return &SettingValue{Key: key, Value: value, Found: found}, nil
}

// SetSettingInput is the input to SetSetting.
type SetSettingInput struct {
	Key      string `json:"key"`
	Value    string `json:"value"`
	IsSecret bool   `json:"isSecret"`
}

// SetSetting stores a setting, encrypting it when IsSecret is set.
func (a *App) SetSetting(ctx context.Context, in SetSettingInput) error {
	if strings.TrimSpace(in.Key) == "" {
		return a.fail("set_setting", errors.New("setting key is required"))
	}
	return a.fail("set_setting", a.store.SetSetting(ctx, in.Key, in.Value, in.IsSecret))
}

// GetPreferences returns the UI preferences.
func (a *App) GetPreferences(ctx context.Context) (*store.Preferences, error) {
	prefs, err := a.store.GetPreferences(ctx)
	if err != nil {
		return nil, a.fail("get_preferences", err)
	}
	return prefs, nil
}

// SavePreferences updates the non-nil fields and returns the full set.
func (a *App) SavePreferences(ctx context.Context, update store.Preferences) (*store.Preferences, error) {
	prefs, err := a.store.SavePreferences(ctx, update)
	if err != nil {
		return nil, a.fail("save_preferences", err)
	}
	return prefs, nil
}

// ListProviders returns provider summaries without keys.
func (a *App) ListProviders(ctx context.Context) ([]*store.ProviderSummary, error) {
	providers, err := a.store.ListProviders(ctx)
	if err != nil {
		return nil, a.fail("list_providers", err)
	}
	return providers, nil
}

// UpsertProviderInput is the input to UpsertProvider.
type UpsertProviderInput struct {
	Provider     string `json:"provider"`
	DisplayName  string `json:"displayName"`
	APIKey       string `json:"apiKey"`
	DefaultModel string `json:"defaultModel,omitempty"`
	MakeDefault  bool   `json:"makeDefault"`
}

// UpsertProvider adds or updates a provider credential.
func (a *App) UpsertProvider(ctx context.Context, in UpsertProviderInput) (*store.ProviderSummary, error) {
	provider := strings.TrimSpace(in.Provider)
	if provider == "" {
		return nil, a.fail("upsert_provider", errors.New("provider is required"))
	}
	displayName := strings.TrimSpace(in.DisplayName)
	if displayName == "" {
		displayName = provider
	}

	summary, err := a.store.UpsertProvider(ctx, store.ProviderUpsert{
		Provider:     provider,
		DisplayName:  displayName,
		APIKey:       strings.TrimSpace(in.APIKey),
		DefaultModel: strings.TrimSpace(in.DefaultModel),
		MakeDefault:  in.MakeDefault,
	})
	if err != nil {
		return nil, a.fail("upsert_provider", err)
	}
	return summary, nil
}

// SetDefaultProvider makes provider the only default.
func (a *App) SetDefaultProvider(ctx context.Context, provider string) error {
	err := a.store.SetDefaultProvider(ctx, provider)
	if errors.Is(err, store.ErrNotFound) {
		err = fmt.Errorf("provider %q: %w", provider, err)
	}
	return a.fail("set_default_provider", err)
}

// DeleteProvider removes a provider credential.
func (a *App) DeleteProvider(ctx context.Context, provider string) error {
	return a.fail("delete_provider", a.store.DeleteProvider(ctx, provider))
}

// HasAnyProvider reports whether any provider is stored.
func (a *App) HasAnyProvider(ctx context.Context) (bool, error) {
	ok, err := a.store.HasAnyProvider(ctx)
	if err != nil {
		return false, a.fail("has_any_provider", err)
	}
	return ok, nil
}

// CreateConversation creates a conversation; an empty title means "New chat".
func (a *App) CreateConversation(ctx context.Context, title string) (*store.Conversation, error) {
	conv, err := a.store.CreateConversation(ctx, strings.TrimSpace(title))
	if err != nil {
		return nil, a.fail("create_conversation", err)
	}
	return conv, nil
}

// ListConversations returns pinned conversations first, then by last activity.
func (a *App) ListConversations(ctx context.Context) ([]*store.Conversation, error) {
	convs, err := a.store.ListConversations(ctx)
	if err != nil {
		return nil, a.fail("list_conversations", err)
	}
	return convs, nil
}

// RenameConversation sets a conversation's title.
func (a *App) RenameConversation(ctx context.Context, id, title string) (*store.Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, a.fail("rename_conversation", errors.New("title is required"))
	}
	conv, err := a.store.RenameConversation(ctx, id, title)
	if err != nil {
		return nil, a.fail("rename_conversation", err)
	}
	return conv, nil
}

// PinConversation pins or unpins a conversation.
func (a *App) PinConversation(ctx context.Context, id string, pinned bool) (*store.Conversation, error) {
	conv, err := a.store.SetConversationPinned(ctx, id, pinned)
	if err != nil {
		return nil, a.fail("pin_conversation", err)
	}
	return conv, nil
}

// DeleteConversation removes a conversation and its messages.
func (a *App) DeleteConversation(ctx context.Context, id string) error {
	return a.fail("delete_conversation", a.store.DeleteConversation(ctx, id))
}

// GetConversationMessages returns messages oldest first. A positive limit
// keeps only the most recent ones.
func (a *App) GetConversationMessages(ctx context.Context, id string, limit int) ([]*store.Message, error) {
	msgs, err := a.store.ListMessages(ctx, id, limit)
	if err != nil {
		return nil, a.fail("get_conversation_messages", err)
	}
	return msgs, nil
}

// ChatInput is the input to InvokeChat and StreamChat.
type ChatInput struct {
	Prompt         string `json:"prompt"`
	Model          string `json:"model,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
}

func (a *App) chatRequest(ctx context.Context, in ChatInput) (relay.ChatRequest, error) {
	if strings.TrimSpace(in.Prompt) == "" {
		return relay.ChatRequest{}, errors.New("prompt is required")
	}
	prefs, err := a.store.GetPreferences(ctx)
	if err != nil {
		return relay.ChatRequest{}, err
	}
	req := relay.ChatRequest{
		Prompt:         in.Prompt,
		Model:          in.Model,
		ConversationID: in.ConversationID,
	}
	if prefs.SystemPrompt != nil {
		req.SystemPrompt = *prefs.SystemPrompt
	}
	return req, nil
}

// InvokeChat sends a single prompt and returns the reply. Nothing is stored.
func (a *App) InvokeChat(ctx context.Context, in ChatInput) (*relay.ChatResponse, error) {
	req, err := a.chatRequest(ctx, in)
	if err != nil {
		return nil, a.fail("invoke_chat", err)
	}
	resp, err := a.relay.Send(ctx, req)
	if err != nil {
		return nil, a.fail("invoke_chat", err)
	}
	return resp, nil
}

// StreamChatResult is the outcome of StreamChat. Deltas arrive through
// Events() while the call runs.
type StreamChatResult struct {
	ConversationID string `json:"conversationId"`
	Model          string `json:"model"`
	Reply          string `json:"reply"`
	Title          string `json:"title,omitempty"`
	TitleError     string `json:"titleError,omitempty"`
}

// StreamChat runs a streaming turn in an existing conversation.
func (a *App) StreamChat(ctx context.Context, in ChatInput) (*StreamChatResult, error) {
	req, err := a.chatRequest(ctx, in)
	if err != nil {
		return nil, a.fail("stream_chat", err)
	}
	res, err := a.relay.Stream(ctx, req)
	if res == nil {
		return nil, a.fail("stream_chat", err)
	}

	out := &StreamChatResult{
		ConversationID: res.ConversationID,
		Model:          res.Model,
		Reply:          res.Reply,
		Title:          res.Title,
	}
	if res.TitleErr != nil {
		out.TitleError = describe(res.TitleErr)
	}
	if err != nil {
		return out, a.fail("stream_chat", err)
	}
	return out, nil
}
