// ABOUTME: Relay orchestrates one chat turn: credential, persistence, stream, events, title
// ABOUTME: Stream records the exchange; Send is a stateless single-shot call

package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/2389/aethos/internal/store"
)

// DefaultFallbackModel is used when neither the request nor the credential
// names a model.
const DefaultFallbackModel = "gpt-4o-mini"

// Title policies.
const (
	// TitlePolicyBestEffort logs title failures and reports them in
	// StreamResult.TitleErr; the turn still succeeds.
	TitlePolicyBestEffort = "best_effort"
	// TitlePolicyStrict returns title failures as a *TitleError.
	TitlePolicyStrict = "strict"
)

// Store is the persistence the relay borrows. *store.SQLiteStore satisfies it.
type Store interface {
	DefaultProviderCredentials(ctx context.Context) (*store.ProviderCredential, error)
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	RenameConversation(ctx context.Context, id, title string) (*store.Conversation, error)
	RecordMessage(ctx context.Context, conversationID, role, content string) (*store.Message, error)
}

// ChatRequest is the input to Stream and Send.
type ChatRequest struct {
	Prompt         string `json:"prompt"`
	Model          string `json:"model,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
	// SystemPrompt, when set, is sent ahead of the user turn.
	SystemPrompt string `json:"systemPrompt,omitempty"`
}

// ChatResponse is the result of Send.
type ChatResponse struct {
	Reply string `json:"reply"`
	Model string `json:"model"`
}

// StreamResult describes a completed streaming turn.
type StreamResult struct {
	ConversationID   string
	Model            string
	Reply            string
	UserMessage      *store.Message
	AssistantMessage *store.Message
	// Title is the new title when auto-titling renamed the conversation.
	Title string
	// TitleErr is a best-effort title failure; the turn itself succeeded.
	TitleErr error
}

// Config holds relay settings.
type Config struct {
	FallbackModel  string
	TitlePolicy    string
	TitleMaxLength int
}

// Relay runs chat turns against the default provider.
type Relay struct {
	store   Store
	client  *Client
	emitter Emitter
	cfg     Config
	logger  *slog.Logger
}

// New creates a relay. A nil logger means slog.Default().
func New(st Store, client *Client, emitter Emitter, cfg Config, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FallbackModel == "" {
		cfg.FallbackModel = DefaultFallbackModel
	}
	if cfg.TitlePolicy == "" {
		cfg.TitlePolicy = TitlePolicyBestEffort
	}
	if cfg.TitleMaxLength <= 0 {
		cfg.TitleMaxLength = DefaultTitleMaxLength
	}
	return &Relay{
		store:   st,
		client:  client,
		emitter: emitter,
		cfg:     cfg,
		logger:  logger.With("component", "relay"),
	}
}

type resolvedCredential struct {
	cred     *store.ProviderCredential
	endpoint string
	model    string
}

// resolve loads the default credential, checks the provider is supported,
// and picks the model: request, then credential default, then fallback.
func (r *Relay) resolve(ctx context.Context, requestModel string) (*resolvedCredential, error) {
	cred, err := r.store.DefaultProviderCredentials(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolving provider credentials: %w", err)
	}
	endpoint, ok := r.client.Endpoint(cred.Provider)
	if !ok {
		return nil, &UnsupportedProviderError{Provider: cred.Provider}
	}

	model := strings.TrimSpace(requestModel)
	if model == "" {
		model = cred.DefaultModel
	}
	if model == "" {
		model = r.cfg.FallbackModel
	}
	return &resolvedCredential{cred: cred, endpoint: endpoint, model: model}, nil
}

func turnMessages(req ChatRequest) []ChatMessage {
	var messages []ChatMessage
	if strings.TrimSpace(req.SystemPrompt) != "" {
		messages = append(messages, ChatMessage{Role: "system", Content: req.SystemPrompt})
	}
	return append(messages, ChatMessage{Role: store.RoleUser, Content: req.Prompt})
}

// Send performs a single-shot completion. Nothing is persisted.
func (r *Relay) Send(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	rc, err := r.resolve(ctx, req.Model)
	if err != nil {
		return nil, err
	}

	reply, err := r.client.Complete(ctx, rc.endpoint, rc.cred.APIKey, rc.model, turnMessages(req))
	if err != nil {
		return nil, err
	}
	r.logger.Debug("completed single-shot chat", "provider", rc.cred.Provider, "model", rc.model, "reply_length", len(reply))
	return &ChatResponse{Reply: reply, Model: rc.model}, nil
}

// Stream runs a streaming turn in the given conversation. The user message
// is persisted before the request opens; each delta is emitted as a
// chat:chunk in parse order; on [DONE] a final done chunk is emitted, the
// reply is persisted, and a conversation still titled "New chat" is
// retitled.
//
// Under the strict title policy a title failure is returned as *TitleError
// together with the (already persisted) result.
func (r *Relay) Stream(ctx context.Context, req ChatRequest) (*StreamResult, error) {
	if strings.TrimSpace(req.ConversationID) == "" {
		return nil, ErrConversationRequired
	}

	logger := r.logger.With("request_id", uuid.NewString(), "conversation_id", req.ConversationID)
	turn := newStream()

	rc, err := r.resolve(ctx, req.Model)
	if err != nil {
		return nil, turn.failed(err)
	}
	if err := turn.credentialResolved(rc.model); err != nil {
		return nil, err
	}
	logger.Info("starting streaming chat", "provider", rc.cred.Provider, "model", rc.model)

	userMsg, err := r.store.RecordMessage(ctx, req.ConversationID, store.RoleUser, req.Prompt)
	if err != nil {
		return nil, turn.failed(fmt.Errorf("recording user message: %w", err))
	}

	body, err := r.client.OpenStream(ctx, rc.endpoint, rc.cred.APIKey, rc.model, turnMessages(req))
	if err != nil {
		logger.Warn("stream failed to open", "error", err)
		return nil, turn.failed(err)
	}
	defer body.Close()
	if err := turn.streamOpened(); err != nil {
		return nil, err
	}

	reply, err := r.pump(ctx, turn, body, req.ConversationID, logger)
	if err != nil {
		logger.Warn("stream failed", "state", turn.state, "error", err)
		return nil, turn.failed(err)
	}

	if err := r.emitter.Emit(ctx, EventChatChunk, ChunkEvent{
		ConversationID: req.ConversationID,
		Done:           true,
		Model:          turn.model,
	}); err != nil {
		logger.Warn("stream failed", "state", turn.state, "error", err)
		return nil, turn.failed(fmt.Errorf("emitting done event: %w", err))
	}

	assistantMsg, err := r.store.RecordMessage(ctx, req.ConversationID, store.RoleAssistant, reply)
	if err != nil {
		logger.Warn("stream failed", "state", turn.state, "error", err)
		return nil, turn.failed(fmt.Errorf("recording assistant message: %w", err))
	}
	if err := turn.persisted(); err != nil {
		return nil, err
	}
	logger.Info("stream completed", "reply_length", len(reply))

	result := &StreamResult{
		ConversationID:   req.ConversationID,
		Model:            turn.model,
		Reply:            reply,
		UserMessage:      userMsg,
		AssistantMessage: assistantMsg,
	}

	title, err := r.maybeRetitle(ctx, rc, req.ConversationID, req.Prompt, reply)
	if err != nil {
		titleErr := &TitleError{ConversationID: req.ConversationID, Err: err}
		if r.cfg.TitlePolicy == TitlePolicyStrict {
			return result, titleErr
		}
		logger.Warn("auto-title failed", "error", err)
		result.TitleErr = titleErr
		return result, nil
	}
	result.Title = title
	return result, nil
}

// pump reads frames until [DONE], emitting one chunk per delta.
func (r *Relay) pump(ctx context.Context, turn *stream, body io.Reader, conversationID string, logger *slog.Logger) (string, error) {
	scanner := NewFrameScanner(body)
	for scanner.Scan() {
		frame, err := ParseFrame(scanner.Bytes())
		if err != nil {
			return "", err
		}

		switch frame.Kind {
		case FrameDelta:
			if err := turn.frameParsed(frame.Delta); err != nil {
				return "", err
			}
			logger.Debug("stream delta", "length", len(frame.Delta))
			if err := r.emitter.Emit(ctx, EventChatChunk, ChunkEvent{
				ConversationID: conversationID,
				Delta:          frame.Delta,
			}); err != nil {
				return "", fmt.Errorf("emitting chunk: %w", err)
			}
		case FrameDone:
			return turn.doneReceived()
		}
	}

	if err := scanner.Err(); err != nil {
		var netErr *NetworkError
		if errors.As(err, &netErr) {
			return "", netErr
		}
		return "", fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return "", ErrStreamIncomplete
}

// maybeRetitle generates and stores a title when the conversation still has
// the default one. It returns the new title, or "" when none was needed.
func (r *Relay) maybeRetitle(ctx context.Context, rc *resolvedCredential, conversationID, prompt, reply string) (string, error) {
	conv, err := r.store.GetConversation(ctx, conversationID)
	if err != nil {
		return "", fmt.Errorf("loading conversation: %w", err)
	}
	if !conv.HasDefaultTitle() {
		return "", nil
	}

	title, err := r.generateTitle(ctx, rc, prompt, reply)
	if err != nil {
		return "", err
	}
	if _, err := r.store.RenameConversation(ctx, conversationID, title); err != nil {
		return "", fmt.Errorf("renaming conversation: %w", err)
	}
	if err := r.emitter.Emit(ctx, EventConversationTitle, TitleEvent{
		ConversationID: conversationID,
		Title:          title,
	}); err != nil {
		return "", fmt.Errorf("emitting title event: %w", err)
	}
	r.logger.Info("conversation retitled", "conversation_id", conversationID)
	return title, nil
}
