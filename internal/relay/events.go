// ABOUTME: Events the relay emits toward the UI and the Emitter they go through
// ABOUTME: Payload field names are the wire names the UI listens for

package relay

import "context"

// Event names.
const (
	EventChatChunk         = "chat:chunk"
	EventConversationTitle = "conversation:title"
)

// Emitter delivers named events. An Emit error aborts the stream.
type Emitter interface {
	Emit(ctx context.Context, name string, payload any) error
}

// ChunkEvent is one streamed delta, or the final done marker.
type ChunkEvent struct {
	ConversationID string `json:"conversationId"`
	Delta          string `json:"delta"`
	Done           bool   `json:"done"`
	Model          string `json:"model,omitempty"`
}

// TitleEvent announces an auto-generated conversation title.
type TitleEvent struct {
	ConversationID string `json:"conversationId"`
	Title          string `json:"title"`
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ctx context.Context, name string, payload any) error

// Emit implements Emitter.
func (f EmitterFunc) Emit(ctx context.Context, name string, payload any) error {
	return f(ctx, name, payload)
}
