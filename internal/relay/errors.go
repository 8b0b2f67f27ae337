// ABOUTME: Typed errors for the chat relay
// ABOUTME: Sentinels for domain and protocol failures, structs for network and provider failures

package relay

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrConversationRequired is returned by Stream when no conversation id is given.
	ErrConversationRequired = errors.New("conversation id is required for streaming chat")

	// ErrEmptyResponse is returned when a single-shot completion has no content.
	ErrEmptyResponse = errors.New("no response received from provider")

	// ErrStreamIncomplete is returned when the body ends before [DONE].
	ErrStreamIncomplete = errors.New("stream ended without completion")

	// ErrMalformedFrame is wrapped when a data frame is not valid JSON.
	ErrMalformedFrame = errors.New("malformed stream frame")
)

// UnsupportedProviderError is returned when the default provider has no
// configured chat endpoint. No network call is made.
type UnsupportedProviderError struct {
	Provider string
}

func (e *UnsupportedProviderError) Error() string {
	return fmt.Sprintf("unsupported provider `%s`", e.Provider)
}

// NetworkError wraps a transport failure, including timeouts.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ProviderError is a non-success response from the provider. Body holds the
// raw response text; Message the provider's error message when one could be
// extracted.
type ProviderError struct {
	StatusCode int
	Message    string
	Body       string
}

func (e *ProviderError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("provider error: %s", e.Message)
	}
	return fmt.Sprintf("provider error (%d %s): %s", e.StatusCode, http.StatusText(e.StatusCode), e.Message)
}

// TitleError reports a failed auto-title attempt. The assistant reply it
// followed is already persisted.
type TitleError struct {
	ConversationID string
	Err            error
}

func (e *TitleError) Error() string {
	return fmt.Sprintf("generating title for conversation %s: %v", e.ConversationID, e.Err)
}

func (e *TitleError) Unwrap() error { return e.Err }

// TransitionError is an event the stream state machine does not accept in
// its current state.
type TransitionError struct {
	From  State
	Event string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal stream transition: %s in state %s", e.Event, e.From)
}
