// ABOUTME: Package relay streams chat turns from a provider to the UI
// ABOUTME: and records them in the conversation store

// Package relay runs chat turns against the default provider credential.
//
// Stream parses the provider's server-sent events into chat:chunk events,
// persists the user and assistant messages, and auto-titles conversations
// that still carry the default title. Send is a stateless single-shot call.
package relay
