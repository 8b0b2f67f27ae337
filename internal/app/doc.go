// ABOUTME: Package app wires aethos together and exposes its command surface
// ABOUTME: Commands take plain inputs and return plain results or *CommandError

// Package app builds the process components in dependency order (master key,
// cipher, store, provider client, broadcaster, relay) and exposes the
// operations a UI or CLI calls.
package app
