// ABOUTME: Package events fans relay events out to in-process listeners
// ABOUTME: The CLI and tests subscribe here instead of wiring an Emitter by hand

// Package events provides an in-memory broadcaster for chat:chunk and
// conversation:title events.
package events
