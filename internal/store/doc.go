// Package store provides persistent storage for aethos using SQLite.
//
// # Architecture
//
// The store package uses an interface-driven architecture with one interface
// per concern:
//
//   - SettingsStore: key/value settings, optionally encrypted at rest
//   - ProviderStore: provider credentials with exactly one default
//   - ConversationStore: conversations and their ordered messages
//
// SQLiteStore implements all interfaces in a single struct. Preferences are
// a thin layer over settings using fixed keys (ui.language, ui.theme,
// chat.systemPrompt).
//
// # Secrets
//
// The store is constructed with a Sealer (normally vault.Cipher). Provider
// API keys and secret setting values are sealed before they are written and
// opened when read; plaintext never reaches the database.
//
// # Invariants
//
// Provider writes that touch the default flag run in one transaction:
//
//	count rows -> clear all flags (if promoting) -> insert or update one row
//
// so no committed state has two defaults, or zero defaults while rows exist.
// RecordMessage inserts the message and updates the parent's preview and
// activity time in one transaction. Multi-statement write transactions
// serialize on a store-level mutex.
//
// # SQLite Configuration
//
// Pragmas are set through the DSN so they apply to every pooled connection:
//
//	journal_mode=WAL, foreign_keys=ON, busy_timeout, synchronous=NORMAL
//
// The pure Go modernc.org/sqlite driver is the default; the cgo
// mattn/go-sqlite3 driver is available with WithDriver(DriverSQLite3).
// The schema lives in migrations/ and is applied with golang-migrate.
//
// Timestamps are stored as fixed-width UTC text with nanoseconds, so string
// order is time order.
//
// # Error Handling
//
// Common errors:
//
//   - ErrNotFound: entity does not exist
//   - ErrNoProvider: chat needs a credential and none is stored
//   - ErrAPIKeyRequired: a new provider was added without a key
//   - ErrInvalidRole: message role is not user or assistant
package store
