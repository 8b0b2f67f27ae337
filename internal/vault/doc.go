// Package vault guards secrets at rest.
//
// # Master Key
//
// A single 256-bit master key protects every secret the application stores.
// The Resolver obtains it from a fixed chain of backends, first success wins:
//
//  1. the platform secret store (macOS Keychain, Windows Credential Manager,
//     Secret Service on Linux) via KeyringBackend
//  2. a local key file via FileBackend (base64 of exactly 32 bytes)
//  3. fresh randomness, written back to the first backend that accepts it
//
// A platform store that is missing or refuses access is skipped. A key file
// that exists but does not decode to 32 bytes is ErrCorruptKey and stops
// resolution: generating a new key would orphan every secret encrypted with
// the old one.
//
// # Cipher
//
// Cipher is AES-256-GCM with a random 96-bit nonce per call. Tokens are
//
//	base64(nonce[12] || ciphertext || tag[16])
//
// with no associated data. Decrypt fails closed: every failure wraps
// ErrEncryption and no partial plaintext is ever returned.
//
// The Cipher is immutable after construction and safe for concurrent use.
package vault
