// ABOUTME: Master key storage backends: platform keyring and local key file
// ABOUTME: Both store the base64 encoding of the raw 32-byte key

package vault

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zalando/go-keyring"
)

// KeySize is the master key length in bytes (AES-256).
const KeySize = 32

// MasterKey is the raw symmetric key every secret is encrypted with.
type MasterKey [KeySize]byte

var (
	// ErrKeyNotFound is returned by a backend that is reachable but holds no key.
	ErrKeyNotFound = errors.New("master key not found")

	// ErrBackendUnavailable is returned by a backend that cannot be used on this
	// machine (unsupported platform, locked or missing secret service).
	ErrBackendUnavailable = errors.New("key backend unavailable")

	// ErrCorruptKey is returned when a stored key exists but does not decode to
	// exactly KeySize bytes.
	ErrCorruptKey = errors.New("stored master key is corrupt")
)

// KeyBackend loads and saves the master key.
type KeyBackend interface {
	// Name identifies the backend in logs and status output.
	Name() string
	// Load returns the stored key, ErrKeyNotFound, ErrBackendUnavailable,
	// or an error wrapping ErrCorruptKey.
	Load() (MasterKey, error)
	// Save stores the key, replacing any existing one.
	Save(key MasterKey) error
}

func encodeKey(key MasterKey) string {
	return base64.StdEncoding.EncodeToString(key[:])
}

func decodeKey(encoded string) (MasterKey, error) {
	var key MasterKey
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return key, fmt.Errorf("%w: %v", ErrCorruptKey, err)
	}
	if len(raw) != KeySize {
		return key, fmt.Errorf("%w: length %d, want %d", ErrCorruptKey, len(raw), KeySize)
	}
	copy(key[:], raw)
	return key, nil
}

// FileBackend keeps the key in a local file as base64 with no header.
type FileBackend struct {
	path string
}

// NewFileBackend returns a backend for the key file at path.
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

// Name implements KeyBackend.
func (f *FileBackend) Name() string { return "file" }

// Path returns the key file location.
func (f *FileBackend) Path() string { return f.path }

// Load implements KeyBackend.
func (f *FileBackend) Load() (MasterKey, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return MasterKey{}, ErrKeyNotFound
	}
	if err != nil {
		return MasterKey{}, fmt.Errorf("reading key file: %w", err)
	}
	return decodeKey(string(data))
}

// Save implements KeyBackend. Parent directories are created as needed.
func (f *FileBackend) Save(key MasterKey) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0700); err != nil {
		return fmt.Errorf("creating key directory: %w", err)
	}
	if err := os.WriteFile(f.path, []byte(encodeKey(key)), 0600); err != nil {
		return fmt.Errorf("writing key file: %w", err)
	}
	return nil
}

// KeyringBackend keeps the key in the operating system's secret store.
type KeyringBackend struct {
	service string
	account string
}

// NewKeyringBackend returns a backend for the given service/account pair.
func NewKeyringBackend(service, account string) *KeyringBackend {
	return &KeyringBackend{service: service, account: account}
}

// Name implements KeyBackend.
func (k *KeyringBackend) Name() string { return "keyring" }

// Load implements KeyBackend. Every access failure is reported as
// ErrBackendUnavailable so the resolver can move on.
func (k *KeyringBackend) Load() (MasterKey, error) {
	secret, err := keyring.Get(k.service, k.account)
	if errors.Is(err, keyring.ErrNotFound) {
		return MasterKey{}, ErrKeyNotFound
	}
	if err != nil {
		return MasterKey{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return decodeKey(secret)
}

// Save implements KeyBackend.
func (k *KeyringBackend) Save(key MasterKey) error {
	if err := keyring.Set(k.service, k.account, encodeKey(key)); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

var (
	_ KeyBackend = (*FileBackend)(nil)
	_ KeyBackend = (*KeyringBackend)(nil)
)
