// ABOUTME: AES-256-GCM encryption of strings with the resolved master key
// ABOUTME: Tokens are base64(nonce || ciphertext || tag); decryption fails closed

package vault

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// NonceSize is the GCM nonce length in bytes.
const NonceSize = 12

// ErrEncryption is wrapped by every Cipher failure.
var ErrEncryption = errors.New("encryption error")

// Cipher encrypts and decrypts secret strings.
type Cipher struct {
	aead   cipher.AEAD
	random io.Reader
}

// NewCipher creates a Cipher bound to key.
func NewCipher(key MasterKey) (*Cipher, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("%w: creating cipher: %v", ErrEncryption, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: creating GCM: %v", ErrEncryption, err)
	}
	return &Cipher{aead: aead, random: rand.Reader}, nil
}

// Encrypt seals plaintext under a fresh random nonce.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, NonceSize, NonceSize+len(plaintext)+c.aead.Overhead())
	if _, err := io.ReadFull(c.random, nonce); err != nil {
		return "", fmt.Errorf("%w: generating nonce: %v", ErrEncryption, err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a token produced by Encrypt. Trailing zero bytes left by
// older padded encodings are stripped before the UTF-8 check.
func (c *Cipher) Decrypt(token string) (string, error) {
	payload, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return "", fmt.Errorf("%w: decoding token: %v", ErrEncryption, err)
	}
	if len(payload) <= NonceSize {
		return "", fmt.Errorf("%w: payload too small", ErrEncryption)
	}

	nonce, sealed := payload[:NonceSize], payload[NonceSize:]
	plain, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: failed to decrypt payload", ErrEncryption)
	}

	plain = bytes.TrimRight(plain, "\x00")
	if !utf8.Valid(plain) {
		return "", fmt.Errorf("%w: plaintext is not valid UTF-8", ErrEncryption)
	}
	return string(plain), nil
}
