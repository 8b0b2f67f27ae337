// ABOUTME: Tests for the AES-256-GCM cipher
// ABOUTME: Covers round-trips, nonce freshness, tamper detection, and legacy zero padding

package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() MasterKey {
	var key MasterKey
	for i := range key {
		key[i] = byte(i*7 + 3)
	}
	return key
}

func newTestCipher(t *testing.T) *Cipher {
	t.Helper()
	c, err := NewCipher(testKey())
	require.NoError(t, err)
	return c
}

func TestCipher_RoundTrip(t *testing.T) {
	c := newTestCipher(t)

	inputs := []string{
		"",
		"sk-test-secret",
		"héllo wörld",
		"你好，世界",
		"emoji 🔐🗝️",
		strings.Repeat("long value ", 500),
		"line\nbreaks\tand\ttabs",
	}

	for _, in := range inputs {
		token, err := c.Encrypt(in)
		require.NoError(t, err)

		out, err := c.Decrypt(token)
		require.NoError(t, err)
		assert.Equal(t, in, out)
	}
}

func TestCipher_EncryptIsNonDeterministic(t *testing.T) {
	c := newTestCipher(t)

	first, err := c.Encrypt("same plaintext")
	require.NoError(t, err)
	second, err := c.Encrypt("same plaintext")
	require.NoError(t, err)

	assert.NotEqual(t, first, second, "two encryptions must use different nonces")
}

func TestCipher_TokenLayout(t *testing.T) {
	c := newTestCipher(t)

	token, err := c.Encrypt("abc")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(token)
	require.NoError(t, err)
	// nonce + plaintext + 16-byte tag
	assert.Len(t, raw, NonceSize+3+16)
}

func TestCipher_FlippedBitFails(t *testing.T) {
	c := newTestCipher(t)

	token, err := c.Encrypt("do not tamper")
	require.NoError(t, err)
	raw, err := base64.StdEncoding.DecodeString(token)
	require.NoError(t, err)

	// Every byte after the nonce is ciphertext or tag.
	for i := NonceSize; i < len(raw); i++ {
		for bit := 0; bit < 8; bit++ {
			tampered := append([]byte(nil), raw...)
			tampered[i] ^= 1 << bit

			out, err := c.Decrypt(base64.StdEncoding.EncodeToString(tampered))
			require.ErrorIs(t, err, ErrEncryption, "byte %d bit %d", i, bit)
			assert.Empty(t, out)
		}
	}
}

func TestCipher_FlippedNonceFails(t *testing.T) {
	c := newTestCipher(t)

	token, err := c.Encrypt("nonce is authenticated too")
	require.NoError(t, err)
	raw, err := base64.StdEncoding.DecodeString(token)
	require.NoError(t, err)

	raw[0] ^= 0x80
	_, err = c.Decrypt(base64.StdEncoding.EncodeToString(raw))
	assert.ErrorIs(t, err, ErrEncryption)
}

func TestCipher_MalformedTokens(t *testing.T) {
	c := newTestCipher(t)

	tests := []struct {
		name  string
		token string
	}{
		{"not base64", "!!!not-base64!!!"},
		{"empty", ""},
		{"nonce only", base64.StdEncoding.EncodeToString(make([]byte, NonceSize))},
		{"short", base64.StdEncoding.EncodeToString([]byte("tiny"))},
		{"garbage", base64.StdEncoding.EncodeToString([]byte(strings.Repeat("x", 64)))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := c.Decrypt(tt.token)
			assert.ErrorIs(t, err, ErrEncryption)
			assert.Empty(t, out)
		})
	}
}

func TestCipher_WrongKeyFails(t *testing.T) {
	c := newTestCipher(t)
	token, err := c.Encrypt("secret")
	require.NoError(t, err)

	var other MasterKey
	other[0] = 1
	c2, err := NewCipher(other)
	require.NoError(t, err)

	_, err = c2.Decrypt(token)
	assert.ErrorIs(t, err, ErrEncryption)
}

func TestCipher_StripsLegacyZeroPadding(t *testing.T) {
	key := testKey()
	block, err := aes.NewCipher(key[:])
	require.NoError(t, err)
	aead, err := cipher.NewGCM(block)
	require.NoError(t, err)

	// Older writers sealed the plaintext with trailing zero bytes.
	nonce := make([]byte, NonceSize)
	nonce[3] = 9
	padded := append([]byte("sk-legacy"), 0, 0, 0, 0)
	sealed := aead.Seal(append([]byte(nil), nonce...), nonce, padded, nil)

	c := newTestCipher(t)
	out, err := c.Decrypt(base64.StdEncoding.EncodeToString(sealed))
	require.NoError(t, err)
	assert.Equal(t, "sk-legacy", out)
}

func TestCipher_RejectsInvalidUTF8(t *testing.T) {
	key := testKey()
	block, err := aes.NewCipher(key[:])
	require.NoError(t, err)
	aead, err := cipher.NewGCM(block)
	require.NoError(t, err)

	nonce := make([]byte, NonceSize)
	sealed := aead.Seal(append([]byte(nil), nonce...), nonce, []byte{0xff, 0xfe, 'a'}, nil)

	c := newTestCipher(t)
	_, err = c.Decrypt(base64.StdEncoding.EncodeToString(sealed))
	assert.ErrorIs(t, err, ErrEncryption)
}
