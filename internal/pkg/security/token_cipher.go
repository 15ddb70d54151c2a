package security

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	tokenCipherInfo  = "sidebar-notepads-oauth-token-v1"
	ciphertextPrefix = "v1:"
)

var (
	ErrEncryptionKeyRequired = errors.New("encryption key is required")
	ErrInvalidCiphertext     = errors.New("invalid ciphertext")
)

// TokenCipher seals OAuth tokens before they are written to the database.
// Output format: "v1:" + base64url([24-byte nonce][ciphertext + tag]).
type TokenCipher struct {
	aead cipher.AEAD
}

// NewTokenCipher derives a XChaCha20-Poly1305 key from the configured secret.
func NewTokenCipher(secret string) (*TokenCipher, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrEncryptionKeyRequired
	}
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(tokenCipherInfo)), key); err != nil {
		return nil, fmt.Errorf("hkdf read: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	return &TokenCipher{aead: aead}, nil
}

// Encrypt returns "" for an empty token so absent tokens stay absent.
func (c *TokenCipher) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plaintext)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return ciphertextPrefix + base64.RawURLEncoding.EncodeToString(sealed), nil
}

func (c *TokenCipher) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	encoded, ok := strings.CutPrefix(ciphertext, ciphertextPrefix)
	if !ok {
		return "", fmt.Errorf("%w: unknown format", ErrInvalidCiphertext)
	}
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}
	if len(raw) < c.aead.NonceSize()+c.aead.Overhead() {
		return "", fmt.Errorf("%w: too short", ErrInvalidCiphertext)
	}
	nonce, sealed := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}
	return string(plaintext), nil
}
