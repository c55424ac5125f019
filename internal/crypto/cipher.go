// Package crypto implements the authenticated encryption of secret
// payloads: AES-256-GCM under one static process-wide key, with the
// persisted form base64(nonce ‖ ciphertext ‖ tag).
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// KeySize is the required encryption key length in bytes (AES-256).
const KeySize = 32

// nonceSize is the GCM nonce length in bytes (96 bits).
const nonceSize = 12

// ErrDecryption is returned when a ciphertext blob is malformed or fails
// authentication tag verification. Corrupted plaintext is never returned.
var ErrDecryption = errors.New("decryption failed")

// Cipher encrypts and decrypts byte payloads under a single static key.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher builds a Cipher from a 32-byte key.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return &Cipher{aead: gcm}, nil
}

// KeyFromBase64 decodes a base64-encoded key, typically supplied via the
// environment.
func KeyFromBase64(s string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decoding encryption key: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", KeySize, len(key))
	}
	return key, nil
}

// Encrypt seals plaintext under a fresh random 96-bit nonce and returns
// base64(nonce ‖ ciphertext ‖ tag). The nonce is drawn from a
// cryptographically secure source on every call; it is never reused and
// never derived from the plaintext. A nil plaintext is a no-op returning
// the empty blob.
func (c *Cipher) Encrypt(plaintext []byte) (string, error) {
	if plaintext == nil {
		return "", nil
	}
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	sealed := c.aead.Seal(nil, nonce, plaintext, nil)

	blob := make([]byte, len(nonce)+len(sealed))
	copy(blob, nonce)
	copy(blob[len(nonce):], sealed)
	return base64.StdEncoding.EncodeToString(blob), nil
}

// Decrypt reverses Encrypt. It fails with ErrDecryption on bad base64, a
// truncated blob, or an authentication tag mismatch. The empty blob is a
// no-op returning nil.
func (c *Cipher) Decrypt(blob string) ([]byte, error) {
	if blob == "" {
		return nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed base64", ErrDecryption)
	}
	if len(raw) < nonceSize+c.aead.Overhead() {
		return nil, fmt.Errorf("%w: blob too short", ErrDecryption)
	}
	plaintext, err := c.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return nil, ErrDecryption
	}
	return plaintext, nil
}
