// Package crypto protects stored datasource connection descriptors.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// EncryptedPrefix marks descriptors sealed by DescriptorCipher.
const EncryptedPrefix = "enc:v1:"

var (
	// ErrInvalidKey is returned when the encryption key is empty.
	ErrInvalidKey = errors.New("invalid encryption key: must not be empty")
	// ErrDecryptionFailed is returned when decryption fails due to invalid ciphertext or wrong key.
	ErrDecryptionFailed = errors.New("decryption failed: invalid ciphertext or wrong key")
)

// DescriptorCipher seals connection descriptors with AES-256-GCM.
// Sealed values carry EncryptedPrefix so plaintext rows written by older
// admin tooling can still be read.
type DescriptorCipher struct {
	gcm cipher.AEAD
}

// NewDescriptorCipher creates a cipher from a key string.
// A base64 value decoding to exactly 32 bytes is used directly; anything
// else is treated as a passphrase and hashed with SHA-256.
func NewDescriptorCipher(keyInput string) (*DescriptorCipher, error) {
	if keyInput == "" {
		return nil, ErrInvalidKey
	}

	var key []byte
	if decoded, err := base64.StdEncoding.DecodeString(keyInput); err == nil && len(decoded) == 32 {
		key = decoded
	} else {
		sum := sha256.Sum256([]byte(keyInput))
		key = sum[:]
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &DescriptorCipher{gcm: gcm}, nil
}

// Seal encrypts a descriptor and returns EncryptedPrefix + base64(nonce || ciphertext || tag).
// Empty descriptors are returned as-is.
func (c *DescriptorCipher) Seal(descriptor string) (string, error) {
	if descriptor == "" {
		return "", nil
	}

	nonce := make([]byte, c.gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := c.gcm.Seal(nonce, nonce, []byte(descriptor), nil)
	return EncryptedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open returns the plaintext descriptor. Values without EncryptedPrefix are
// returned unchanged.
func (c *DescriptorCipher) Open(stored string) (string, error) {
	if !IsSealed(stored) {
		return stored, nil
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, EncryptedPrefix))
	if err != nil {
		return "", fmt.Errorf("%w: base64 decode failed", ErrDecryptionFailed)
	}

	nonceSize := c.gcm.NonceSize()
	if len(data) < nonceSize+c.gcm.Overhead() {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecryptionFailed)
	}

	plaintext, err := c.gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: authentication failed", ErrDecryptionFailed)
	}
	return string(plaintext), nil
}

// IsSealed reports whether a stored value was produced by Seal.
func IsSealed(stored string) bool {
	return strings.HasPrefix(stored, EncryptedPrefix)
}
