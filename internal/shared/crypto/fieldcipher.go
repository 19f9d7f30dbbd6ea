// Package crypto provides the field-level cipher protecting extracted
// identity data at rest. Values are stored as an iv:authTag:ciphertext
// triple of base64 segments; plaintext only ever exists in memory.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	keyLength   = 32 // AES-256
	nonceLength = 12
	tagLength   = 16
)

var (
	// ErrKeyLength indicates the configured key is not 32 bytes.
	ErrKeyLength = errors.New("crypto: key must be 32 bytes")
	// ErrMalformedCiphertext indicates stored data that does not match the
	// iv:authTag:ciphertext format.
	ErrMalformedCiphertext = errors.New("crypto: malformed ciphertext")
)

// FieldCipher encrypts and decrypts individual string fields with
// AES-256-GCM.
type FieldCipher struct {
	aead cipher.AEAD
}

// NewFieldCipher builds a FieldCipher from a raw 32-byte key.
func NewFieldCipher(key []byte) (*FieldCipher, error) {
	if len(key) != keyLength {
		return nil, ErrKeyLength
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: new gcm: %w", err)
	}
	return &FieldCipher{aead: aead}, nil
}

// NewFieldCipherFromHex builds a FieldCipher from a 64-character hex key,
// the form the key takes in configuration.
func NewFieldCipherFromHex(hexKey string) (*FieldCipher, error) {
	key, err := hex.DecodeString(strings.TrimSpace(hexKey))
	if err != nil {
		return nil, fmt.Errorf("crypto: decode hex key: %w", err)
	}
	return NewFieldCipher(key)
}

// Encrypt seals plaintext under a fresh random nonce and returns the
// iv:authTag:ciphertext triple.
func (f *FieldCipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, nonceLength)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("crypto: read nonce: %w", err)
	}

	sealed := f.aead.Seal(nil, nonce, []byte(plaintext), nil)
	// Seal appends the auth tag to the ciphertext; split them so the stored
	// format keeps the tag as its own segment.
	ct := sealed[:len(sealed)-tagLength]
	tag := sealed[len(sealed)-tagLength:]

	enc := base64.StdEncoding
	return enc.EncodeToString(nonce) + ":" + enc.EncodeToString(tag) + ":" + enc.EncodeToString(ct), nil
}

// Decrypt opens an iv:authTag:ciphertext triple. Malformed input and
// tampered data both fail loudly; corrupted plaintext is never returned.
func (f *FieldCipher) Decrypt(encoded string) (string, error) {
	parts := strings.Split(encoded, ":")
	if len(parts) != 3 {
		return "", ErrMalformedCiphertext
	}

	enc := base64.StdEncoding
	nonce, err := enc.DecodeString(parts[0])
	if err != nil || len(nonce) != nonceLength {
		return "", ErrMalformedCiphertext
	}
	tag, err := enc.DecodeString(parts[1])
	if err != nil || len(tag) != tagLength {
		return "", ErrMalformedCiphertext
	}
	ct, err := enc.DecodeString(parts[2])
	if err != nil {
		return "", ErrMalformedCiphertext
	}

	plaintext, err := f.aead.Open(nil, nonce, append(ct, tag...), nil)
	if err != nil {
		return "", fmt.Errorf("crypto: open: %w", err)
	}
	return string(plaintext), nil
}
