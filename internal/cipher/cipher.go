// Package cipher encrypts tenant database passwords for storage in the registry.
//
// Ciphertexts use AES-256-GCM with a random 96-bit IV and are encoded as
// "ivHex:authTagHex:cipherHex". The legacy "ivHex:cipherAndTagHex" layout is
// still accepted by Decrypt.
package cipher

import (
	"crypto/aes"
	gocipher "crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/vvka-141/pgtenant/pkg/pgtenant"
)

const (
	KeySize = 32
	IVSize  = 12
	TagSize = 16
)

// Cipher is safe for concurrent use.
type Cipher struct {
	aead gocipher.AEAD
	rand io.Reader
}

// New creates a cipher from a raw 32-byte key.
func New(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d: %w", KeySize, len(key), pgtenant.ErrInvalidConfig)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES block: %w", err)
	}
	aead, err := gocipher.NewGCMWithNonceSize(block, IVSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &Cipher{aead: aead, rand: rand.Reader}, nil
}

// FromConfig builds a cipher from an explicit 64-hex-char key or, when the key
// is empty, from the SHA-256 digest of secret. The explicit key wins.
func FromConfig(hexKey, secret string) (*Cipher, error) {
	if hexKey != "" {
		key, err := hex.DecodeString(strings.TrimSpace(hexKey))
		if err != nil {
			return nil, fmt.Errorf("encryption key is not valid hex: %w", pgtenant.ErrInvalidConfig)
		}
		return New(key)
	}
	if secret == "" {
		return nil, fmt.Errorf("neither encryption key nor secret configured: %w", pgtenant.ErrInvalidConfig)
	}
	sum := sha256.Sum256([]byte(secret))
	return New(sum[:])
}

// Encrypt seals plaintext under a fresh random IV.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(c.rand, iv); err != nil {
		return "", fmt.Errorf("failed to generate IV: %w", err)
	}

	sealed := c.aead.Seal(nil, iv, []byte(plaintext), nil)
	body, tag := sealed[:len(sealed)-TagSize], sealed[len(sealed)-TagSize:]

	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(tag) + ":" + hex.EncodeToString(body), nil
}

// Decrypt opens a value produced by Encrypt or by the legacy two-part format.
// Any malformed input or authentication failure yields ErrDecryption and no plaintext.
func (c *Cipher) Decrypt(encoded string) (string, error) {
	parts := strings.Split(encoded, ":")

	var ivHex, sealedHex string
	switch len(parts) {
	case 3:
		ivHex, sealedHex = parts[0], parts[2]+parts[1]
	case 2:
		ivHex, sealedHex = parts[0], parts[1]
	default:
		return "", fmt.Errorf("expected 2 or 3 colon-separated parts, got %d: %w", len(parts), pgtenant.ErrDecryption)
	}

	iv, err := hex.DecodeString(ivHex)
	if err != nil || len(iv) != IVSize {
		return "", fmt.Errorf("malformed IV: %w", pgtenant.ErrDecryption)
	}
	sealed, err := hex.DecodeString(sealedHex)
	if err != nil || len(sealed) < TagSize {
		return "", fmt.Errorf("malformed ciphertext: %w", pgtenant.ErrDecryption)
	}

	plaintext, err := c.aead.Open(nil, iv, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("authentication failed: %w", pgtenant.ErrDecryption)
	}
	return string(plaintext), nil
}
