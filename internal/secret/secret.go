// Package secret decrypts account secrets stored by the administrative
// console. Secrets are AES-256-GCM sealed under a shared master key; the
// plaintext exists only in the brief decrypt-then-use window.
package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/daygle/mail-archiver/internal/credential"
)

// ErrNoKey is returned when neither the configuration nor the OS keyring
// provides a master key.
var ErrNoKey = errors.New("secret: no master key configured")

const keyLen = 32

// Cipher encrypts and decrypts account secrets with a fixed master key.
type Cipher struct {
	aead cipher.AEAD
}

// New builds a Cipher from a base64-encoded 32-byte master key.
func New(encodedKey string) (*Cipher, error) {
	key, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("decoding master key: %w", err)
	}
	if len(key) != keyLen {
		return nil, fmt.Errorf("master key must be %d bytes, got %d", keyLen, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("initialising cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("initialising GCM: %w", err)
	}

	return &Cipher{aead: aead}, nil
}

// Resolve builds a Cipher from the configured key, falling back to the
// OS keyring when the configuration leaves it empty.
func Resolve(configuredKey string) (*Cipher, error) {
	if configuredKey != "" {
		return New(configuredKey)
	}

	key, err := credential.Get(credential.MasterKeyName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoKey, err)
	}
	return New(key)
}

// Encrypt seals plaintext and returns a base64 token (nonce || ciphertext).
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a token produced by Encrypt.
func (c *Cipher) Decrypt(token string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return "", fmt.Errorf("decoding secret token: %w", err)
	}

	ns := c.aead.NonceSize()
	if len(raw) < ns {
		return "", errors.New("secret token too short")
	}

	plaintext, err := c.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", fmt.Errorf("decrypting secret: %w", err)
	}

	return string(plaintext), nil
}
