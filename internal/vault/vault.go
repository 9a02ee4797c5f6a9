// Package vault seals code plaintext at rest with AES-256-GCM.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
)

const (
	// KeySize is the required key length in bytes.
	KeySize = 32

	blobVersion = "v1"
	blobSep     = ":"
	nonceSize   = 12
	tagSize     = 16
)

var (
	// ErrInvalidCiphertext means the blob is not a v1 blob with four segments.
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
	// ErrAuthenticationFailed means the GCM tag did not verify: tampering or a wrong key.
	ErrAuthenticationFailed = errors.New("ciphertext authentication failed")
	// ErrInvalidKey means the configured key does not decode to 32 bytes.
	ErrInvalidKey = errors.New("encryption key must be 32 bytes hex or base64")
)

var hexKeyPattern = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)

// ParseKey decodes a 32-byte key given as 64 hex chars or as base64.
func ParseKey(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrInvalidKey
	}
	var (
		key []byte
		err error
	)
	if hexKeyPattern.MatchString(raw) {
		key, err = hex.DecodeString(raw)
	} else {
		key, err = base64.StdEncoding.DecodeString(raw)
	}
	if err != nil || len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	return key, nil
}

// Vault encrypts and decrypts code plaintext under one key.
type Vault struct {
	aead   cipher.AEAD
	random io.Reader
}

// New builds a Vault for a 32-byte key.
func New(key []byte) (*Vault, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return &Vault{aead: aead, random: rand.Reader}, nil
}

// Encrypt seals plaintext with a fresh nonce and returns v1:nonce:ciphertext:tag,
// each segment base64 encoded.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(v.random, nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}
	sealed := v.aead.Seal(nil, nonce, []byte(plaintext), nil)
	ct, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	return strings.Join([]string{
		blobVersion,
		base64.StdEncoding.EncodeToString(nonce),
		base64.StdEncoding.EncodeToString(ct),
		base64.StdEncoding.EncodeToString(tag),
	}, blobSep), nil
}

// Decrypt opens a blob produced by Encrypt.
func (v *Vault) Decrypt(blob string) (string, error) {
	parts := strings.Split(blob, blobSep)
	if len(parts) != 4 || parts[0] != blobVersion {
		return "", ErrInvalidCiphertext
	}
	nonce, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil || len(nonce) != nonceSize {
		return "", ErrInvalidCiphertext
	}
	ct, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	tag, err := base64.StdEncoding.DecodeString(parts[3])
	if err != nil || len(tag) != tagSize {
		return "", ErrInvalidCiphertext
	}

	plaintext, err := v.aead.Open(nil, nonce, append(ct, tag...), nil)
	if err != nil {
		return "", ErrAuthenticationFailed
	}
	return string(plaintext), nil
}

// Encrypt is a one-shot helper around New and Vault.Encrypt.
func Encrypt(plaintext string, key []byte) (string, error) {
	v, err := New(key)
	if err != nil {
		return "", err
	}
	return v.Encrypt(plaintext)
}

// Decrypt is a one-shot helper around New and Vault.Decrypt.
func Decrypt(blob string, key []byte) (string, error) {
	v, err := New(key)
	if err != nil {
		return "", err
	}
	return v.Decrypt(blob)
}
