package config

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/Mayorlee0/verify-protocol-mvp/internal/vault"
)

const manufacturerSecretInfo = "verify/manufacturer-secret/v1|"

// ErrUnknownManufacturerSecret no secret can be produced for the manufacturer
var ErrUnknownManufacturerSecret = errors.New("manufacturer secret unavailable")

// SecretProvider resolves per-manufacturer commitment secrets.
// Explicit overrides win; otherwise the secret is derived from the master secret with HKDF-SHA256.
type SecretProvider struct {
	master    []byte
	overrides map[string][]byte
}

// NewSecretProvider builds a provider from the security section.
func NewSecretProvider(sec SecurityConfig) (*SecretProvider, error) {
	if len(sec.ManufacturerMasterSecret) < 32 {
		return nil, errors.New("manufacturer master secret must be at least 32 bytes")
	}
	p := &SecretProvider{
		master:    []byte(sec.ManufacturerMasterSecret),
		overrides: make(map[string][]byte, len(sec.ManufacturerSecrets)),
	}
	for id, secret := range sec.ManufacturerSecrets {
		p.overrides[id] = []byte(secret)
	}
	return p, nil
}

// ManufacturerSecret returns the 32 byte secret for the manufacturer. Stable across restarts.
func (p *SecretProvider) ManufacturerSecret(manufacturerID string) ([]byte, error) {
	if manufacturerID == "" {
		return nil, ErrUnknownManufacturerSecret
	}
	if secret, ok := p.overrides[manufacturerID]; ok {
		return secret, nil
	}
	r := hkdf.New(sha256.New, p.master, nil, []byte(manufacturerSecretInfo+manufacturerID))
	out := make([]byte, 32)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("derive manufacturer secret: %w", err)
	}
	return out, nil
}

// EncryptionKey decoded vault key.
func (c *Config) EncryptionKey() ([]byte, error) {
	return parseEncryptionKey(c.Security.EncryptionKey)
}

func parseEncryptionKey(raw string) ([]byte, error) {
	if raw == "" {
		return nil, errors.New("is required")
	}
	return vault.ParseKey(raw)
}
