// Package kms seals signing-key material at rest under a master key that comes
// from Vault or from static configuration.
package kms

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
)

const (
	// MasterKeySize is the AES-256 key length.
	MasterKeySize = 32
	nonceLen      = 12
	tagLen        = 16
)

// AESGCMSealer implements service.KeySealer with AES-256-GCM.
// Output format: nonce(12) || ciphertext+tag
type AESGCMSealer struct {
	aead cipher.AEAD
}

// NewAESGCMSealer builds a sealer from a 32-byte master key.
func NewAESGCMSealer(masterKey []byte) (*AESGCMSealer, error) {
	if len(masterKey) != MasterKeySize {
		return nil, fmt.Errorf("master key must be %d bytes, got %d", MasterKeySize, len(masterKey))
	}
	block, err := aes.NewCipher(masterKey)
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &AESGCMSealer{aead: aead}, nil
}

// Seal encrypts plaintext with a fresh random nonce.
func (s *AESGCMSealer) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, nonceLen, nonceLen+len(plaintext)+tagLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts data produced by Seal.
func (s *AESGCMSealer) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < nonceLen+tagLen {
		return nil, errors.New("sealed secret too short")
	}
	plaintext, err := s.aead.Open(nil, sealed[:nonceLen], sealed[nonceLen:], nil)
	if err != nil {
		return nil, fmt.Errorf("open sealed secret: %w", err)
	}
	return plaintext, nil
}
