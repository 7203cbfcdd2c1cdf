package service

import (
	"crypto/rand"
	"fmt"
	"time"
)

// KeyMaterialSize is the length of a generated HMAC secret in bytes.
const KeyMaterialSize = 32

// KeyMaterial is an opaque handle to a signing secret. Only the signer reads the
// bytes; every printable or serialisable form is redacted.
type KeyMaterial struct {
	secret []byte
}

// NewKeyMaterial wraps a copy of secret.
func NewKeyMaterial(secret []byte) KeyMaterial {
	return KeyMaterial{secret: append([]byte(nil), secret...)}
}

// GenerateSecret returns fresh random bytes suitable for NewKeyMaterial.
func GenerateSecret() ([]byte, error) {
	b := make([]byte, KeyMaterialSize)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("generate key material: %w", err)
	}
	return b, nil
}

// IsZero reports whether the handle carries no secret.
func (k KeyMaterial) IsZero() bool {
	return len(k.secret) == 0
}

func (k KeyMaterial) String() string { return "KeyMaterial(redacted)" }

func (k KeyMaterial) GoString() string { return k.String() }

// MarshalJSON never emits the secret.
func (k KeyMaterial) MarshalJSON() ([]byte, error) {
	return []byte(`"redacted"`), nil
}

// KeyHandle is what the key store hands to the signer for one request.
type KeyHandle struct {
	Version   int
	CreatedAt time.Time
	Material  KeyMaterial
}
