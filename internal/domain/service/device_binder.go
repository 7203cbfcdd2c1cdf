package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/turtacn/qrgate/internal/domain/models"
	"github.com/turtacn/qrgate/pkg/errors"
)

// maxFingerprintLength bounds the client supplied fingerprint header.
const maxFingerprintLength = 512

// HashingDeviceBinder binds tokens to a device by storing a digest of the
// client fingerprint scoped to the gym and purpose. The raw fingerprint is never stored.
type HashingDeviceBinder struct{}

var _ DeviceBinder = HashingDeviceBinder{}

// Bind returns nil for an empty fingerprint.
func (HashingDeviceBinder) Bind(_ context.Context, gymID string, purpose models.Purpose, fingerprint string) (*string, error) {
	fingerprint = strings.TrimSpace(fingerprint)
	if fingerprint == "" {
		return nil, nil
	}
	if len(fingerprint) > maxFingerprintLength {
		return nil, errors.ErrInvalidRequest("device fingerprint too long")
	}
	sum := sha256.Sum256([]byte(gymID + "|" + string(purpose) + "|" + fingerprint))
	h := hex.EncodeToString(sum[:])
	return &h, nil
}

// NoopDeviceBinder leaves every token unbound.
type NoopDeviceBinder struct{}

func (NoopDeviceBinder) Bind(context.Context, string, models.Purpose, string) (*string, error) {
	return nil, nil
}
