// Package repository defines the persistence contracts of the domain.
// Implementations return errors.ErrNotFound, errors.ErrDuplicate and
// errors.ErrStaleVersion so callers can branch with errors.Is.
package repository

import (
	"context"
	"time"

	"github.com/turtacn/qrgate/internal/domain/models"
)

// QRKeyRepository persists signing keys and the static QR configs pointing at them.
// Implementation: internal/infrastructure/persistence/postgres/qr_key_repository.go
type QRKeyRepository interface {
	// FindConfig returns the config for (gymID, purpose) or ErrNotFound.
	FindConfig(ctx context.Context, gymID string, purpose models.Purpose) (*models.StaticQrConfig, error)

	// FindKey returns one key version or ErrNotFound.
	FindKey(ctx context.Context, gymID string, purpose models.Purpose, version int) (*models.SigningKey, error)

	// CreateInitial inserts a config and its first key in one transaction.
	// A concurrent creator makes this return ErrDuplicate.
	CreateInitial(ctx context.Context, cfg *models.StaticQrConfig, key *models.SigningKey) error

	// AdvanceVersion moves the config from fromVersion to newKey.Version, inserts
	// newKey, revokes the fromVersion key and clears config revocation, all in one
	// transaction. It returns ErrStaleVersion when the config no longer points at
	// fromVersion.
	AdvanceVersion(ctx context.Context, gymID string, purpose models.Purpose, fromVersion int, newKey *models.SigningKey) error

	// RevokeConfig disables issuance for (gymID, purpose).
	RevokeConfig(ctx context.Context, gymID string, purpose models.Purpose, at time.Time) error

	// MarkGenerated records when printable assets were last produced.
	MarkGenerated(ctx context.Context, gymID string, purpose models.Purpose, at time.Time) error

	// ListActiveConfigs returns non-revoked configs, for one gym or the fleet when gymID is empty.
	ListActiveConfigs(ctx context.Context, gymID string) ([]*models.StaticQrConfig, error)
}
