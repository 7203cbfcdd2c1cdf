package models

import (
	"time"
)

// SigningKey is one version of the symmetric key used to sign scan tokens for a
// (gym, purpose). Versions are strictly increasing and never reused.
type SigningKey struct {
	// ID is a random identifier, independent of the version.
	ID      string  `gorm:"type:varchar(36);primaryKey"`
	GymID   string  `gorm:"type:varchar(64);not null;uniqueIndex:uq_signing_key_version,priority:1"`
	Purpose Purpose `gorm:"type:varchar(16);not null;uniqueIndex:uq_signing_key_version,priority:2"`
	Version int     `gorm:"not null;uniqueIndex:uq_signing_key_version,priority:3"`
	// SealedSecret is the AES-GCM sealed key material. It never leaves the key store.
	SealedSecret []byte `gorm:"not null" json:"-"`
	CreatedAt    time.Time
	RevokedAt    *time.Time
}

// TableName returns the table name for SigningKey
func (SigningKey) TableName() string {
	return "qr_signing_keys"
}

// IsRevoked reports whether the key has been superseded or revoked.
func (k *SigningKey) IsRevoked() bool {
	return k.RevokedAt != nil
}

// Age returns how long ago the key was created.
func (k *SigningKey) Age(now time.Time) time.Duration {
	return now.Sub(k.CreatedAt)
}

// StaticQrConfig points a (gym, purpose) at its current key version. A revoked
// config disables issuance entirely.
type StaticQrConfig struct {
	ID                string  `gorm:"type:varchar(36);primaryKey"`
	GymID             string  `gorm:"type:varchar(64);not null;uniqueIndex:uq_static_qr_config,priority:1;index"`
	Purpose           Purpose `gorm:"type:varchar(16);not null;uniqueIndex:uq_static_qr_config,priority:2"`
	CurrentKeyVersion int     `gorm:"not null"`
	RevokedAt         *time.Time
	LastGeneratedAt   *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// TableName returns the table name for StaticQrConfig
func (StaticQrConfig) TableName() string {
	return "qr_static_configs"
}

// IsRevoked reports whether issuance is disabled.
func (c *StaticQrConfig) IsRevoked() bool {
	return c.RevokedAt != nil
}
