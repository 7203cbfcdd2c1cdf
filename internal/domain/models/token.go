package models

import "time"

// TokenPayload is the signed body of a scan token.
type TokenPayload struct {
	GymID   string  `json:"gymId"`
	Purpose Purpose `json:"purpose"`
	Version int     `json:"version"`
	// Exp is the expiry as Unix seconds.
	Exp   int64  `json:"exp"`
	Nonce string `json:"nonce"`
	Sig   string `json:"sig"`
}

// ExpiresAt returns Exp as a time.
func (p *TokenPayload) ExpiresAt() time.Time {
	return time.Unix(p.Exp, 0).UTC()
}

// IssuedTokenRecord tracks a minted token by its hash for replay detection.
// UsedAt is written by the redemption flow, which lives outside this service.
type IssuedTokenRecord struct {
	TokenHash         string     `gorm:"type:char(64);primaryKey"`
	GymID             string     `gorm:"type:varchar(64);not null;index"`
	Purpose           Purpose    `gorm:"type:varchar(16);not null"`
	KeyVersion        int        `gorm:"not null"`
	Nonce             string     `gorm:"type:varchar(64);not null"`
	ExpiresAt         time.Time  `gorm:"not null;index"`
	UsedAt            *time.Time
	DeviceBindingHash *string `gorm:"type:char(64)"`
	CreatedAt         time.Time
}

// TableName returns the table name for IssuedTokenRecord
func (IssuedTokenRecord) TableName() string {
	return "qr_issued_tokens"
}
