package models

import (
	"strings"
	"time"
)

// GymStatus is the operating state of a gym.
type GymStatus string

const (
	GymStatusActive    GymStatus = "ACTIVE"
	GymStatusSuspended GymStatus = "SUSPENDED"
)

// Gym is owned by the membership side of the platform; this service only reads it.
type Gym struct {
	ID        string    `gorm:"type:varchar(64);primaryKey" json:"id"`
	Name      string    `gorm:"type:varchar(255);not null" json:"name"`
	OwnerID   string    `gorm:"type:varchar(64);not null;index" json:"ownerId"`
	Status    GymStatus `gorm:"type:varchar(16);not null;default:ACTIVE" json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName returns the table name for Gym
func (Gym) TableName() string {
	return "gyms"
}

// IsSuspended reports whether scans must be refused.
func (g *Gym) IsSuspended() bool {
	return g.Status == GymStatusSuspended
}

// GymIDSeparator delimits signed token fields and cannot appear in a gym id.
const GymIDSeparator = "|"

// ValidGymID reports whether id can be embedded in a signed token.
func ValidGymID(id string) bool {
	return id != "" && !strings.Contains(id, GymIDSeparator)
}
