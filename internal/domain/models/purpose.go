package models

import "strings"

// Purpose is the function of a static QR code. Each purpose of a gym has
// independent key material.
type Purpose string

const (
	PurposeEntry   Purpose = "ENTRY"
	PurposeExit    Purpose = "EXIT"
	PurposePayment Purpose = "PAYMENT"
)

// AllPurposes lists every purpose in a stable order.
var AllPurposes = []Purpose{PurposeEntry, PurposeExit, PurposePayment}

// ParsePurpose accepts a purpose case-insensitively.
func ParsePurpose(s string) (Purpose, bool) {
	p := Purpose(strings.ToUpper(strings.TrimSpace(s)))
	if p.Valid() {
		return p, true
	}
	return "", false
}

// Valid reports whether p is one of the closed set of purposes.
func (p Purpose) Valid() bool {
	switch p {
	case PurposeEntry, PurposeExit, PurposePayment:
		return true
	}
	return false
}

func (p Purpose) String() string { return string(p) }
