// Package utils provides small helpers shared across the qrgate service.
package utils

import "unicode/utf8"

// Truncate shortens s to at most maxBytes bytes without splitting a UTF-8 rune.
func Truncate(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	if maxBytes <= 0 {
		return ""
	}
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
