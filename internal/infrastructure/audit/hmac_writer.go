package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
)

// signatureHeader carries the HMAC of a Kafka audit message value.
const signatureHeader = "x-qrgate-audit-signature"

// SignAuditPayload calculates the base64 HMAC-SHA256 of an encoded audit entry.
func SignAuditPayload(payload []byte, secretKey string) string {
	h := hmac.New(sha256.New, []byte(secretKey))
	h.Write(payload)
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// VerifyAuditPayload reports whether signature matches payload.
func VerifyAuditPayload(payload []byte, signature, secretKey string) bool {
	want, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	h := hmac.New(sha256.New, []byte(secretKey))
	h.Write(payload)
	return hmac.Equal(h.Sum(nil), want)
}
