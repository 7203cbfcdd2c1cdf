// Package dto holds the request and response shapes of the HTTP and gRPC surfaces.
package dto

import (
	"time"

	"github.com/turtacn/qrgate/internal/domain/models"
)

// IssueTokenRequest 静态二维码令牌签发请求
type IssueTokenRequest struct {
	GymID   string `uri:"gymId" binding:"required,max=64,excludes=0x7C"`
	Purpose string `uri:"purpose" binding:"required"`
	// ClientIP is the caller address after proxy resolution.
	ClientIP string `json:"-"`
	// DeviceFingerprint is the optional X-Device-Fingerprint header.
	DeviceFingerprint string `json:"-"`
}

// IssueTokenResponse 令牌签发响应
type IssueTokenResponse struct {
	OK        bool                 `json:"ok"`
	Payload   *models.TokenPayload `json:"payload"`
	Token     string               `json:"token"`
	DeepLink  string               `json:"deepLink"`
	ExpiresAt time.Time            `json:"expiresAt"`
}

// RotateRequest 密钥轮换请求
type RotateRequest struct {
	GymID   string `json:"gymId" binding:"required,max=64,excludes=0x7C"`
	Purpose string `json:"purpose" binding:"required,qr_purpose"`
	Revoke  bool   `json:"revoke"`
}

// RotateResponse 密钥轮换响应
type RotateResponse struct {
	GymID   string         `json:"gymId"`
	Purpose models.Purpose `json:"purpose"`
	Version int            `json:"version"`
	Revoked bool           `json:"revoked"`
}

// SweepRequest 批量轮换请求；空 gymId 表示全量
type SweepRequest struct {
	GymID string `json:"gymId" binding:"omitempty,max=64,excludes=0x7C"`
	Force bool   `json:"force"`
}

// SweepResponse 批量轮换结果
type SweepResponse struct {
	Rotated int      `json:"rotated"`
	Skipped int      `json:"skipped"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors,omitempty"`
}
