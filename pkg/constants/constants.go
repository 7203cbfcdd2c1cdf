// Package constants defines system-wide constants for the qrgate service.
// This package provides type-safe constant definitions used across all modules.
package constants

import "time"

// ================================================================================
// Log Level Constants
// ================================================================================

// LogLevel represents the severity of a log entry
type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
	LogLevelFatal
)

// ================================================================================
// Context Keys
// ================================================================================

// ContextKey is the type used for values stored in a context.Context
type ContextKey string

const (
	// ContextKeyRequestID carries the per-request correlation id
	ContextKeyRequestID ContextKey = "request_id"

	// ContextKeyTraceID carries the trace id when tracing is enabled
	ContextKeyTraceID ContextKey = "trace_id"

	// ContextKeyActorID carries the authenticated actor id
	ContextKeyActorID ContextKey = "actor_id"

	// ContextKeyGymID carries the gym id of the current operation
	ContextKeyGymID ContextKey = "gym_id"
)

// ================================================================================
// Error Codes
// ================================================================================

// ErrorCode is the machine-readable error code returned to clients
type ErrorCode string

const (
	ErrCodeInvalidRequest     ErrorCode = "invalid_request"
	ErrCodeInvalidPurpose     ErrorCode = "invalid_purpose"
	ErrCodeUnauthorized       ErrorCode = "unauthorized"
	ErrCodeForbidden          ErrorCode = "forbidden"
	ErrCodeNotFound           ErrorCode = "not_found"
	ErrCodeGymSuspended       ErrorCode = "gym_suspended"
	ErrCodeQRRevoked          ErrorCode = "qr_revoked"
	ErrCodeConflict           ErrorCode = "conflict"
	ErrCodeRateLimitExceeded  ErrorCode = "rate_limit_exceeded"
	ErrCodeKeyUnavailable     ErrorCode = "key_unavailable"
	ErrCodeServiceUnavailable ErrorCode = "service_unavailable"
	ErrCodeInternal           ErrorCode = "internal_error"
)

// ================================================================================
// Actor & Role Constants
// ================================================================================

// Role is the authorization role carried in an admin JWT
type Role string

const (
	RoleSuperAdmin Role = "SUPER_ADMIN"
	RoleGymOwner   Role = "GYM_OWNER"
)

const (
	// SystemActorScheduler identifies the periodic rotation sweep
	SystemActorScheduler = "system:rotation-scheduler"

	// SystemActorCron identifies an unattended caller presenting the shared system secret
	SystemActorCron = "system:cron"

	// SystemActorAutoRotate identifies opportunistic rotation on the issuance path
	SystemActorAutoRotate = "system:auto-rotate"

	// SystemActorCLI identifies the qr-admin command line tool
	SystemActorCLI = "system:qr-admin"
)

// ================================================================================
// Audit Constants
// ================================================================================

// AuditCategory groups audit actions
type AuditCategory string

const (
	AuditCategoryQRKey   AuditCategory = "QR_KEY"
	AuditCategoryQRBatch AuditCategory = "QR_BATCH"
)

// AuditAction names a privileged action
type AuditAction string

const (
	AuditActionKeyRotated    AuditAction = "KEY_ROTATED"
	AuditActionQRRevoked     AuditAction = "QR_REVOKED"
	AuditActionSweepFinished AuditAction = "ROTATION_SWEEP"
	AuditActionBatchComplete AuditAction = "BATCH_COMPLETE"
	AuditActionBatchFailed   AuditAction = "BATCH_FAILED"
)

// ================================================================================
// HTTP Header Constants
// ================================================================================

const (
	HeaderRequestID         = "X-Request-ID"
	HeaderSystemSecret      = "X-System-Secret"
	HeaderDeviceFingerprint = "X-Device-Fingerprint"
	HeaderRetryAfter        = "Retry-After"
	HeaderAuthorization     = "Authorization"
)

// MetadataRetryAfterSeconds is the error metadata key carrying a rate-limit
// retry delay in whole seconds
const MetadataRetryAfterSeconds = "retry_after_seconds"

// ================================================================================
// QR Defaults
// ================================================================================

const (
	// DefaultTokenTTL is the validity window of a minted scan token
	DefaultTokenTTL = 30 * time.Second

	// DefaultKeyMaxAge is the age after which a signing key is considered stale
	DefaultKeyMaxAge = 24 * time.Hour

	// DefaultRotationInterval is how often the rotation sweep wakes up
	DefaultRotationInterval = 15 * time.Minute

	// DefaultGymCacheTTL bounds how long a gym lookup is served from memory
	DefaultGymCacheTTL = 30 * time.Second

	// MaxJobErrorLength is the maximum stored length of a failed batch job error
	MaxJobErrorLength = 512

	// MaxTokenLength bounds the encoded token accepted by Decode
	MaxTokenLength = 1024
)
