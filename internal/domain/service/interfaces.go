package service

import (
	"context"
	"io"
	"time"

	"github.com/turtacn/qrgate/internal/domain/models"
)

//go:generate mockery --name KeySealer --output mocks --outpkg mocks
// KeySealer protects signing-key material at rest.
type KeySealer interface {
	// Seal encrypts plaintext under the master key.
	Seal(plaintext []byte) ([]byte, error)

	// Open reverses Seal. It fails if the ciphertext was tampered with.
	Open(sealed []byte) ([]byte, error)
}

// RateLimitDimension defines the logical type of rate limiting.
type RateLimitDimension string

const (
	// RateLimitDimensionIP is the coarse per-client tier that catches scraping.
	RateLimitDimensionIP RateLimitDimension = "ip"
	// RateLimitDimensionGymPurposeIP is the fine tier that catches a single display being hammered.
	RateLimitDimensionGymPurposeIP RateLimitDimension = "gym_purpose_ip"
)

// RateLimitDecision is the outcome of one sliding-window check.
type RateLimitDecision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

//go:generate mockery --name RateLimitService --output mocks --outpkg mocks
// RateLimitService defines the interface for rate limiting operations.
type RateLimitService interface {
	// Allow records one hit for identifier under the dimension's policy and reports
	// whether it fits in the current window. The check and the increment are atomic.
	Allow(ctx context.Context, dimension RateLimitDimension, identifier string) (RateLimitDecision, error)
}

//go:generate mockery --name AuditService --output mocks --outpkg mocks
// AuditService defines the interface for recording privileged actions.
type AuditService interface {
	// LogEvent records an audit entry.
	LogEvent(ctx context.Context, entry *models.AuditEntry) error
}

// DeviceBinder ties an issued token to the scanning device. The returned hash is
// stored on the token record; nil means the token is unbound.
type DeviceBinder interface {
	Bind(ctx context.Context, gymID string, purpose models.Purpose, fingerprint string) (*string, error)
}

// AssetRenderer produces the printable artefacts for a discovery URL.
type AssetRenderer interface {
	PNG(content string) ([]byte, error)
	SVG(content string) ([]byte, error)
	PrintPDF(title, subtitle, content string) ([]byte, error)
}

// AssetArchive bundles the rendered assets of one batch job.
type AssetArchive interface {
	Add(name string, data []byte) error
	Len() int
	Finish() ([]byte, error)
}

// AssetPackager creates batch archives and names them in the asset store.
type AssetPackager interface {
	NewArchive(modTime time.Time) AssetArchive
	ArchiveKey(jobID string) string
}

// AssetStore persists packaged batch archives.
type AssetStore interface {
	Put(ctx context.Context, key string, body io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}
