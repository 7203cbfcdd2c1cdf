package storage

import (
	"archive/zip"
	"bytes"
	"fmt"
	"time"

	"github.com/turtacn/qrgate/internal/config"
	"github.com/turtacn/qrgate/internal/domain/service"
	"github.com/turtacn/qrgate/pkg/logger"
)

// ArchiveBuilder accumulates generated assets into an in-memory zip.
type ArchiveBuilder struct {
	buf     bytes.Buffer
	zw      *zip.Writer
	modTime time.Time
	count   int
}

// NewArchiveBuilder starts an empty archive. modTime is stamped on every entry.
func NewArchiveBuilder(modTime time.Time) *ArchiveBuilder {
	a := &ArchiveBuilder{modTime: modTime}
	a.zw = zip.NewWriter(&a.buf)
	return a
}

// Add writes one file.
func (a *ArchiveBuilder) Add(name string, data []byte) error {
	w, err := a.zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: a.modTime,
	})
	if err != nil {
		return fmt.Errorf("add %s to archive: %w", name, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write %s to archive: %w", name, err)
	}
	a.count++
	return nil
}

// Len returns the number of files added.
func (a *ArchiveBuilder) Len() int {
	return a.count
}

// Finish closes the archive and returns its bytes. The builder must not be reused.
func (a *ArchiveBuilder) Finish() ([]byte, error) {
	if err := a.zw.Close(); err != nil {
		return nil, fmt.Errorf("close archive: %w", err)
	}
	return a.buf.Bytes(), nil
}

// NewAssetStore selects the backend named by cfg.Backend.
func NewAssetStore(cfg *config.AssetsConfig, log logger.Logger) (service.AssetStore, error) {
	switch cfg.Backend {
	case "fs":
		return NewFSStore(cfg.Dir, log)
	case "s3":
		sess, err := NewS3Session(cfg)
		if err != nil {
			return nil, err
		}
		return NewS3Store(sess, cfg.Bucket, cfg.Prefix, log), nil
	default:
		return nil, fmt.Errorf("unsupported assets backend %q", cfg.Backend)
	}
}

// ArchiveKey is the object key of a batch job archive.
func ArchiveKey(jobID string) string {
	return "qr-batch-" + jobID + ".zip"
}

// ZipPackager packages batch assets as zip archives.
type ZipPackager struct{}

var _ service.AssetPackager = ZipPackager{}

func (ZipPackager) NewArchive(modTime time.Time) service.AssetArchive {
	return NewArchiveBuilder(modTime)
}

func (ZipPackager) ArchiveKey(jobID string) string {
	return ArchiveKey(jobID)
}
