// Package storage persists packaged batch archives on the local filesystem or in S3.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio"

	"github.com/turtacn/qrgate/internal/domain/service"
	"github.com/turtacn/qrgate/pkg/errors"
	"github.com/turtacn/qrgate/pkg/logger"
)

// FSStore writes objects below a base directory. Writes go to a temp file that
// atomically replaces the target, so readers never see a partial archive.
type FSStore struct {
	basedir string
	logger  logger.Logger
}

var _ service.AssetStore = (*FSStore)(nil)

// NewFSStore creates the base directory if needed.
func NewFSStore(basedir string, log logger.Logger) (*FSStore, error) {
	if err := os.MkdirAll(basedir, 0o755); err != nil {
		return nil, fmt.Errorf("create asset dir %s: %w", basedir, err)
	}
	return &FSStore{basedir: basedir, logger: log.WithComponent("asset-store")}, nil
}

func (f *FSStore) path(key string) (string, error) {
	clean := filepath.Clean("/" + key)
	if clean == "/" || strings.Contains(key, "..") {
		return "", errors.ErrInvalidRequest(fmt.Sprintf("invalid object key %q", key))
	}
	return filepath.Join(f.basedir, clean), nil
}

// Put streams body into key.
func (f *FSStore) Put(ctx context.Context, key string, body io.Reader) error {
	filePath, err := f.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", filePath, err)
	}

	t, err := renameio.TempFile("", filePath)
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", filePath, err)
	}
	defer func() {
		if err := t.Cleanup(); err != nil {
			f.logger.Warn(ctx, "Unable to clean up temp file", logger.String("file", t.Name()), logger.Err(err))
		}
	}()

	if _, err := io.Copy(t, body); err != nil {
		return fmt.Errorf("write %s: %w", filePath, err)
	}
	if err := t.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replace %s: %w", filePath, err)
	}

	f.logger.Info(ctx, "Stored asset", logger.String("key", key))
	return nil
}

// Open returns a reader for key, or errors.ErrNotFound.
func (f *FSStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	filePath, err := f.path(key)
	if err != nil {
		return nil, err
	}
	fp, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", errors.ErrNotFound, key)
		}
		return nil, fmt.Errorf("open %s: %w", filePath, err)
	}
	return fp, nil
}
