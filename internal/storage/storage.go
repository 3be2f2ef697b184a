package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/yofarm-hub/ussd/config"
)

// ErrObjectExists is returned by Put when the key is already taken.
var ErrObjectExists = errors.New("object already exists")

// ObjectStorage is a write-once object store.
type ObjectStorage interface {
	EnsureBucket(ctx context.Context) error
	// Put creates key. It never overwrites; an existing key is ErrObjectExists.
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	// ExpirePrefix installs a bucket rule deleting objects under prefix
	// once they are days old.
	ExpirePrefix(ctx context.Context, prefix string, days int) error
	Bucket() string
}

// Open connects to the backend named in cfg and ensures its bucket exists.
// It returns nil when no backend is configured.
func Open(ctx context.Context, cfg config.StorageConfig) (ObjectStorage, error) {
	var (
		backend ObjectStorage
		err     error
	)
	switch cfg.Backend {
	case "":
		return nil, nil
	case config.StorageBackendMinio:
		backend, err = NewMinioClient(cfg.Minio)
	case config.StorageBackendGCS:
		backend, err = NewGCSClient(ctx, cfg.GCS)
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Backend, err)
	}
	if err := backend.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure bucket %s: %w", backend.Bucket(), err)
	}
	return backend, nil
}
