// Package archive persists usage snapshots to a local directory or an
// S3-compatible bucket.
package archive

import (
	"context"
	"fmt"

	"github.com/newthinker/switchboard/internal/config"
	"github.com/newthinker/switchboard/internal/core"
)

// Storage is a flat key/value object store. Read and Delete return an
// error matching core.ErrNotFound when key is absent.
type Storage interface {
	// Write stores data at key, replacing any previous object
	Write(ctx context.Context, key string, data []byte) error

	// Read retrieves the object at key
	Read(ctx context.Context, key string) ([]byte, error)

	// Delete removes the object at key
	Delete(ctx context.Context, key string) error

	// Exists checks if an object exists at key
	Exists(ctx context.Context, key string) (bool, error)
}

// New opens the backend selected by cfg.Type.
func New(cfg config.StorageConfig) (Storage, error) {
	switch cfg.Type {
	case "", "localfs":
		path := cfg.Path
		if path == "" {
			path = "./data"
		}
		return NewLocalFS(path)
	case "s3":
		return NewS3(cfg.S3)
	default:
		return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("unknown storage type %q", cfg.Type))
	}
}

func notFound(key string, cause error) error {
	return core.WrapError(core.ErrNotFound, fmt.Errorf("%s: %w", key, cause))
}
