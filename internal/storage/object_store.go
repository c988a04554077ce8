package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	errors "github.com/deploymenttheory/go-model-retrain/internal/common/errors"
)

// ObjectStore is a flat key/value blob store that models are deployed to
type ObjectStore interface {
	PutObject(ctx context.Context, key string, data io.Reader) error

	// GetObject returns ErrFileNotFound when the key does not exist
	GetObject(ctx context.Context, key string) (io.ReadCloser, error)

	// URI is the address of a key for humans and notifications
	URI(key string) string
}

const (
	ProviderLocal = "local"
	ProviderS3    = "s3"
)

// Config selects and configures an object store
type Config struct {
	Provider string

	// local
	LocalDir string

	// s3
	Bucket          string
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// New creates the object store named by cfg.Provider
func New(cfg Config) (ObjectStore, error) {
	switch strings.ToLower(cfg.Provider) {
	case ProviderLocal, "":
		if cfg.LocalDir == "" {
			return nil, fmt.Errorf("%w: storage.local_dir", errors.ErrNotConfigured)
		}
		return NewLocalObjectStore(cfg.LocalDir)
	case ProviderS3:
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("%w: storage.bucket", errors.ErrNotConfigured)
		}
		return NewS3ObjectStore(S3ClientConfig{
			Bucket:          cfg.Bucket,
			Endpoint:        cfg.Endpoint,
			Region:          cfg.Region,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
		})
	default:
		return nil, fmt.Errorf("%w: unknown storage provider %q", errors.ErrConfigInvalid, cfg.Provider)
	}
}
