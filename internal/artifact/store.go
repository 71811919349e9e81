// Package artifact stores intermediate pipeline outputs, such as the
// extracted Form 990 records, on the local filesystem or in S3.
package artifact

import (
	"context"
	"errors"
	"fmt"

	"github.com/mauv0809/rmef-warehouse/internal/config"
)

var ErrNotFound = errors.New("artifact not found")

type Driver string

const (
	DriverFS Driver = "fs"
	DriverS3 Driver = "s3"
)

// Store writes and reads whole objects by key. Put replaces any existing
// object.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Driver() Driver
}

// Open builds the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.ArtifactConfig) (Store, error) {
	switch Driver(cfg.Driver) {
	case DriverFS, "":
		return NewFS(cfg.Root)
	case DriverS3:
		return NewS3(ctx, S3Options{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			PathStyle:       cfg.S3.PathStyle,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		})
	default:
		return nil, fmt.Errorf("unsupported artifact driver %q", cfg.Driver)
	}
}
