package blob

import (
	"context"

	infraS3 "packforge/internal/infra/blob/s3"
)

// S3Config configures an S3-backed Store.
type S3Config = infraS3.Config

// NewS3 constructs an S3-backed Store.
func NewS3(ctx context.Context, cfg S3Config) (Store, error) {
	return infraS3.New(ctx, cfg)
}

// OpenS3FromEnv constructs an S3 store from PACKFORGE_BLOB_S3_* variables.
func OpenS3FromEnv(ctx context.Context) (Store, error) {
	return infraS3.OpenFromEnv(ctx)
}

// NewMockS3 returns an S3 store served by an in-process fake endpoint.
func NewMockS3(bucket string) Store { return infraS3.NewMock(bucket) }
