package blob

import (
	"context"
	"fmt"
	"os"
)

// Open selects a Store using environment variables.
//
//	PACKFORGE_BLOB_DRIVER: fs|s3|memory (default fs)
//	PACKFORGE_BLOB_FS_ROOT: directory root when driver=fs (default ./blobdata)
//	(S3 variables are documented in internal/infra/blob/s3)
func Open(ctx context.Context) (Store, error) {
	return OpenDriver(ctx, Driver(os.Getenv("PACKFORGE_BLOB_DRIVER")), os.Getenv("PACKFORGE_BLOB_FS_ROOT"))
}

// OpenDriver opens the named driver. An empty driver means fs.
func OpenDriver(ctx context.Context, driver Driver, fsRoot string) (Store, error) {
	if driver == "" {
		driver = DriverFilesystem
	}
	switch driver {
	case DriverFilesystem:
		return NewFilesystem(fsRoot)
	case DriverS3:
		return OpenS3FromEnv(ctx)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %q", driver)
	}
}
