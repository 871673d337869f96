// Package blob is the entry point for archive storage. Callers depend on the
// Store interface; concrete backends live under internal/infra/blob.
package blob

import (
	"packforge/internal/blob/core"
)

type (
	// Driver identifies a blob backend driver.
	Driver = core.Driver
	// PutOptions configures a blob write.
	PutOptions = core.PutOptions
	// Info describes stored blob metadata.
	Info = core.Info
	// Store is the interface for blob storage backends.
	Store = core.Store
)

const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory
)

var (
	// ErrUnsupported indicates an operation isn't supported by a driver.
	ErrUnsupported = core.ErrUnsupported
	// ErrExists is returned by Put for an existing key.
	ErrExists = core.ErrExists
	// ErrNotFound is returned for an absent key.
	ErrNotFound = core.ErrNotFound
)
