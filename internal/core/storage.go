package core

import (
	"context"
	"fmt"
	"os"

	"packforge/internal/infra/persistence/memory"
	"packforge/internal/infra/persistence/postgres"
	"packforge/internal/infra/persistence/sqlite"
	"packforge/pkg/domain"
)

// StorageDriver identifies a SummaryStore backend.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-process only
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// StorageOptions selects and configures a SummaryStore.
type StorageOptions struct {
	Driver      StorageDriver
	SQLitePath  string
	PostgresDSN string
}

// StorageOptionsFromEnv reads the storage environment variables.
//
//	PACKFORGE_STORAGE_DRIVER: memory|sqlite|postgres (default sqlite)
//	PACKFORGE_SQLITE_PATH: path to sqlite file (default ./packforge.db)
//	PACKFORGE_POSTGRES_DSN: postgres DSN when driver=postgres
func StorageOptionsFromEnv() StorageOptions {
	return StorageOptions{
		Driver:      StorageDriver(os.Getenv("PACKFORGE_STORAGE_DRIVER")),
		SQLitePath:  os.Getenv("PACKFORGE_SQLITE_PATH"),
		PostgresDSN: os.Getenv("PACKFORGE_POSTGRES_DSN"),
	}
}

// OpenSummaryStore opens the backend named by opts. An empty driver means
// sqlite.
func OpenSummaryStore(ctx context.Context, opts StorageOptions) (domain.SummaryStore, error) {
	driver := opts.Driver
	if driver == "" {
		driver = StorageSQLite
	}
	switch driver {
	case StorageMemory:
		return memory.NewStore(), nil
	case StorageSQLite:
		return sqlite.NewStore(opts.SQLitePath)
	case StoragePostgres:
		return postgres.NewStore(ctx, opts.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}
