package database

import (
	"fmt"
	"path/filepath"

	"tagr/internal/config"
)

// CatalogFileName is the name of the catalog database file inside the
// configured data directory.
const CatalogFileName = "catalog.db"

// NewCatalogFromConfig creates a catalog based on the database config type.
func NewCatalogFromConfig(cfg config.DatabaseConfig) (*SQLiteCatalog, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		return NewSQLiteCatalog(filepath.Join(cfg.DataDir, CatalogFileName))
	case "memory":
		return NewSQLiteCatalog(":memory:")
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
