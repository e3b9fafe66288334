package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

// OpenLocal opens (creating if needed) the embedded SQLite database used by
// the local store variant. Consumers create their own tables on the handle.
func OpenLocal(path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("db: empty local database path")
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("db: create local dirs: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("db: open sqlite: %w", err)
	}

	// The blob tables are rewritten wholesale per key; a single connection
	// keeps SQLite's writer locking out of the picture.
	sqlDB.SetMaxOpenConns(1)

	return sqlDB, nil
}
