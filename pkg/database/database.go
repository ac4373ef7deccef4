// Package database opens the optional site database described by the
// "database" setting. The handle is shared by every request through the
// "db" context variable.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// DriverSQLite is the only driver name recognised in the database setting.
const DriverSQLite = "sqlite"

var (
	// ErrUnsupportedDriver is returned for a descriptor naming an unknown driver.
	ErrUnsupportedDriver = errors.New("unsupported database driver")
	// ErrMissingFile is returned for an sqlite descriptor without sqlite_file.
	ErrMissingFile = errors.New("sqlite_file is not set")
)

// Descriptor is the connection description found in the settings.
type Descriptor struct {
	Driver     string
	SQLiteFile string
}

// ParseDescriptor reads a descriptor from the database setting. The
// connection may be given directly or under a "default" key:
//
//	database:
//	  default:
//	    driver: sqlite
//	    sqlite_file: writable/database.sqlite
//
// An empty setting yields the zero Descriptor.
func ParseDescriptor(raw map[string]any) (Descriptor, error) {
	if len(raw) == 0 {
		return Descriptor{}, nil
	}
	if def, ok := raw["default"].(map[string]any); ok {
		raw = def
	}

	d := Descriptor{}
	d.Driver, _ = raw["driver"].(string)
	d.SQLiteFile, _ = raw["sqlite_file"].(string)

	switch d.Driver {
	case DriverSQLite:
		if d.SQLiteFile == "" {
			return Descriptor{}, ErrMissingFile
		}
	default:
		return Descriptor{}, fmt.Errorf("%w: %q", ErrUnsupportedDriver, d.Driver)
	}
	return d, nil
}

// Open connects to the database described by raw and checks the connection.
// It returns a nil handle and no error when no database is configured.
func Open(ctx context.Context, logger *slog.Logger, raw map[string]any) (*sql.DB, error) {
	d, err := ParseDescriptor(raw)
	if err != nil {
		return nil, err
	}
	if d.Driver == "" {
		logger.Debug("No database configured")
		return nil, nil
	}

	db, err := sql.Open(sqliteDriver, d.SQLiteFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", d.SQLiteFile, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err = db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", d.SQLiteFile, err)
	}

	logger.Info("Database connected", "driver", sqliteDriver, "file", d.SQLiteFile)
	return db, nil
}
