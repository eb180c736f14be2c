package storage

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/rl1809/inventory-ledger/internal/core/domain"
)

const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type dialect struct {
	name string
	// lockSuffix is appended to item reads inside a ledger transaction.
	lockSuffix string
	schema     []string
}

func dialectFor(driverName string) (dialect, error) {
	switch driverName {
	case DriverMySQL:
		return dialect{name: DriverMySQL, lockSuffix: " FOR UPDATE", schema: mysqlSchema}, nil
	case DriverPostgres:
		return dialect{name: DriverPostgres, lockSuffix: " FOR UPDATE", schema: postgresSchema}, nil
	case DriverSQLite:
		// SQLite serializes writers at the database level.
		return dialect{name: DriverSQLite, schema: sqliteSchema}, nil
	default:
		return dialect{}, fmt.Errorf("unsupported database driver %q", driverName)
	}
}

// classify maps driver errors onto the domain taxonomy so the ledger engine
// can decide whether a unit of work may be retried.
func (d dialect) classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) {
		return fmt.Errorf("%w: %w", domain.ErrTransientStorage, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", domain.ErrTransientStorage, err)
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1062:
			return fmt.Errorf("%w: %w", domain.ErrDuplicateKey, err)
		case 1205, 1213:
			return fmt.Errorf("%w: %w", domain.ErrTransientStorage, err)
		}
		return err
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == "23505":
			return fmt.Errorf("%w: %w", domain.ErrDuplicateKey, err)
		case pqErr.Code == "40001", pqErr.Code == "40P01", pqErr.Code == "55P03",
			pqErr.Code.Class() == "08":
			return fmt.Errorf("%w: %w", domain.ErrTransientStorage, err)
		}
		return err
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		switch {
		case code == sqlite3.SQLITE_CONSTRAINT_UNIQUE, code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return fmt.Errorf("%w: %w", domain.ErrDuplicateKey, err)
		case code&0xff == sqlite3.SQLITE_BUSY, code&0xff == sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("%w: %w", domain.ErrTransientStorage, err)
		}
		return err
	}

	return err
}
