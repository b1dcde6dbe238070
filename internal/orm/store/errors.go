package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	bolt "go.etcd.io/bbolt"

	ormerrors "github.com/conduit-lang/docengine/internal/orm/errors"
)

var errClosed = errors.New("store is closed")

// ConvertStoreError converts driver errors to engine errors: unique
// violations become StoreConflictError, connectivity failures become
// StoreUnavailableError and missing rows become ErrNotFound.
func ConvertStoreError(op, coll string, err error) error {
	if err == nil {
		return nil
	}

	var conflict *ormerrors.StoreConflictError
	var unavailable *ormerrors.StoreUnavailableError
	if errors.As(err, &conflict) || errors.As(err, &unavailable) {
		return err
	}

	if errors.Is(err, sql.ErrNoRows) {
		return ormerrors.ErrNotFound
	}

	// SQLite constraint errors
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch {
		case sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique,
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey:
			return &ormerrors.StoreConflictError{Collection: coll, Err: err}
		case sqliteErr.Code == sqlite3.ErrCantOpen,
			sqliteErr.Code == sqlite3.ErrIoErr,
			sqliteErr.Code == sqlite3.ErrBusy:
			return &ormerrors.StoreUnavailableError{Op: op, Err: err}
		}
	}

	// PostgreSQL errors (pgx)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == "23505" { // unique_violation
			return &ormerrors.StoreConflictError{Collection: coll, Index: pgErr.ConstraintName, Err: err}
		}
		return fmt.Errorf("%s %s: %w", op, coll, err)
	}

	var connectErr *pgconn.ConnectError
	var netErr net.Error
	switch {
	case errors.As(err, &connectErr),
		errors.As(err, &netErr),
		errors.Is(err, driver.ErrBadConn),
		errors.Is(err, sql.ErrConnDone),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, bolt.ErrDatabaseNotOpen),
		errors.Is(err, bolt.ErrTimeout),
		errors.Is(err, errClosed):
		return &ormerrors.StoreUnavailableError{Op: op, Err: err}
	}

	return fmt.Errorf("%s %s: %w", op, coll, err)
}
