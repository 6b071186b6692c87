package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	"apicore/internal/apierror"
)

// ErrNotFound is returned when a queried item does not exist.
var ErrNotFound = errors.New("item not found")

// classify maps driver errors onto the error taxonomy. Missing rows become
// ErrNotFound, timeouts and connection failures become upstream errors and
// everything else is wrapped with op.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apierror.NewUpstream(apierror.UpstreamTimeout, "database query timed out", fmt.Errorf("%s: %w", op, err))
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.QueryCanceled:
			return apierror.NewUpstream(apierror.UpstreamTimeout, "database query timed out", fmt.Errorf("%s: %w", op, err))
		case pgerrcode.ConnectionException,
			pgerrcode.ConnectionDoesNotExist,
			pgerrcode.ConnectionFailure,
			pgerrcode.SQLClientUnableToEstablishSQLConnection,
			pgerrcode.CannotConnectNow,
			pgerrcode.AdminShutdown,
			pgerrcode.TooManyConnections:
			return apierror.NewUpstream(apierror.UpstreamUnavailable, "database unavailable", fmt.Errorf("%s: %w", op, err))
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.As(err, &netErr) {
		return apierror.NewUpstream(apierror.UpstreamUnavailable, "database unavailable", fmt.Errorf("%s: %w", op, err))
	}

	return fmt.Errorf("%s: %w", op, err)
}
