package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned when a query succeeds but matches no rows. Callers
// must be able to tell "the database answered: nothing here" apart from "the
// database did not answer" — only the latter may trigger the snapshot fallback.
var ErrNotFound = errors.New("not found")

// IsUnavailable reports whether err indicates the database could not be
// reached or could not serve the query, as opposed to a definitive answer.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotFound) {
		return false
	}
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, driver.ErrBadConn) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && len(pgErr.Code) >= 2 {
		switch pgErr.Code[:2] {
		// 08 connection exception, 53 insufficient resources,
		// 57 operator intervention, 58 system error
		case "08", "53", "57", "58":
			return true
		}
	}
	return false
}
