package postgres

import (
	stderrors "errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/turtacn/contatto/pkg/errors"
)

// mapPgErr turns driver errors into the module's error taxonomy. Connection
// classes become transport errors so callers treat them as transient.
func mapPgErr(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := errors.As(err); ok {
		return err
	}

	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505":
			return errors.ErrInvalidArgument("record already exists").
				WithCause(err).
				WithMetadata("pg_code", pgErr.Code)
		case len(pgErr.Code) >= 2 && (pgErr.Code[:2] == "08" || pgErr.Code[:2] == "57"):
			return errors.ErrTransport("database unavailable").
				WithCause(err).
				WithMetadata("pg_code", pgErr.Code)
		default:
			return errors.ErrInternal("database error").
				WithCause(err).
				WithMetadata("pg_code", pgErr.Code)
		}
	}

	var connErr *pgconn.ConnectError
	if stderrors.As(err, &connErr) {
		return errors.ErrTransport("database unreachable").WithCause(err)
	}
	return errors.ErrInternal("database error").WithCause(err)
}
