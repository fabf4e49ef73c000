// Package persistence implements the CRM repositories on PostgreSQL via sqlx.
package persistence

import (
	"database/sql"
	"errors"

	"crm_server/core/port/out"

	"github.com/jackc/pgx/v5/pgconn"
)

const pgUniqueViolation = "23505"

// mapError turns driver errors into the repository sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return out.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return errors.Join(out.ErrDuplicate, err)
	}
	return err
}

// notFoundIfNone reports out.ErrNotFound when an UPDATE touched no rows.
func notFoundIfNone(res sql.Result, err error) error {
	if err != nil {
		return mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return out.ErrNotFound
	}
	return nil
}
