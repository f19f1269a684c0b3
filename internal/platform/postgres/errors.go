package postgres

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/phrazzld/imagery-api/internal/store"
)

const codeUniqueViolation = "23505"

// violation describes how an integrity-constraint SQLSTATE surfaces to
// callers of the store layer.
type violation struct {
	sentinel error
	label    string
	// byColumn reports the offending column instead of the constraint.
	byColumn bool
}

// integrityViolations holds the class 23 codes the imagery schema raises.
// Anything else passes through MapError untouched.
var integrityViolations = map[string]violation{
	codeUniqueViolation: {sentinel: store.ErrDuplicate},
	"23503":             {sentinel: store.ErrInvalidEntity, label: "foreign key violation"},
	"23514":             {sentinel: store.ErrInvalidEntity, label: "check constraint violation"},
	"23502":             {sentinel: store.ErrInvalidEntity, label: "not null violation", byColumn: true},
}

// MapError translates a driver error into the store sentinel it stands
// for. The driver error stays in the message; unrecognised errors are
// returned unchanged.
func MapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%w: %v", store.ErrNotFound, err)
	}

	pgErr, ok := asPgError(err)
	if !ok {
		return err
	}
	v, ok := integrityViolations[pgErr.Code]
	if !ok {
		return err
	}
	if v.label == "" {
		return fmt.Errorf("%w: %v", v.sentinel, err)
	}

	subject := pgErr.ConstraintName
	if v.byColumn {
		subject = pgErr.ColumnName
	}
	return fmt.Errorf("%w: %s (%s): %v", v.sentinel, v.label, subject, err)
}

// IsUniqueViolation reports whether err carries SQLSTATE 23505.
func IsUniqueViolation(err error) bool {
	pgErr, ok := asPgError(err)
	return ok && pgErr.Code == codeUniqueViolation
}

func asPgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}
