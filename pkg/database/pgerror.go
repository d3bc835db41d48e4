package database

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// PostgreSQL SQLSTATE codes the repositories react to.
const (
	CodeUniqueViolation     = "23505"
	CodeForeignKeyViolation = "23503"
	CodeCheckViolation      = "23514"
)

// pgCode returns the SQLSTATE and constraint name of a PostgreSQL error, or
// empty strings when err is not one.
func pgCode(err error) (code, constraint string) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, pgErr.ConstraintName
	}
	return "", ""
}

// IsUniqueViolation reports whether err is a unique constraint violation.
func IsUniqueViolation(err error) bool {
	code, _ := pgCode(err)
	return code == CodeUniqueViolation
}

// IsCheckViolation reports whether err is a CHECK constraint violation.
func IsCheckViolation(err error) bool {
	code, _ := pgCode(err)
	return code == CodeCheckViolation
}

// ForeignKeyViolation reports whether err is a foreign key violation and, if
// so, the name of the violated constraint.
func ForeignKeyViolation(err error) (string, bool) {
	code, constraint := pgCode(err)
	if code != CodeForeignKeyViolation {
		return "", false
	}
	return constraint, true
}
