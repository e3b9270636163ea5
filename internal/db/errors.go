package db

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// Postgres SQLSTATE codes the store reacts to.
const (
	CodeUniqueViolation      = "23505"
	CodeSerializationFailure = "40001"
	CodeDeadlockDetected     = "40P01"
	CodeLockNotAvailable     = "55P03"
	CodeAdminShutdown        = "57P01"
)

// PgCode returns the SQLSTATE of the first *pgconn.PgError in err's chain,
// or "" when there is none.
func PgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsUniqueViolation reports whether err is a unique constraint violation.
func IsUniqueViolation(err error) bool {
	return PgCode(err) == CodeUniqueViolation
}

// IsRetryable reports whether err is a Postgres error that is safe to retry
// with a fresh transaction.
func IsRetryable(err error) bool {
	switch code := PgCode(err); code {
	case CodeSerializationFailure, CodeDeadlockDetected, CodeLockNotAvailable, CodeAdminShutdown:
		return true
	default:
		// Class 08: connection exceptions.
		return len(code) == 5 && code[:2] == "08"
	}
}
