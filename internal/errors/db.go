package errors

import (
	"context"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// MapDBError maps database errors to AppError instances.
// It handles the patterns the document store can produce:
// - pgx.ErrNoRows → NotFound
// - Unique violations → Conflict
// - Serialization failures and deadlocks → Conflict
// - Check and NOT NULL violations → Validation
// - Connection failures → Transport
// - Context timeouts/cancellations → Timeout/Canceled
//
// If the error is not a recognized database error, it returns the original error.
func MapDBError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &AppError{Code: ErrCodeTimeout, Message: "document store request timed out", Cause: err}
	}
	if errors.Is(err, context.Canceled) {
		return &AppError{Code: ErrCodeCanceled, Message: "document store request canceled", Cause: err}
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return &AppError{Code: ErrCodeNotFound, Message: "document not found", Cause: err}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return mapPgError(pgErr)
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return &AppError{Code: ErrCodeTransport, Message: "document store unreachable", Cause: err}
	}

	return err
}

func mapPgError(pgErr *pgconn.PgError) error {
	switch pgErr.Code {
	case pgerrcode.UniqueViolation:
		return &AppError{
			Code:    ErrCodeConflict,
			Message: "document already exists",
			Field:   pgErr.ColumnName,
			Cause:   pgErr,
		}
	case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected, pgerrcode.LockNotAvailable:
		return &AppError{Code: ErrCodeConflict, Message: "concurrent document update", Cause: pgErr}
	case pgerrcode.CheckViolation, pgerrcode.NotNullViolation, pgerrcode.InvalidTextRepresentation:
		return &AppError{
			Code:    ErrCodeValidation,
			Message: "document update rejected",
			Field:   pgErr.ColumnName,
			Cause:   pgErr,
		}
	case pgerrcode.AdminShutdown, pgerrcode.CannotConnectNow, pgerrcode.ConnectionFailure:
		return &AppError{Code: ErrCodeTransport, Message: "document store unavailable", Cause: pgErr}
	default:
		return &AppError{Code: ErrCodeInternal, Message: "document store error", Cause: pgErr}
	}
}
