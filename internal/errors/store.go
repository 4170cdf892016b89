package errors

import (
	"context"
	"errors"
	"regexp"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
)

// reKeyField extracts the column from a unique violation detail: "Key (id)=(value) already exists.".
var reKeyField = regexp.MustCompile(`Key \(([^)]+)\)=`)

// MapStoreError maps registry backend errors to AppError instances.
// It handles:
// - pgx.ErrNoRows, redis.Nil → NotFound
// - Unique constraint violations → Conflict
// - redis.TxFailedErr (a WATCHed key changed) → ConcurrentModification
// - Context timeouts/cancellations → Timeout/Canceled
//
// Errors that are already AppErrors, or are not recognized, are returned unchanged.
func MapStoreError(err error) error {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &AppError{
			Code:    ErrCodeTimeout,
			Message: "registry call timed out",
			Cause:   err,
		}
	}
	if errors.Is(err, context.Canceled) {
		return &AppError{
			Code:    ErrCodeCanceled,
			Message: "registry call was canceled",
			Cause:   err,
		}
	}

	if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, redis.Nil) {
		return &AppError{
			Code:    ErrCodeNotFound,
			Message: "ticket not found",
			Cause:   err,
		}
	}

	if errors.Is(err, redis.TxFailedErr) {
		return &AppError{
			Code:    ErrCodeConcurrentModification,
			Message: "ticket was modified concurrently",
			Cause:   err,
		}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return mapPgError(pgErr)
	}

	return err
}

func mapPgError(pgErr *pgconn.PgError) error {
	switch pgErr.Code {
	case pgerrcode.UniqueViolation:
		field := pgErr.ColumnName
		if field == "" && pgErr.Detail != "" {
			if m := reKeyField.FindStringSubmatch(pgErr.Detail); len(m) == 2 {
				field = m[1]
			}
		}
		return &AppError{
			Code:    ErrCodeConflict,
			Message: "ticket already exists",
			Field:   field,
			Cause:   pgErr,
		}
	case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected:
		return &AppError{
			Code:    ErrCodeConcurrentModification,
			Message: "ticket was modified concurrently",
			Cause:   pgErr,
		}
	default:
		return &AppError{
			Code:    ErrCodeInternal,
			Message: "a registry database error occurred",
			Cause:   pgErr,
		}
	}
}
