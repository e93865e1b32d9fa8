package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/suteetoe/payroll/pkg/apperror"
	"gorm.io/gorm"
)

// Classify maps store errors onto the apperror taxonomy. what names the
// entity for not-found and conflict messages.
func Classify(err error, what string) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%w: %s", apperror.ErrNotFound, what)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %s already exists", apperror.ErrConflict, what)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %s: %w", apperror.ErrDependency, what, err)
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return fmt.Errorf("%w: %s: %w", apperror.ErrDependency, what, err)
	}

	switch pgErr.Code {
	case pgerrcode.UniqueViolation:
		return fmt.Errorf("%w: %s already exists", apperror.ErrConflict, what)
	case pgerrcode.ForeignKeyViolation:
		return fmt.Errorf("%w: %s references a missing row", apperror.ErrNotFound, what)
	case pgerrcode.CheckViolation, pgerrcode.NotNullViolation:
		return fmt.Errorf("%w: %s: %s", apperror.ErrValidation, what, pgErr.ConstraintName)
	case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected, pgerrcode.LockNotAvailable:
		return fmt.Errorf("%w: %s: transaction conflict (retryable): %w", apperror.ErrDependency, what, err)
	default:
		return fmt.Errorf("%w: %s: postgres error [%s]: %w", apperror.ErrDependency, what, pgErr.Code, err)
	}
}
