package services

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

var (
	// ErrInvalidUser means the caller passed a user without a resolvable identifier.
	ErrInvalidUser = errors.New("invalid user")
	// ErrStoreUnavailable wraps any read/write failure of the backing stores.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrConcurrentModification means the user's level changed between read and write.
	// The whole call may be retried.
	ErrConcurrentModification = errors.New("concurrent modification")

	ErrNotFound   = errors.New("record not found")
	ErrDuplicate  = errors.New("duplicate record")
	ErrLevelInUse = errors.New("level is assigned to users")
	ErrValidation = errors.New("validation failed")
)

// storeErr classifies a gorm error: not-found and duplicate keys keep their meaning,
// everything else becomes ErrStoreUnavailable.
func storeErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%s: %w", op, ErrDuplicate)
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrDuplicate),
		errors.Is(err, ErrConcurrentModification), errors.Is(err, ErrStoreUnavailable),
		errors.Is(err, ErrValidation), errors.Is(err, ErrLevelInUse):
		return err
	default:
		return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
	}
}

func validationErr(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
