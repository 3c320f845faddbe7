package gormstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/skyfield-eats/api/internal/repositories"
)

// storeError classifies gorm failures into the categories services act on.
type storeError struct {
	op          string
	err         error
	notFound    bool
	conflict    bool
	unavailable bool
}

var _ repositories.RepositoryError = (*storeError)(nil)

func (e *storeError) Error() string {
	if e == nil {
		return ""
	}
	if e.err == nil {
		return e.op
	}
	return fmt.Sprintf("%s: %v", e.op, e.err)
}

func (e *storeError) Unwrap() error       { return e.err }
func (e *storeError) IsNotFound() bool    { return e.notFound }
func (e *storeError) IsConflict() bool    { return e.conflict }
func (e *storeError) IsUnavailable() bool { return e.unavailable }

func notFoundError(op string, err error) error {
	return &storeError{op: op, err: err, notFound: true}
}

func conflictError(op string, err error) error {
	return &storeError{op: op, err: err, conflict: true}
}

// wrapError maps driver-level errors onto the repository error taxonomy.
// Unique index violations surface as conflicts so callers can retry with a
// fresh sequence number.
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return notFoundError(op, err)
	case isDuplicateKey(err):
		return conflictError(op, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return &storeError{op: op, err: err, unavailable: true}
	default:
		return &storeError{op: op, err: err, unavailable: true}
	}
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}
