package service

import (
	"errors"

	"github.com/rl1809/marketplace/internal/port"
)

var (
	// ErrForbidden means the caller is not allowed to perform the
	// operation: buying their own item, or rating a transaction they are
	// not the buyer of.
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidState means the item was not Available at the moment of
	// the atomic write.
	ErrInvalidState = errors.New("item not available")

	// ErrValidation means the input itself is malformed: a score outside
	// [1,5], a negative price, a missing required field.
	ErrValidation = errors.New("validation failed")
)

// resultLabel maps a workflow outcome onto a low-cardinality metric label.
func resultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, port.ErrNotFound):
		return "not_found"
	case errors.Is(err, port.ErrConflict):
		return "conflict"
	case errors.Is(err, port.ErrUnavailable):
		return "unavailable"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrValidation):
		return "validation"
	}
	return "error"
}
