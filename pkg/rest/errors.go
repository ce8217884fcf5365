package rest

import (
	"errors"
	"fmt"

	"github.com/edgeflare/pgrest/pkg/resource"
)

var (
	// ErrNotFound is returned by key-based operations when no row matches the
	// key within the resource scope.
	ErrNotFound = errors.New("not found")
	// ErrInvalidKey is returned when a key does not match the primary key.
	ErrInvalidKey = errors.New("invalid key")
	// ErrUnknownColumn is returned when a write names a column the resource
	// does not declare.
	ErrUnknownColumn = errors.New("unknown column")
)

// ValidationError reports attributes rejected by a Validate hook.
type ValidationError struct {
	// Index is the 0-based position of the failing row in a bulk write, -1
	// for single-row writes.
	Index  int
	Errors resource.ValidationErrors
}

func (e *ValidationError) Error() string {
	if e.Index < 0 {
		return "validation failed: " + e.Errors.Error()
	}
	return fmt.Sprintf("validation failed for row %d: %s", e.Index, e.Errors.Error())
}

// validationError converts a ValidationErrors returned by a hook into a
// *ValidationError. Any other error is returned unchanged.
func validationError(index int, err error) error {
	var verrs resource.ValidationErrors
	if errors.As(err, &verrs) {
		return &ValidationError{Index: index, Errors: verrs}
	}
	return err
}
