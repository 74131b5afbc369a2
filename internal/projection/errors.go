// internal/projection/errors.go
package projection

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrDuplicate       = errors.New("already exists")
	ErrVersionConflict = errors.New("version conflict")
)

// ValidationError reports a missing required payload field. Validation
// runs before any store access, so a rejected event never leaves a trace.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("missing required field %q", e.Field)
}

// OutOfOrderError rejects an update whose version is not the expected
// next one. Both stale replays and events that ran ahead of a
// prerequisite map here; the caller decides whether to buffer, retry, or
// dead-letter.
type OutOfOrderError struct {
	Kind     string
	Expected int
	Received int
}

func (e *OutOfOrderError) Error() string {
	return fmt.Sprintf("out of order %s event: expected version %d, received %d",
		e.Kind, e.Expected, e.Received)
}
