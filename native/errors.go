package native

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// ErrOutOfMemory marks native failures caused by the device running out of memory
var ErrOutOfMemory = errors.New("native device out of memory")

// ErrUnsupported marks native operations the backend cannot perform
var ErrUnsupported = errors.New("native operation unsupported")

// Error is a failure reported by the native API. Code carries the backend's own result code.
type Error struct {
	Op   string
	Code int32
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s failed with native result %d", e.Op, e.Code)
}

// NewError builds a native error, marking it with ErrOutOfMemory when outOfMemory is true so
// callers can test for the condition with errors.Is
func NewError(op string, code int32, outOfMemory bool) error {
	var err error = &Error{Op: op, Code: code}
	if outOfMemory {
		err = errors.Mark(err, ErrOutOfMemory)
	}
	return err
}
