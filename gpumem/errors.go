package gpumem

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/gpumem/native"
)

var (
	// ErrInvalidArgument marks errors caused by arguments the caller can correct. Nothing is
	// allocated when it is returned.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrOutOfMemory marks errors caused by heap or device exhaustion. Allocator state is left
	// unchanged when it is returned.
	ErrOutOfMemory = errors.New("out of memory")
	// ErrResourceInUse is returned when a resource with live views is destroyed
	ErrResourceInUse = errors.New("resource still has live views")
	// ErrHeapInUse is returned when a heap with live regions is destroyed
	ErrHeapInUse = errors.New("heap still has live regions")
)

func invalidArgument(format string, args ...any) error {
	return errors.Wrapf(ErrInvalidArgument, format, args...)
}

func outOfMemory(format string, args ...any) error {
	return errors.Wrapf(ErrOutOfMemory, format, args...)
}

// wrapNative adds context to a native failure. Failures the backend marked as native out of
// memory are also marked ErrOutOfMemory.
func wrapNative(err error, format string, args ...any) error {
	wrapped := errors.Wrapf(err, format, args...)
	if errors.Is(err, native.ErrOutOfMemory) {
		wrapped = errors.Mark(wrapped, ErrOutOfMemory)
	}
	return wrapped
}
