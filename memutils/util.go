package memutils

import (
	"math/bits"

	"github.com/cockroachdb/errors"
	"golang.org/x/exp/constraints"
)

// CheckPow2 returns PowerOfTwoError, annotated with the provided name, if number is not
// a positive power of two
func CheckPow2[T constraints.Integer](number T, name string) error {
	if number <= 0 || number&(number-1) != 0 {
		return errors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

// AlignUp rounds value up to the next multiple of alignment, which must be a power of two
func AlignUp[T constraints.Integer](value T, alignment uint) T {
	mask := T(alignment) - 1
	return (value + mask) &^ mask
}

// AlignDown rounds value down to the previous multiple of alignment, which must be a power of two
func AlignDown[T constraints.Integer](value T, alignment uint) T {
	return value &^ (T(alignment) - 1)
}

// IsAligned reports whether value is a multiple of alignment
func IsAligned[T constraints.Integer](value T, alignment uint) bool {
	return value&(T(alignment)-1) == 0
}

// NextPow2 returns the smallest power of two greater than or equal to value. Values below 1
// return 1.
func NextPow2(value int) uint {
	if value <= 1 {
		return 1
	}

	return uint(1) << bits.Len(uint(value-1))
}
