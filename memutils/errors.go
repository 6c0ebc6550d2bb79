package memutils

import "github.com/cockroachdb/errors"

// PowerOfTwoError is the error returned from CheckPow2 when the value being tested is not a
// positive power of two
var PowerOfTwoError = errors.New("number must be a positive power of two")
