//go:build !(linux || darwin)

package transport

import "math"

// RaiseFileLimit is a no-op where RLIMIT_NOFILE is not available and
// reports an unbounded limit.
func RaiseFileLimit(want uint64) (FileLimit, error) {
	return FileLimit{Soft: math.MaxUint64, Hard: math.MaxUint64}, nil
}
