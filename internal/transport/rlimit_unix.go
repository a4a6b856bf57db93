//go:build linux || darwin

package transport

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// RaiseFileLimit raises the soft open-file limit to want, capped at the
// hard limit.  It never lowers the limit.  The returned FileLimit is
// what is in effect afterwards; Soft < want means the hard limit won.
func RaiseFileLimit(want uint64) (FileLimit, error) {
	var rl unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rl); err != nil {
		return FileLimit{}, fmt.Errorf("getrlimit: %w", err)
	}
	if rl.Cur >= want {
		return FileLimit{Soft: rl.Cur, Hard: rl.Max}, nil
	}

	target := want
	if target > rl.Max {
		target = rl.Max
	}
	if target <= rl.Cur {
		return FileLimit{Soft: rl.Cur, Hard: rl.Max}, nil
	}

	prev := rl.Cur
	rl.Cur = target
	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &rl); err != nil {
		return FileLimit{Soft: prev, Hard: rl.Max}, fmt.Errorf("setrlimit %d: %w", target, err)
	}
	return FileLimit{Soft: target, Hard: rl.Max}, nil
}
