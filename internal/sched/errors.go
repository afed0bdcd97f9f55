package sched

import (
	"errors"

	"golang.org/x/sys/unix"
)

var (
	// ErrInvalidArgument covers bad weights and entities not under WRR.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotFound means the referenced entity does not exist.
	ErrNotFound = errors.New("no such entity")
	// ErrPermissionDenied means the caller may not act on the target entity.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrInvalidState reports a broken caller contract, such as a duplicate
	// enqueue or the dequeue of a non-member. Hosts should treat it as fatal.
	ErrInvalidState = errors.New("invalid scheduler state")
)

// Errno maps an error from this package to the negative errno returned by
// the syscall-style entry points. A nil error maps to 0.
func Errno(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrPermissionDenied):
		return -int(unix.EPERM)
	case errors.Is(err, ErrNotFound):
		return -int(unix.ESRCH)
	default:
		return -int(unix.EINVAL)
	}
}
