//go:build unix

package environment

import (
	"errors"

	"golang.org/x/sys/unix"
)

func processAlive(pid int) (bool, error) {
	err := unix.Kill(pid, 0)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, unix.ESRCH):
		return false, nil
	case errors.Is(err, unix.EPERM):
		// exists, owned by someone else
		return true, nil
	default:
		return false, err
	}
}
