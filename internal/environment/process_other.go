//go:build !unix

package environment

import "errors"

func processAlive(int) (bool, error) {
	return false, errors.New("process probing is only supported on unix")
}
