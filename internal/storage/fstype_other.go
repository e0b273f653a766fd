//go:build !linux && !darwin

package storage

import "errors"

func filesystemType(string) (string, error) {
	return "", errors.ErrUnsupported
}
