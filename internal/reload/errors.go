package reload

import (
	"errors"
	"fmt"
)

var (
	ErrClosed            = errors.New("closed")
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrUnknownPackage    = errors.New("unknown package")
	ErrEpochExpired      = errors.New("epoch result no longer retained")
)

// WatchError is a failure of the notification mechanism for one package.
type WatchError struct {
	Package Package
	Path    string
	Err     error
}

func (e *WatchError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("watch %s: %v", e.Package, e.Err)
	}
	return fmt.Sprintf("watch %s (%s): %v", e.Package, e.Path, e.Err)
}

func (e *WatchError) Unwrap() error {
	return e.Err
}
