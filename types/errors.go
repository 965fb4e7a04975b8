package types

import (
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
)

var (
	// ErrNotFound is a generic lookup miss. Use IsNotFound to match it together with the specific misses below.
	ErrNotFound             = eris.New("not found")
	ErrEntityNotFound       = eris.New("entity not found")
	ErrComponentNotFound    = eris.New("component not found")
	ErrComponentDefNotFound = eris.New("component definition not found")

	ErrAlreadyExists = eris.New("component definition already exists")
	ErrStoreIO       = eris.New("store io failure")
	ErrMalformedKey  = eris.New("malformed key")
)

// StoreIOError reports a failed read, write, batch or scan against the underlying ordered store. The backend error
// is kept as the unwrap target.
type StoreIOError struct {
	Op  string
	Err error
}

func NewStoreIOError(op string, err error) error {
	return &StoreIOError{Op: op, Err: err}
}

func (e *StoreIOError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrStoreIO.Error(), e.Op, e.Err)
}

func (e *StoreIOError) Unwrap() error {
	return e.Err
}

func (e *StoreIOError) Is(target error) bool {
	return target == ErrStoreIO //nolint:errorlint // sentinel identity
}

func IsStoreIO(err error) bool {
	var ioErr *StoreIOError
	return errors.As(err, &ioErr)
}

func IsNotFound(err error) bool {
	return eris.Is(err, ErrNotFound) || eris.Is(err, ErrEntityNotFound) ||
		eris.Is(err, ErrComponentNotFound) || eris.Is(err, ErrComponentDefNotFound)
}
