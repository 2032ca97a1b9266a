package updater

import (
	"errors"
	"fmt"
)

var (
	ErrClosed       = errors.New("updater closed")
	ErrInvalidCount = errors.New("count must be positive")
)

// Op identifies the stage of the pipeline a background error occurred in.
type Op string

const (
	// OpFetch denotes a failed Remote Source call. The store is untouched.
	OpFetch Op = "fetch"
	// OpPersist denotes a failed store write. The store was wiped.
	OpPersist Op = "persist"
	// OpWindow denotes a failed (re)subscription of the store window.
	OpWindow Op = "window"
)

// BackgroundError is published on the background error stream.
type BackgroundError struct {
	Op  Op
	Err error
}

func (e *BackgroundError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *BackgroundError) Unwrap() error {
	return e.Err
}
