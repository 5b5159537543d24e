package redis

import (
	"errors"
	"fmt"
)

// The closed error set produced by the client. Callers branch with
// errors.Is; no other error kinds escape this package.
var (
	// ErrNotFound is returned when a key or hash field is absent.
	ErrNotFound = errors.New("not found in redis")

	// ErrPickle is returned when a value envelope cannot be encoded or
	// decoded. This indicates corrupt data or a format mismatch, not a
	// transient failure.
	ErrPickle = errors.New("pickle error")

	// ErrStore is returned for any other underlying store failure,
	// including connection errors. The cause is preserved in the message.
	ErrStore = errors.New("redis error")

	// ErrTimeout is returned when a command does not complete within the
	// client's timeout.
	ErrTimeout = errors.New("redis timeout")
)

// wrapStore classifies an underlying go-redis failure as ErrStore, keeping
// the original diagnostic.
func wrapStore(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrStore, err)
}

// wrapPickle classifies an envelope codec failure as ErrPickle.
func wrapPickle(err error) error {
	return fmt.Errorf("%w: %v", ErrPickle, err)
}
