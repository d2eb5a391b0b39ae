package experiment

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreUnavailable marks transport failures on a single read or write.
	ErrStoreUnavailable = errors.New("experiment store unavailable")
	// ErrExperimentNotFound is returned when a result targets an unknown key.
	ErrExperimentNotFound = errors.New("experiment not found")
	// ErrKeyCollision is returned when an experiment with the generated key
	// already exists, e.g. two experiments started within the same second.
	ErrKeyCollision = errors.New("experiment key already exists")
	// ErrConflict is returned when optimistic retries are exhausted.
	ErrConflict = errors.New("experiment store write conflict")
)

// DecodeError reports a stored entry whose shape does not match.
type DecodeError struct {
	Key    string
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	msg := fmt.Sprintf("malformed entry %q: %s", e.Key, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
