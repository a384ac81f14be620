package limiter

import (
	"errors"
	"fmt"
)

// ErrStoreUnavailable matches every StoreUnavailableError via errors.Is.
var ErrStoreUnavailable = errors.New("limiter: store unavailable")

// StoreUnavailableError reports a failed or timed out round trip to the
// shared store.
type StoreUnavailableError struct {
	Key string
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("limiter: store unavailable for %q: %v", e.Key, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error { return e.Err }

func (e *StoreUnavailableError) Is(target error) bool { return target == ErrStoreUnavailable }
