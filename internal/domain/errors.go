package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by storage and providers. Test with errors.Is.
var (
	ErrNotFound = errors.New("not found")
	ErrDisabled = errors.New("disabled")
	// ErrEndOfStream signals normal termination of a provider: timeout,
	// stop time reached, producer inactive or max count reached.
	ErrEndOfStream = errors.New("end of stream")
	ErrStorage     = errors.New("storage failure")
	ErrInvalid     = errors.New("invalid argument")
)

// NotFound builds an ErrNotFound for the given kind of object.
func NotFound(kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, ErrNotFound)
}

// Disabled builds an ErrDisabled for the given kind of object.
func Disabled(kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, ErrDisabled)
}

// StorageError wraps an engine failure. It matches ErrStorage.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// StorageFailure wraps err as a StorageError unless it is nil or already a
// NotFound/Invalid condition that callers must see as such.
func StorageFailure(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalid) || errors.Is(err, ErrStorage) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// Wrap adds context following the "component.method: action failed: %w" pattern.
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}
