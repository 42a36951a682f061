package storage

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned (wrapped in a FatalError) when a remote object is gone.
var ErrNotFound = errors.New("storage: object not found")

// RemoteRef is an opaque handle identifying a stored object.
type RemoteRef string

// Storage sends parts to the remote platform and fetches them back. Once Put
// returns a reference, Get on it returns the same bytes until the object is
// removed externally.
type Storage interface {
	// Put stores data and returns its reference.
	Put(ctx context.Context, data []byte) (RemoteRef, error)
	// Get retrieves the bytes stored under ref.
	Get(ctx context.Context, ref RemoteRef) ([]byte, error)
}

// Lister is implemented by stores that can enumerate their objects.
type Lister interface {
	List(ctx context.Context) ([]RemoteRef, error)
}

// Deleter is implemented by stores that can remove objects.
type Deleter interface {
	Delete(ctx context.Context, ref RemoteRef) error
}

// TransientError marks a failure worth retrying: rate limiting, timeouts, disconnects.
type TransientError struct {
	Op  string
	Ref RemoteRef
	Err error
}

func (e *TransientError) Error() string {
	if e.Ref == "" {
		return fmt.Sprintf("storage %s: transient: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s %s: transient: %v", e.Op, e.Ref, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// FatalError marks a failure that retrying cannot fix, such as a deleted or
// expired object.
type FatalError struct {
	Op  string
	Ref RemoteRef
	Err error
}

func (e *FatalError) Error() string {
	if e.Ref == "" {
		return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Ref, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a TransientError.
func Transient(op string, ref RemoteRef, err error) error {
	return &TransientError{Op: op, Ref: ref, Err: err}
}

// Fatal wraps err as a FatalError.
func Fatal(op string, ref RemoteRef, err error) error {
	return &FatalError{Op: op, Ref: ref, Err: err}
}

// IsTransient reports whether err carries a TransientError.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// IsFatal reports whether err carries a FatalError.
func IsFatal(err error) bool {
	var f *FatalError
	return errors.As(err, &f)
}
