package transfer

import (
	"errors"
	"fmt"
)

var (
	// ErrCancelled is returned by a session stopped through Cancel.
	ErrCancelled = errors.New("transfer: cancelled")
	// ErrSourceChanged is returned by Resume when the source no longer hashes
	// to the checksum recorded at upload time.
	ErrSourceChanged = errors.New("transfer: source file changed since upload began")
	// ErrBusy is returned when a session for the file is already running.
	ErrBusy = errors.New("transfer: file already has an active session")
	// ErrNoSession is returned by Cancel when nothing runs for the file.
	ErrNoSession = errors.New("transfer: no active session")
	// ErrNotDownloadable is returned for files whose parts are not all stored.
	ErrNotDownloadable = errors.New("transfer: file is not complete")
)

// RetryExhaustedError reports a part that kept failing transiently until the
// attempt budget ran out.
type RetryExhaustedError struct {
	Attempts int
	Err      error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("giving up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.Err
}

// PartError attaches the part index to a failure inside a session.
type PartError struct {
	Index int
	Err   error
}

func (e *PartError) Error() string {
	return fmt.Sprintf("part %d: %v", e.Index, e.Err)
}

func (e *PartError) Unwrap() error {
	return e.Err
}
