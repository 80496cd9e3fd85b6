// Package wcerr defines the exit-condition taxonomy shared by every
// component of the working-copy core: subst, textbase, entries, adminarea,
// report and merge all return errors that wrap one of these sentinels so a
// caller can classify a failure with errors.Is without depending on any
// particular component's error type.
package wcerr

import "github.com/pkg/errors"

// Sentinel errors. Wrap with errors.Wrap/Wrapf to add path/operation
// context without changing the underlying kind - see the propagation
// policy this mirrors.
var (
	// ErrInconsistentEOL - a text stream mixed line-ending styles and the
	// caller did not request repair.
	ErrInconsistentEOL = errors.New("inconsistent eol style")

	// ErrCorruptTextBase - a text-base's digest does not match its
	// recorded checksum. Fatal: never trust the content past this point.
	ErrCorruptTextBase = errors.New("corrupt text-base")

	// ErrObstructedUpdate - a versioned directory entry is obstructed on
	// disk by an object of the wrong kind.
	ErrObstructedUpdate = errors.New("obstructed update")

	// ErrLocked - the administrative area's write-lock is already held.
	ErrLocked = errors.New("working copy locked")

	// ErrNotWorkingCopy - the given directory has no administrative area.
	ErrNotWorkingCopy = errors.New("not a working copy")

	// ErrEntryNotFound - no Entry exists for the requested name.
	ErrEntryNotFound = errors.New("entry not found")

	// ErrCancelled - a caller-supplied cancellation probe fired. Control
	// flow, not a failure: callers should treat this as a clean abort.
	ErrCancelled = errors.New("operation cancelled")

	// ErrIOError - wraps an underlying I/O failure.
	ErrIOError = errors.New("i/o error")
)

// Wrap adds path/operation context to an error without losing the
// underlying sentinel kind - errors.Is(result, sentinel) still holds.
func Wrap(err error, sentinel error, context string) error {
	if err == nil {
		return nil
	}
	return &wrapped{cause: err, sentinel: sentinel, context: context}
}

// Wrapf is Wrap with a formatted context string.
func Wrapf(err error, sentinel error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return Wrap(err, sentinel, errors.Errorf(format, args...).Error())
}

type wrapped struct {
	cause    error
	sentinel error
	context  string
}

func (w *wrapped) Error() string {
	if w.cause == nil || w.cause.Error() == w.sentinel.Error() {
		return w.context + ": " + w.sentinel.Error()
	}
	return w.context + ": " + w.sentinel.Error() + ": " + w.cause.Error()
}

func (w *wrapped) Unwrap() error { return w.sentinel }

func (w *wrapped) Cause() error { return w.cause }
