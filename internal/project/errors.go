package project

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrEmptyBatch       = errors.New("project has no clips")
	ErrNoCompletedClips = errors.New("no completed clips to compile")
	ErrAllClipsFailed   = errors.New("all segment generations failed")
	ErrTranscode        = errors.New("video compilation failed")
	ErrInvalidState     = errors.New("project is not in a runnable state")
	ErrInvalidRequest   = errors.New("invalid request")
)

// Error pairs a short, user-safe reason with the underlying cause.
// Error() returns only the reason; the cause stays reachable through
// errors.Is and errors.As and is meant for logs.
type Error struct {
	Reason string
	Err    error
}

func (e *Error) Error() string {
	return e.Reason
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Fail wraps err with a user-safe reason.
func Fail(reason string, err error) error {
	return &Error{Reason: reason, Err: err}
}

// IsPermanent reports whether retrying the same work can never succeed.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrEmptyBatch) ||
		errors.Is(err, ErrNoCompletedClips) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrInvalidRequest)
}

// Reason returns the user-facing message for err.
func Reason(err error) string {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Reason
	}
	for _, sentinel := range []error{ErrNotFound, ErrEmptyBatch, ErrNoCompletedClips, ErrAllClipsFailed, ErrTranscode, ErrInvalidState} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return "video generation failed"
}
