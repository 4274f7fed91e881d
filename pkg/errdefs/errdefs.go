// Package errdefs defines the failure kinds a fetch can report and how
// they propagate through mirror dispatch.
package errdefs

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig reports an invalid search path or an offline fetch with
	// nothing in the cache.
	ErrConfig = errors.New("configuration error")
	// ErrNetwork reports a connection or I/O failure during a transfer.
	ErrNetwork = errors.New("network error")
	// ErrMalformed reports a malformed URL or response.
	ErrMalformed = errors.New("malformed url or response")
	// ErrUnavailable reports that a candidate simply does not hold the source.
	ErrUnavailable = errors.New("source unavailable")
	// ErrTransport reports any other failure during a transfer.
	ErrTransport = errors.New("unexpected transport error")
	// ErrVerification reports a downloaded artifact that is not a regular file.
	ErrVerification = errors.New("verification failed")
	// ErrRepository reports a failure from a version-control working copy.
	ErrRepository = errors.New("repository error")
	// ErrExhausted reports that every mirror candidate failed.
	ErrExhausted = errors.New("all paths have failed, giving up")
)

// Error is a failure of one kind tied to the URL being fetched.
type Error struct {
	Kind error
	URL  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.URL == "" && e.Err == nil:
		return e.Kind.Error()
	case e.URL == "":
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Err == nil:
		return fmt.Sprintf("download: %s: %s", e.URL, e.Kind)
	}
	return fmt.Sprintf("download: %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the kind, so errors.Is(err, ErrNetwork) works through wrapping.
func (e *Error) Is(target error) bool { return target == e.Kind }

// New returns an *Error of the given kind.
func New(kind error, url string, err error) error {
	return &Error{Kind: kind, URL: url, Err: err}
}

// Errorf returns an *Error of the given kind with a formatted cause.
func Errorf(kind error, url string, format string, args ...any) error {
	return &Error{Kind: kind, URL: url, Err: fmt.Errorf(format, args...)}
}

// Recoverable reports whether dispatch may move on to the next mirror
// candidate after err.
func Recoverable(err error) bool {
	return errors.Is(err, ErrNetwork) || errors.Is(err, ErrMalformed) || errors.Is(err, ErrUnavailable)
}
