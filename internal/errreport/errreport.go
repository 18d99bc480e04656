// Package errreport turns errors into one diagnostic line and a process exit code.
package errreport

import (
	"errors"
	"fmt"
	"io"
	"syscall"

	"github.com/charliek/semrun/internal/domain"
	"golang.org/x/sys/unix"
)

// Exit codes from <sysexits.h>
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitUsage       = 64
	ExitNoInput     = 66
	ExitUnavailable = 69
	ExitNoPerm      = 77
	ExitConfig      = 78
)

// ExitError carries the exit code of a run whose jobs did not all succeed.
// Report returns its code without printing anything.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// UsageError marks a bad command line
type UsageError struct {
	Err error
}

func (e *UsageError) Error() string { return e.Err.Error() }
func (e *UsageError) Unwrap() error { return e.Err }

// Usage wraps err as a command line error
func Usage(err error) error {
	if err == nil {
		return nil
	}
	return &UsageError{Err: err}
}

// Report writes "prog: message" to w and returns the exit code for err.
// When the error chain carries an errno its symbolic name and number are
// appended. A nil error writes nothing and returns 0.
func Report(w io.Writer, prog string, err error) int {
	if err == nil {
		return ExitOK
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}

	msg := err.Error()
	if errno, ok := Errno(err); ok {
		msg = fmt.Sprintf("%s [%s errno=%d]", msg, ErrnoName(errno), int(errno))
	}
	fmt.Fprintf(w, "%s: %s\n", prog, msg)

	return ExitCode(err)
}

// ExitCode maps err onto the sysexits convention
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var exitErr *ExitError
	var usageErr *UsageError
	switch {
	case errors.As(err, &exitErr):
		return exitErr.Code
	case errors.As(err, &usageErr):
		return ExitUsage
	case errors.Is(err, domain.ErrInvalidConfig),
		errors.Is(err, domain.ErrConfigNotFound),
		errors.Is(err, domain.ErrInvalidPattern):
		return ExitConfig
	case errors.Is(err, domain.ErrJobsDirNotFound),
		errors.Is(err, domain.ErrNotDirectory),
		errors.Is(err, domain.ErrJobNotFound):
		return ExitNoInput
	case errors.Is(err, domain.ErrGateUnsupported):
		return ExitUnavailable
	}

	if errno, ok := Errno(err); ok {
		switch errno {
		case unix.ENOENT, unix.ENOTDIR:
			return ExitNoInput
		case unix.EACCES, unix.EPERM:
			return ExitNoPerm
		case unix.ENOSYS:
			return ExitUnavailable
		}
	}

	return ExitFailure
}

// Errno returns the first errno in err's chain
func Errno(err error) (syscall.Errno, bool) {
	var errno syscall.Errno
	if errors.As(err, &errno) && errno != 0 {
		return errno, true
	}
	return 0, false
}

// ErrnoName returns the symbolic name of errno, such as "ENOENT"
func ErrnoName(errno syscall.Errno) string {
	if name := unix.ErrnoName(errno); name != "" {
		return name
	}
	return fmt.Sprintf("errno %d", int(errno))
}
