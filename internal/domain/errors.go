package domain

import "errors"

// Domain errors
var (
	ErrJobNotFound        = errors.New("job not found")
	ErrJobNotRunning      = errors.New("job not running")
	ErrJobsDirNotFound    = errors.New("jobs directory not found")
	ErrNotDirectory       = errors.New("not a directory")
	ErrInvalidPattern     = errors.New("invalid filter pattern")
	ErrShutdownInProgress = errors.New("shutdown in progress")
	ErrConfigNotFound     = errors.New("config file not found")
	ErrInvalidConfig      = errors.New("invalid configuration")
	ErrGateUnsupported    = errors.New("system v semaphores not supported on this platform")
	ErrGateBusy           = errors.New("gate slots are in use")
	ErrGateClosed         = errors.New("gate closed")
	ErrAlreadyRunning     = errors.New("supervisor already running")
)

// Error codes for API responses
const (
	ErrCodeJobNotFound           = "JOB_NOT_FOUND"
	ErrCodeJobNotRunning         = "JOB_NOT_RUNNING"
	ErrCodeInvalidPattern        = "INVALID_PATTERN"
	ErrCodeShutdownInProgress    = "SHUTDOWN_IN_PROGRESS"
	ErrCodeGateUnsupported       = "GATE_UNSUPPORTED"
	ErrCodeStreamingNotSupported = "STREAMING_NOT_SUPPORTED"
)

// ErrorCode returns the API error code for a domain error
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrJobNotFound):
		return ErrCodeJobNotFound
	case errors.Is(err, ErrJobNotRunning):
		return ErrCodeJobNotRunning
	case errors.Is(err, ErrInvalidPattern):
		return ErrCodeInvalidPattern
	case errors.Is(err, ErrShutdownInProgress):
		return ErrCodeShutdownInProgress
	case errors.Is(err, ErrGateUnsupported):
		return ErrCodeGateUnsupported
	default:
		return "INTERNAL_ERROR"
	}
}
