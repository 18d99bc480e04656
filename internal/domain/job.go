package domain

import "time"

// JobState represents the current state of a job.
// Jobs move from pending through waiting and running to one terminal state.
type JobState string

const (
	// JobStatePending indicates the job has been scanned but not yet scheduled
	JobStatePending JobState = "pending"
	// JobStateWaiting indicates the job is blocked on a gate slot
	JobStateWaiting JobState = "waiting"
	// JobStateRunning indicates the job's child process is alive
	JobStateRunning JobState = "running"
	// JobStateSucceeded indicates the child exited with status 0
	JobStateSucceeded JobState = "succeeded"
	// JobStateFailed indicates the child exited non-zero or could not be started
	JobStateFailed JobState = "failed"
	// JobStateSignaled indicates the child was terminated by a signal it did not expect
	JobStateSignaled JobState = "signaled"
	// JobStateTimedOut indicates the child was killed after exceeding its timeout
	JobStateTimedOut JobState = "timed_out"
	// JobStateCanceled indicates the job was canceled by the user or by fail-fast
	JobStateCanceled JobState = "canceled"
)

// String returns the string representation of JobState
func (s JobState) String() string {
	return string(s)
}

// IsTerminal returns true if the job will not run again
func (s JobState) IsTerminal() bool {
	switch s {
	case JobStateSucceeded, JobStateFailed, JobStateSignaled, JobStateTimedOut, JobStateCanceled:
		return true
	}
	return false
}

// IsActive returns true if the job is waiting for a slot or running
func (s JobState) IsActive() bool {
	return s == JobStateWaiting || s == JobStateRunning
}

// Retryable returns true if a job ending in this state may be attempted again
func (s JobState) Retryable() bool {
	return s == JobStateFailed || s == JobStateSignaled || s == JobStateTimedOut
}

// Job defines a single executable entry and how to run it
type Job struct {
	Name      string
	Path      string
	Args      []string
	Env       map[string]string
	Dir       string
	Timeout   time.Duration
	KillGrace time.Duration
	Retries   int
}

// JobInfo represents the runtime state of a job
type JobInfo struct {
	Name       string      `json:"name"`
	Path       string      `json:"path"`
	State      JobState    `json:"state"`
	PID        int         `json:"pid"`
	Attempts   int         `json:"attempts"`
	StartedAt  time.Time   `json:"started_at,omitempty"`
	FinishedAt time.Time   `json:"finished_at,omitempty"`
	Exit       *ExitStatus `json:"exit,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// Duration returns how long the last attempt ran, or has been running so far
func (j JobInfo) Duration() time.Duration {
	if j.StartedAt.IsZero() {
		return 0
	}
	if j.FinishedAt.IsZero() {
		return time.Since(j.StartedAt)
	}
	return j.FinishedAt.Sub(j.StartedAt)
}
