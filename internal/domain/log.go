package domain

import "time"

// Stream identifies where a log line came from
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
	// StreamSystem carries lines written by semrun itself about a job
	StreamSystem Stream = "system"
)

// String returns the string representation of Stream
func (s Stream) String() string {
	return string(s)
}

// LogEntry represents a single line of job output
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Job       string    `json:"job"`
	Stream    Stream    `json:"stream"`
	Line      string    `json:"line"`
}

// LogFilter defines criteria for filtering log entries
type LogFilter struct {
	Jobs    []string // Filter to specific job names
	Pattern string   // Filter by pattern match
	IsRegex bool     // If true, Pattern is a regex; otherwise substring match
}

// IsEmpty returns true if no filters are set
func (f LogFilter) IsEmpty() bool {
	return len(f.Jobs) == 0 && f.Pattern == ""
}

// MatchesJob returns true if the job name matches the filter
func (f LogFilter) MatchesJob(name string) bool {
	if len(f.Jobs) == 0 {
		return true
	}
	for _, j := range f.Jobs {
		if j == name {
			return true
		}
	}
	return false
}

// LogStats contains statistics about the log buffer
type LogStats struct {
	TotalEntries int
	BufferSize   int
	Subscribers  int
}
