package api

import (
	"strings"
	"time"

	"github.com/charliek/semrun/internal/domain"
	"github.com/charliek/semrun/internal/gate"
	"github.com/charliek/semrun/internal/supervisor"
)

// sensitiveEnvPatterns contains patterns that indicate sensitive environment variables
var sensitiveEnvPatterns = []string{
	"PASSWORD",
	"SECRET",
	"KEY",
	"TOKEN",
	"CREDENTIAL",
	"PRIVATE",
	"AUTH",
}

// StatusResponse represents the response for GET /status
type StatusResponse struct {
	Status        string         `json:"status"`
	PID           int            `json:"pid"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	JobsDir       string         `json:"jobs_dir"`
	ConfigFile    string         `json:"config_file,omitempty"`
	APIVersion    string         `json:"api_version"`
	Total         int            `json:"total"`
	Counts        map[string]int `json:"counts"`
	FailedBy      string         `json:"failed_by,omitempty"`
}

// JobListResponse represents the response for GET /jobs
type JobListResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

// JobResponse represents a single job in responses
type JobResponse struct {
	Name       string `json:"name"`
	State      string `json:"state"`
	PID        int    `json:"pid"`
	Attempts   int    `json:"attempts"`
	DurationMS int64  `json:"duration_ms"`
	Exit       string `json:"exit,omitempty"`
	RC         *int   `json:"rc,omitempty"`
	Error      string `json:"error,omitempty"`
}

// JobDetailResponse represents the response for GET /jobs/{name}
type JobDetailResponse struct {
	JobResponse
	Path       string            `json:"path"`
	Args       []string          `json:"args,omitempty"`
	Dir        string            `json:"dir,omitempty"`
	Timeout    string            `json:"timeout,omitempty"`
	Retries    int               `json:"retries"`
	StartedAt  string            `json:"started_at,omitempty"`
	FinishedAt string            `json:"finished_at,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
}

// GateResponse represents the response for GET /gate
type GateResponse struct {
	Kind      string `json:"kind"`
	Key       string `json:"key,omitempty"`
	ID        int    `json:"id"`
	Capacity  int    `json:"capacity"`
	Available int    `json:"available"`
	InUse     int    `json:"in_use"`
	Held      int    `json:"held"`
	Waiters   int    `json:"waiters"`
}

// LogsResponse represents the response for GET /logs
type LogsResponse struct {
	Logs          []LogEntryResponse `json:"logs"`
	FilteredCount int                `json:"filtered_count"`
	TotalCount    int                `json:"total_count"`
}

// LogEntryResponse represents a single log entry
type LogEntryResponse struct {
	Timestamp string `json:"timestamp"`
	Job       string `json:"job"`
	Stream    string `json:"stream"`
	Line      string `json:"line"`
}

// SuccessResponse represents a simple success response
type SuccessResponse struct {
	Success bool `json:"success"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// ToStatusResponse converts supervisor.Status to StatusResponse
func ToStatusResponse(st supervisor.Status) StatusResponse {
	resp := StatusResponse{
		Status:        st.State,
		UptimeSeconds: st.UptimeSeconds(),
		APIVersion:    "v1",
		Total:         st.Total,
		Counts:        make(map[string]int, len(st.Counts)),
		FailedBy:      st.FailedBy,
	}
	for state, n := range st.Counts {
		resp.Counts[string(state)] = n
	}
	return resp
}

// ToJobResponse converts domain.JobInfo to JobResponse
func ToJobResponse(info domain.JobInfo) JobResponse {
	resp := JobResponse{
		Name:       info.Name,
		State:      string(info.State),
		PID:        info.PID,
		Attempts:   info.Attempts,
		DurationMS: info.Duration().Milliseconds(),
		Error:      info.Error,
	}
	if info.Exit != nil {
		rc := info.Exit.RC()
		resp.Exit = info.Exit.String()
		resp.RC = &rc
	}
	return resp
}

// ToJobDetailResponse combines runtime info with the job definition
func ToJobDetailResponse(info domain.JobInfo, job domain.Job) JobDetailResponse {
	resp := JobDetailResponse{
		JobResponse: ToJobResponse(info),
		Path:        job.Path,
		Args:        job.Args,
		Dir:         job.Dir,
		Retries:     job.Retries,
		Env:         filterSensitiveEnv(job.Env),
	}
	if job.Timeout > 0 {
		resp.Timeout = job.Timeout.String()
	}
	if !info.StartedAt.IsZero() {
		resp.StartedAt = info.StartedAt.Format(time.RFC3339)
	}
	if !info.FinishedAt.IsZero() {
		resp.FinishedAt = info.FinishedAt.Format(time.RFC3339)
	}
	return resp
}

// ToGateResponse converts gate.Info to GateResponse
func ToGateResponse(info gate.Info) GateResponse {
	resp := GateResponse{
		Kind:      info.Kind,
		ID:        info.ID,
		Capacity:  info.Capacity,
		Available: info.Available,
		InUse:     info.InUse(),
		Held:      info.Held,
		Waiters:   info.Waiters,
	}
	if info.Kind == gate.KindSysV {
		resp.Key = gate.FormatKey(info.Key)
	}
	return resp
}

// filterSensitiveEnv replaces the values of variables matching sensitive
// patterns with "[REDACTED]"
func filterSensitiveEnv(env map[string]string) map[string]string {
	if env == nil {
		return nil
	}

	filtered := make(map[string]string, len(env))
	for key, value := range env {
		if isSensitiveEnvVar(key) {
			filtered[key] = "[REDACTED]"
		} else {
			filtered[key] = value
		}
	}
	return filtered
}

// isSensitiveEnvVar checks if an environment variable name matches sensitive patterns
func isSensitiveEnvVar(name string) bool {
	upperName := strings.ToUpper(name)
	for _, pattern := range sensitiveEnvPatterns {
		if strings.Contains(upperName, pattern) {
			return true
		}
	}
	return false
}

// ToLogEntryResponse converts domain.LogEntry to LogEntryResponse
func ToLogEntryResponse(entry domain.LogEntry) LogEntryResponse {
	return LogEntryResponse{
		Timestamp: entry.Timestamp.Format(time.RFC3339Nano),
		Job:       entry.Job,
		Stream:    string(entry.Stream),
		Line:      entry.Line,
	}
}
