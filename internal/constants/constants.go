// Package constants provides shared configuration values used across semrun.
package constants

import "time"

// Configuration file defaults
const (
	// DefaultConfigFile is the default configuration filename
	DefaultConfigFile = "semrun.yaml"

	// ConfigEnvVar names the environment variable that may point at a config file
	ConfigEnvVar = "SEMRUN_CONFIG"

	// DefaultJobsDir is used when neither the config nor the command line names one
	DefaultJobsDir = "jobs"

	// DefaultAPIHost is the default host for the API server
	DefaultAPIHost = "127.0.0.1"
)

// Gate defaults
const (
	// DefaultSlots is the number of jobs allowed to run at once
	DefaultSlots = 1

	// DefaultProjectID is the ftok project id ('S')
	DefaultProjectID = 0x53

	// DefaultGatePerm is the permission mode of a new semaphore set
	DefaultGatePerm = 0600

	// DefaultGateInitTimeout bounds how long an opener waits for the creator
	// of a semaphore set to finish initializing it
	DefaultGateInitTimeout = 5 * time.Second

	// GatePollInterval is the longest single blocking semtimedop call
	GatePollInterval = 100 * time.Millisecond
)

// Timeout and duration defaults
const (
	// DefaultRequestTimeout is the default timeout for API requests
	DefaultRequestTimeout = 30 * time.Second

	// DefaultShutdownTimeout is the default timeout for graceful shutdown
	DefaultShutdownTimeout = 10 * time.Second

	// DefaultKillGrace is how long a child gets between SIGTERM and SIGKILL
	DefaultKillGrace = 5 * time.Second

	// GroupPollInterval is how often a stopped job's process group is checked
	// for survivors after its leader has exited
	GroupPollInterval = 50 * time.Millisecond

	// DefaultRetryDelay is the base delay between attempts of a failing job
	DefaultRetryDelay = time.Second

	// OutputDrainTimeout is the maximum time to wait for output readers after
	// a child exits, since grandchildren may keep the pipes open
	OutputDrainTimeout = 5 * time.Second
)

// Child environment
const (
	// EnvJob carries the job name into the child
	EnvJob = "SEMRUN_JOB"

	// EnvAttempt carries the 1-based attempt number into the child
	EnvAttempt = "SEMRUN_ATTEMPT"

	// EnvRunPID carries the supervising semrun pid into the child
	EnvRunPID = "SEMRUN_RUN_PID"
)

// Log configuration
const (
	// DefaultLogLimit is the default number of log lines to return
	DefaultLogLimit = 100

	// MaxLogLines is the maximum number of log lines that can be requested
	MaxLogLines = 10000
)

// Buffer sizes
const (
	// DefaultLogBufferSize is the default size for log buffers
	DefaultLogBufferSize = 1000

	// DefaultSubscriptionBuffer is the default size for subscription buffers
	DefaultSubscriptionBuffer = 100

	// ScannerBufferSize is the initial buffer size for log line scanning
	ScannerBufferSize = 64 * 1024 // 64KB

	// ScannerMaxBufferSize is the maximum buffer size for log line scanning
	ScannerMaxBufferSize = 1024 * 1024 // 1MB
)

// ANSI color codes for terminal output
var (
	// JobColors are the colors used for job names in terminal output
	JobColors = []string{
		"\033[36m", // cyan
		"\033[33m", // yellow
		"\033[32m", // green
		"\033[35m", // magenta
		"\033[34m", // blue
		"\033[31m", // red
	}

	// ColorReset resets the terminal color
	ColorReset = "\033[0m"

	// ColorBrightRed is used for stderr output
	ColorBrightRed = "\033[91m"

	// ColorDim is used for system lines
	ColorDim = "\033[2m"
)
