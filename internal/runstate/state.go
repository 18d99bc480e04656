// Package runstate records active runs so that other semrun commands can
// find them, and detaches runs into the background.
//
// Every run owns <jobs_dir>/.semrun/runs/<pid>.json and holds an exclusive
// flock on it. A file that is not locked belongs to a run that died without
// cleaning up.
package runstate

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

const (
	// DirName is the name of the directory storing runtime state
	DirName = ".semrun"
	// RunsDirName holds one file per active run
	RunsDirName = "runs"
)

// Run describes an active semrun run
type Run struct {
	PID        int       `json:"pid"`
	Host       string    `json:"host,omitempty"`
	Port       int       `json:"port,omitempty"`
	JobsDir    string    `json:"jobs_dir"`
	ConfigFile string    `json:"config_file,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	GateKind   string    `json:"gate_kind"`
	GateKey    int32     `json:"gate_key,omitempty"`
	Slots      int       `json:"slots"`
	Jobs       int       `json:"jobs"`
}

// HasAPI reports whether the run serves the HTTP API
func (r Run) HasAPI() bool {
	return r.Port > 0 && r.Host != ""
}

// Dir returns the .semrun directory for jobsDir
func Dir(jobsDir string) string {
	return filepath.Join(jobsDir, DirName)
}

// RunsDir returns the directory holding run files for jobsDir
func RunsDir(jobsDir string) string {
	return filepath.Join(Dir(jobsDir), RunsDirName)
}

// RunPath returns the run file of pid
func RunPath(jobsDir string, pid int) string {
	return filepath.Join(RunsDir(jobsDir), strconv.Itoa(pid)+".json")
}

// Handle is the registration of the current run. It is not safe for
// concurrent use.
type Handle struct {
	path string
	file *os.File
}

// Register writes run to its run file and locks it for the life of the run
func Register(run Run) (*Handle, error) {
	if run.PID <= 0 {
		return nil, fmt.Errorf("invalid pid: %d", run.PID)
	}
	if run.JobsDir == "" {
		return nil, errors.New("jobs dir cannot be empty")
	}
	if err := os.MkdirAll(RunsDir(run.JobsDir), 0700); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	path := RunPath(run.JobsDir, run.PID)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening run file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("locking run file: %w", os.NewSyscallError("flock", err))
	}

	h := &Handle{path: path, file: f}
	if err := h.Update(run); err != nil {
		h.Release()
		return nil, err
	}
	return h, nil
}

// Path returns the run file path
func (h *Handle) Path() string {
	return h.path
}

// Update rewrites the run file, for example once the API port is known
func (h *Handle) Update(run Run) error {
	if h.file == nil {
		return os.ErrClosed
	}

	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling run: %w", err)
	}
	if err := h.file.Truncate(0); err != nil {
		return fmt.Errorf("truncating run file: %w", err)
	}
	if _, err := h.file.WriteAt(data, 0); err != nil {
		return fmt.Errorf("writing run file: %w", err)
	}
	if err := h.file.Sync(); err != nil {
		return fmt.Errorf("syncing run file: %w", err)
	}
	return nil
}

// Release removes the run file and drops the lock
func (h *Handle) Release() error {
	if h.file == nil {
		return nil
	}

	// Remove before unlocking so List never sees an unlocked live file
	err := os.Remove(h.path)
	_ = unix.Flock(int(h.file.Fd()), unix.LOCK_UN)
	_ = h.file.Close()
	h.file = nil

	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing run file: %w", err)
	}
	return nil
}

// Load reads a run file
func Load(path string) (*Run, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading run file: %w", err)
	}
	var run Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("parsing run file %s: %w", filepath.Base(path), err)
	}
	return &run, nil
}

// List returns the live runs for jobsDir, oldest first. Files left by runs
// whose process is gone are removed.
func List(jobsDir string) ([]Run, error) {
	names, err := filepath.Glob(filepath.Join(RunsDir(jobsDir), "*.json"))
	if err != nil {
		return nil, err
	}

	runs := make([]Run, 0, len(names))
	for _, path := range names {
		pid, err := strconv.Atoi(strings.TrimSuffix(filepath.Base(path), ".json"))
		if err != nil {
			continue
		}

		if !IsLocked(path) {
			if !ProcessExists(pid) {
				_ = os.Remove(path)
			}
			continue
		}

		run, err := Load(path)
		if err != nil {
			// Locked but unreadable: the owner is mid-write
			continue
		}
		runs = append(runs, *run)
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.Before(runs[j].StartedAt)
	})
	return runs, nil
}

// Find returns the run of pid, or the only live run when pid is 0
func Find(jobsDir string, pid int) (*Run, error) {
	runs, err := List(jobsDir)
	if err != nil {
		return nil, err
	}

	if pid != 0 {
		for i := range runs {
			if runs[i].PID == pid {
				return &runs[i], nil
			}
		}
		return nil, fmt.Errorf("%w (pid %d)", ErrNotRunning, pid)
	}

	switch len(runs) {
	case 0:
		return nil, ErrNotRunning
	case 1:
		return &runs[0], nil
	default:
		return nil, ErrMultipleRuns
	}
}

// IsLocked reports whether another process holds the lock on path
func IsLocked(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_SH|unix.LOCK_NB); err != nil {
		return true
	}
	_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
	return false
}

// ProcessExists checks if a process with the given PID exists
func ProcessExists(pid int) bool {
	if pid <= 0 {
		return false
	}
	// EPERM means the process exists but belongs to someone else
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
