package runstate

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"
)

// DetachedEnvVar marks the re-executed background child
const DetachedEnvVar = "_SEMRUN_DETACHED"

// IsDetachedChild returns true if this process is a background child
func IsDetachedChild() bool {
	return os.Getenv(DetachedEnvVar) == "1"
}

// LogPath returns the background log file of pid
func LogPath(jobsDir string, pid int) string {
	return filepath.Join(Dir(jobsDir), "semrun-"+strconv.Itoa(pid)+".log")
}

// Daemonize re-executes the current binary with args in a new session,
// detached from the terminal, and returns the child's pid. The child
// recognizes itself with IsDetachedChild and calls SetupLogging.
func Daemonize(args []string) (int, error) {
	executable, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("getting executable path: %w", err)
	}

	cmd := exec.Command(executable, args...)
	cmd.Env = append(os.Environ(), DetachedEnvVar+"=1")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	// stdin, stdout and stderr are /dev/null until SetupLogging
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("starting background run: %w", err)
	}
	pid := cmd.Process.Pid

	// The child is not waited for; it outlives us
	_ = cmd.Process.Release()
	return pid, nil
}

// SetupLogging points fds 1 and 2 of the current process at its background
// log file and returns the file
func SetupLogging(jobsDir string) (*os.File, error) {
	if err := os.MkdirAll(Dir(jobsDir), 0700); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	path := LogPath(jobsDir, os.Getpid())
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}

	for _, fd := range []int{1, 2} {
		if err := unix.Dup2(int(f.Fd()), fd); err != nil {
			f.Close()
			return nil, fmt.Errorf("redirecting output: %w", os.NewSyscallError("dup2", err))
		}
	}
	return f, nil
}
