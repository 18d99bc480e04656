// Package supervisor runs job entries as child processes and tracks them
// until they reach a terminal state.
//
// # Process Model
//
// Each entry is executed directly (no shell) in its own process group, so
// signals sent by the supervisor reach the entry and everything it spawned.
// Entries are trusted the same way a crontab is: anything executable in the
// jobs directory will run.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"syscall"

	"github.com/charliek/semrun/internal/constants"
	"github.com/charliek/semrun/internal/domain"
	"golang.org/x/sys/unix"
)

// ProcessRunner creates and starts job processes
type ProcessRunner interface {
	Start(ctx context.Context, job domain.Job, attempt int) (Process, error)
}

// Process is one started attempt of a job
type Process interface {
	PID() int
	// Wait blocks until the process exits and decodes its wait status
	Wait() (domain.ExitStatus, error)
	// Signal delivers sig to the process group
	Signal(sig syscall.Signal) error
	Stdout() io.Reader
	Stderr() io.Reader
}

// ExecRunner implements ProcessRunner using os/exec
type ExecRunner struct {
	// RunPID is exported to children as SEMRUN_RUN_PID
	RunPID int
}

// NewExecRunner creates a new ExecRunner
func NewExecRunner() *ExecRunner {
	return &ExecRunner{RunPID: os.Getpid()}
}

// Start forks and execs the job entry
func (r *ExecRunner) Start(ctx context.Context, job domain.Job, attempt int) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := exec.Command(job.Path, job.Args...)
	cmd.Dir = job.Dir
	cmd.Env = r.environ(job, attempt)

	// Own pipes instead of cmd.StdoutPipe: Wait must not close the read
	// ends while grandchildren are still writing
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdoutR.Close()
		stdoutW.Close()
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	// Own process group so the whole tree can be signaled
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}

	err = cmd.Start()
	stdoutW.Close()
	stderrW.Close()
	if err != nil {
		stdoutR.Close()
		stderrR.Close()
		return nil, fmt.Errorf("starting %s: %w", job.Name, err)
	}

	return &execProcess{
		cmd:    cmd,
		stdout: stdoutR,
		stderr: stderrR,
	}, nil
}

// environ builds the child environment: ours, then the job's, then the
// SEMRUN_* variables
func (r *ExecRunner) environ(job domain.Job, attempt int) []string {
	env := os.Environ()

	keys := make([]string, 0, len(job.Env))
	for k := range job.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+job.Env[k])
	}

	return append(env,
		constants.EnvJob+"="+job.Name,
		constants.EnvAttempt+"="+strconv.Itoa(attempt),
		constants.EnvRunPID+"="+strconv.Itoa(r.RunPID),
	)
}

// execProcess wraps exec.Cmd to implement Process
type execProcess struct {
	cmd    *exec.Cmd
	stdout *os.File
	stderr *os.File
}

func (p *execProcess) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *execProcess) Wait() (domain.ExitStatus, error) {
	err := p.cmd.Wait()

	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return domain.ExitStatus{}, fmt.Errorf("waiting for pid %d: %w", p.PID(), err)
	}

	ws, ok := p.cmd.ProcessState.Sys().(syscall.WaitStatus)
	if !ok {
		return domain.ExitStatus{Code: p.cmd.ProcessState.ExitCode()}, nil
	}
	return domain.ExitStatusFromWait(ws), nil
}

// Signal delivers sig to the process group. Setpgid makes the pgid equal
// to the leader's pid, so the group stays addressable after the leader has
// been reaped. Signal 0 only checks whether any member is left.
func (p *execProcess) Signal(sig syscall.Signal) error {
	if p.cmd.Process == nil {
		return nil
	}

	if err := unix.Kill(-p.cmd.Process.Pid, sig); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return os.ErrProcessDone
		}
		return os.NewSyscallError("kill", err)
	}
	return nil
}

func (p *execProcess) Stdout() io.Reader {
	return p.stdout
}

func (p *execProcess) Stderr() io.Reader {
	return p.stderr
}
