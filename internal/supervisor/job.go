package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/charliek/semrun/internal/constants"
	"github.com/charliek/semrun/internal/domain"
	"github.com/charliek/semrun/internal/gate"
	"github.com/charliek/semrun/internal/logs"
)

// stopReason records why the supervisor ended an attempt early
type stopReason int

const (
	stopNone stopReason = iota
	stopTimeout
	stopCancel
)

// ManagedJob drives one job through its attempts
type ManagedJob struct {
	mu sync.RWMutex

	job        domain.Job
	runner     ProcessRunner
	gate       gate.Gate
	logManager *logs.Manager
	logger     *slog.Logger
	retryDelay time.Duration
	notify     func(EventType, domain.JobInfo)

	state      domain.JobState
	process    Process
	attempts   int
	startedAt  time.Time
	finishedAt time.Time
	exit       *domain.ExitStatus
	lastErr    string

	canceled bool
	cancel   context.CancelFunc

	done     chan struct{}
	doneOnce sync.Once
}

// NewManagedJob creates a pending job. notify may be nil.
func NewManagedJob(job domain.Job, runner ProcessRunner, g gate.Gate, logManager *logs.Manager,
	retryDelay time.Duration, logger *slog.Logger, notify func(EventType, domain.JobInfo)) *ManagedJob {
	if job.KillGrace <= 0 {
		job.KillGrace = constants.DefaultKillGrace
	}
	if logger == nil {
		logger = slog.Default()
	}
	if notify == nil {
		notify = func(EventType, domain.JobInfo) {}
	}
	return &ManagedJob{
		job:        job,
		runner:     runner,
		gate:       g,
		logManager: logManager,
		logger:     logger.With("job", job.Name),
		retryDelay: retryDelay,
		notify:     notify,
		state:      domain.JobStatePending,
		done:       make(chan struct{}),
	}
}

// Name returns the job name
func (j *ManagedJob) Name() string {
	return j.job.Name
}

// Job returns the job definition
func (j *ManagedJob) Job() domain.Job {
	return j.job
}

// Info returns a snapshot of the job's runtime state
func (j *ManagedJob) Info() domain.JobInfo {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.infoLocked()
}

func (j *ManagedJob) infoLocked() domain.JobInfo {
	info := domain.JobInfo{
		Name:       j.job.Name,
		Path:       j.job.Path,
		State:      j.state,
		Attempts:   j.attempts,
		StartedAt:  j.startedAt,
		FinishedAt: j.finishedAt,
		Error:      j.lastErr,
	}
	if j.process != nil {
		info.PID = j.process.PID()
	}
	if j.exit != nil {
		exit := *j.exit
		info.Exit = &exit
	}
	return info
}

// State returns the current state
func (j *ManagedJob) State() domain.JobState {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.state
}

// Done is closed once the job reaches a terminal state
func (j *ManagedJob) Done() <-chan struct{} {
	return j.done
}

// Run executes attempts until one succeeds, the retries are used up or the
// job is canceled. It returns the final snapshot.
func (j *ManagedJob) Run(ctx context.Context) domain.JobInfo {
	defer j.closeDone()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	j.mu.Lock()
	if j.canceled || j.state.IsTerminal() {
		j.mu.Unlock()
		return j.finish(domain.JobStateCanceled, nil, nil)
	}
	j.cancel = cancel
	j.mu.Unlock()

	for attempt := 1; ; attempt++ {
		state := j.runAttempt(ctx, attempt)
		if !state.Retryable() || attempt > j.job.Retries {
			break
		}

		// Retrying jobs re-enter waiting until the next attempt
		j.setState(domain.JobStateWaiting)
		delay := j.retryDelay * time.Duration(attempt)
		j.logManager.System(j.job.Name, "retrying in %s (attempt %d of %d)", delay, attempt+1, j.job.Retries+1)
		j.notify(EventTypeJobRetrying, j.Info())

		select {
		case <-ctx.Done():
			return j.finish(domain.JobStateCanceled, nil, nil)
		case <-time.After(delay):
		}
	}

	return j.Info()
}

// runAttempt performs one gate-acquire, start, wait, release cycle
func (j *ManagedJob) runAttempt(ctx context.Context, attempt int) domain.JobState {
	j.setState(domain.JobStateWaiting)
	j.notify(EventTypeJobWaiting, j.Info())

	if err := j.gate.Acquire(ctx); err != nil {
		if ctx.Err() != nil {
			return j.finish(domain.JobStateCanceled, nil, nil).State
		}
		j.logManager.System(j.job.Name, "waiting for slot: %v", err)
		return j.finish(domain.JobStateFailed, nil, fmt.Errorf("acquiring slot: %w", err)).State
	}

	proc, err := j.runner.Start(ctx, j.job, attempt)
	if err != nil {
		j.releaseSlot()
		j.mu.Lock()
		j.attempts = attempt
		j.mu.Unlock()
		if ctx.Err() != nil {
			return j.finish(domain.JobStateCanceled, nil, nil).State
		}
		j.logManager.System(j.job.Name, "failed to start: %v", err)
		return j.finish(domain.JobStateFailed, nil, err).State
	}

	j.mu.Lock()
	j.process = proc
	j.attempts = attempt
	j.startedAt = time.Now()
	j.finishedAt = time.Time{}
	j.exit = nil
	j.lastErr = ""
	j.state = domain.JobStateRunning
	info := j.infoLocked()
	j.mu.Unlock()

	j.logger.Debug("started", "pid", proc.PID(), "attempt", attempt)
	j.logManager.System(j.job.Name, "started (pid %d, attempt %d)", proc.PID(), attempt)
	j.notify(EventTypeJobStarted, info)

	var outputWg sync.WaitGroup
	outputWg.Add(2)
	go func() {
		defer outputWg.Done()
		j.readOutput(proc.Stdout(), domain.StreamStdout)
	}()
	go func() {
		defer outputWg.Done()
		j.readOutput(proc.Stderr(), domain.StreamStderr)
	}()

	status, reason, waitErr := j.wait(ctx, proc)

	// The slot belongs to the child, not to its leftover output
	j.releaseSlot()
	j.drainOutput(&outputWg, proc)

	switch {
	case reason == stopTimeout:
		j.logManager.System(j.job.Name, "timed out after %s (%s)", j.job.Timeout, describe(status, waitErr))
		return j.finish(domain.JobStateTimedOut, status, waitErr).State
	case reason == stopCancel:
		j.logManager.System(j.job.Name, "canceled (%s)", describe(status, waitErr))
		return j.finish(domain.JobStateCanceled, status, waitErr).State
	case waitErr != nil:
		j.logManager.System(j.job.Name, "wait failed: %v", waitErr)
		return j.finish(domain.JobStateFailed, nil, waitErr).State
	case status.Success():
		j.logManager.System(j.job.Name, "%s after %s", status, time.Since(info.StartedAt).Round(time.Millisecond))
		return j.finish(domain.JobStateSucceeded, status, nil).State
	case status.Signaled:
		j.logManager.System(j.job.Name, "%s (rc=%d)", status, status.RC())
		return j.finish(domain.JobStateSignaled, status, nil).State
	default:
		j.logManager.System(j.job.Name, "%s", status)
		return j.finish(domain.JobStateFailed, status, nil).State
	}
}

type waitResult struct {
	status domain.ExitStatus
	err    error
}

// wait blocks until the child exits. Timeout expiry or cancellation sends
// SIGTERM to the group, then SIGKILL once the kill grace has passed.
func (j *ManagedJob) wait(ctx context.Context, proc Process) (*domain.ExitStatus, stopReason, error) {
	waitCh := make(chan waitResult, 1)
	go func() {
		status, err := proc.Wait()
		waitCh <- waitResult{status: status, err: err}
	}()

	var timeoutC <-chan time.Time
	if j.job.Timeout > 0 {
		timer := time.NewTimer(j.job.Timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	reason := stopNone
	var res waitResult
	select {
	case res = <-waitCh:
	case <-timeoutC:
		reason = stopTimeout
		res = j.terminate(proc, waitCh)
	case <-ctx.Done():
		reason = stopCancel
		res = j.terminate(proc, waitCh)
	}

	if res.err != nil {
		return nil, reason, res.err
	}
	return &res.status, reason, nil
}

func (j *ManagedJob) terminate(proc Process, waitCh <-chan waitResult) waitResult {
	j.signal(proc, syscall.SIGTERM)

	grace := time.NewTimer(j.job.KillGrace)
	defer grace.Stop()

	select {
	case res := <-waitCh:
		j.killSurvivors(proc, grace.C)
		return res
	case <-grace.C:
		j.logManager.System(j.job.Name, "sending SIGKILL (still running %s after SIGTERM)", j.job.KillGrace)
		j.signal(proc, syscall.SIGKILL)
	}
	return <-waitCh
}

// killSurvivors waits out the kill grace for group members that outlive the
// leader and sends SIGKILL to the group if any remain
func (j *ManagedJob) killSurvivors(proc Process, grace <-chan time.Time) {
	tick := time.NewTicker(constants.GroupPollInterval)
	defer tick.Stop()

	for {
		if errors.Is(proc.Signal(0), os.ErrProcessDone) {
			return
		}
		select {
		case <-tick.C:
		case <-grace:
			j.logManager.System(j.job.Name, "sending SIGKILL to the rest of the group (still running %s after SIGTERM)", j.job.KillGrace)
			j.signal(proc, syscall.SIGKILL)
			return
		}
	}
}

func (j *ManagedJob) signal(proc Process, sig syscall.Signal) {
	if err := proc.Signal(sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
		j.logManager.System(j.job.Name, "%s failed: %v", domain.SignalName(sig), err)
	}
}

// Cancel stops the job. A job that has not started yet never starts.
func (j *ManagedJob) Cancel() error {
	j.mu.Lock()
	if j.state.IsTerminal() {
		j.mu.Unlock()
		return domain.ErrJobNotRunning
	}
	j.canceled = true
	cancel := j.cancel
	j.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return nil
}

// Signal forwards sig to the running child
func (j *ManagedJob) Signal(sig syscall.Signal) error {
	j.mu.RLock()
	proc := j.process
	state := j.state
	j.mu.RUnlock()

	if proc == nil || state != domain.JobStateRunning {
		return domain.ErrJobNotRunning
	}
	return proc.Signal(sig)
}

// abandon ends a job that will never run as canceled
func (j *ManagedJob) abandon() {
	j.mu.Lock()
	j.canceled = true
	terminal := j.state.IsTerminal()
	j.mu.Unlock()

	if !terminal {
		j.finish(domain.JobStateCanceled, nil, nil)
	}
	j.closeDone()
}

func (j *ManagedJob) setState(state domain.JobState) {
	j.mu.Lock()
	j.state = state
	j.mu.Unlock()
}

// finish records the outcome of an attempt. Outcomes that may be retried
// are recorded in the same way; Run decides whether another attempt follows.
func (j *ManagedJob) finish(state domain.JobState, status *domain.ExitStatus, err error) domain.JobInfo {
	j.mu.Lock()
	if j.canceled && state != domain.JobStateSucceeded {
		state = domain.JobStateCanceled
	}
	j.state = state
	j.process = nil
	j.finishedAt = time.Now()
	if status != nil {
		j.exit = status
	}
	if err != nil {
		j.lastErr = err.Error()
	}
	info := j.infoLocked()
	j.mu.Unlock()

	j.logger.Debug("attempt finished", "state", state, "exit", describe(status, err))
	j.notify(EventTypeJobFinished, info)
	return info
}

func (j *ManagedJob) releaseSlot() {
	if err := j.gate.Release(); err != nil {
		j.logger.Error("releasing gate slot", "error", err)
	}
}

// drainOutput waits for the output readers, giving up after a bound since
// grandchildren may hold the pipes open after the child has exited
func (j *ManagedJob) drainOutput(wg *sync.WaitGroup, proc Process) {
	outputDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(outputDone)
	}()

	select {
	case <-outputDone:
	case <-time.After(constants.OutputDrainTimeout):
		j.logManager.System(j.job.Name, "output capture timed out (some logs may be missing)")
		closeReader(proc.Stdout())
		closeReader(proc.Stderr())
	}
}

// readOutput writes each line of r to the log manager
func (j *ManagedJob) readOutput(r io.Reader, stream domain.Stream) {
	if r == nil {
		return
	}
	defer closeReader(r)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, constants.ScannerBufferSize), constants.ScannerMaxBufferSize)

	for scanner.Scan() {
		j.logManager.Write(domain.LogEntry{
			Timestamp: time.Now(),
			Job:       j.job.Name,
			Stream:    stream,
			Line:      scanner.Text(),
		})
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		j.logManager.System(j.job.Name, "output reader error: %v", err)
	}
}

func closeReader(r io.Reader) {
	if c, ok := r.(io.Closer); ok {
		_ = c.Close()
	}
}

func (j *ManagedJob) closeDone() {
	j.doneOnce.Do(func() {
		close(j.done)
	})
}

func describe(status *domain.ExitStatus, err error) string {
	switch {
	case err != nil:
		return err.Error()
	case status == nil:
		return "not started"
	default:
		return status.String()
	}
}
