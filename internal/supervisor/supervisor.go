package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/charliek/semrun/internal/constants"
	"github.com/charliek/semrun/internal/domain"
	"github.com/charliek/semrun/internal/gate"
	"github.com/charliek/semrun/internal/logs"
)

// Supervisor states
const (
	StateIdle     = "idle"
	StateRunning  = "running"
	StateStopping = "stopping"
	StateFinished = "finished"
)

// Config holds supervisor settings
type Config struct {
	// FailFast cancels every other job once one fails
	FailFast bool
	// RetryDelay is multiplied by the attempt number between attempts
	RetryDelay time.Duration
	Logger     *slog.Logger
}

// DefaultConfig returns the default supervisor configuration
func DefaultConfig() Config {
	return Config{
		RetryDelay: constants.DefaultRetryDelay,
	}
}

// Supervisor runs a set of jobs concurrently; the gate bounds how many
// children are alive at once.
type Supervisor struct {
	mu sync.RWMutex

	cfg        Config
	jobs       map[string]*ManagedJob
	order      []string
	gate       gate.Gate
	runner     ProcessRunner
	logManager *logs.Manager
	logger     *slog.Logger

	state      string
	startedAt  time.Time
	finishedAt time.Time
	failedBy   string

	cancel   context.CancelFunc
	done     chan struct{}
	doneOnce sync.Once

	// eventMu protects eventSubs from concurrent access
	eventMu   sync.RWMutex
	eventSubs []chan Event
}

// Event represents a supervisor event
type Event struct {
	Type      EventType      `json:"type"`
	Job       string         `json:"job,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Info      domain.JobInfo `json:"info"`
}

// EventType defines the type of supervisor event
type EventType string

const (
	EventTypeJobWaiting  EventType = "job_waiting"
	EventTypeJobStarted  EventType = "job_started"
	EventTypeJobFinished EventType = "job_finished"
	EventTypeJobRetrying EventType = "job_retrying"
	EventTypeRunStart    EventType = "run_start"
	EventTypeRunFinish   EventType = "run_finish"
)

// New creates a supervisor for jobs. A nil runner uses ExecRunner.
func New(jobs []domain.Job, g gate.Gate, logManager *logs.Manager, runner ProcessRunner, cfg Config) *Supervisor {
	if runner == nil {
		runner = NewExecRunner()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Supervisor{
		cfg:        cfg,
		jobs:       make(map[string]*ManagedJob, len(jobs)),
		gate:       g,
		runner:     runner,
		logManager: logManager,
		logger:     cfg.Logger,
		state:      StateIdle,
		done:       make(chan struct{}),
	}

	for _, job := range jobs {
		s.jobs[job.Name] = NewManagedJob(job, runner, g, logManager, cfg.RetryDelay, cfg.Logger, s.notify)
		s.order = append(s.order, job.Name)
	}
	sort.Strings(s.order)

	return s
}

// Run starts every job and blocks until all of them are terminal. Canceling
// ctx cancels the jobs that are still pending, waiting or running.
func (s *Supervisor) Run(ctx context.Context) (Result, error) {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return Result{}, domain.ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.state = StateRunning
	s.startedAt = time.Now()
	s.mu.Unlock()
	defer cancel()

	s.logger.Info("run started", "jobs", len(s.order))
	s.emit(Event{Type: EventTypeRunStart, Timestamp: time.Now()})

	var wg sync.WaitGroup
	for _, name := range s.order {
		mj := s.jobs[name]
		wg.Add(1)
		go func() {
			defer wg.Done()
			info := mj.Run(runCtx)
			if s.cfg.FailFast && info.State.Retryable() {
				s.failFast(info)
			}
		}()
	}
	wg.Wait()

	s.mu.Lock()
	s.state = StateFinished
	s.finishedAt = time.Now()
	s.mu.Unlock()
	s.closeDone()

	result := s.Result()
	s.logger.Info("run finished",
		"succeeded", result.Succeeded, "failed", result.Failed, "signaled", result.Signaled,
		"timed_out", result.TimedOut, "canceled", result.Canceled, "duration", result.Duration.Round(time.Millisecond))
	s.emit(Event{Type: EventTypeRunFinish, Timestamp: time.Now()})

	return result, nil
}

// failFast cancels the rest of the run after the first failure
func (s *Supervisor) failFast(info domain.JobInfo) {
	s.mu.Lock()
	first := s.failedBy == ""
	if first {
		s.failedBy = info.Name
	}
	cancel := s.cancel
	s.mu.Unlock()

	if !first {
		return
	}
	s.logger.Warn("job failed, canceling remaining jobs", "job", info.Name, "state", info.State)
	s.logManager.System(info.Name, "fail-fast: canceling remaining jobs")
	cancel()
}

// Cancel cancels a single job
func (s *Supervisor) Cancel(name string) error {
	s.mu.RLock()
	mj, ok := s.jobs[name]
	stopping := s.state == StateStopping
	s.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrJobNotFound, name)
	}
	if stopping {
		return domain.ErrShutdownInProgress
	}
	return mj.Cancel()
}

// Stop cancels every job and waits for the run to finish. If ctx expires
// first the remaining children are killed.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateIdle:
		now := time.Now()
		s.state = StateFinished
		s.startedAt = now
		s.finishedAt = now
		s.mu.Unlock()

		s.logger.Info("run stopped before it started")
		for _, mj := range s.ordered() {
			mj.abandon()
		}
		s.closeDone()
		s.emit(Event{Type: EventTypeRunFinish, Timestamp: time.Now()})
		return nil
	case StateFinished:
		s.mu.Unlock()
		return nil
	}
	s.state = StateStopping
	cancel := s.cancel
	s.mu.Unlock()

	s.logger.Info("stopping run")
	cancel()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
	}

	n := s.Signal(syscall.SIGKILL)
	s.logger.Warn("shutdown timed out, killed remaining jobs", "killed", n)

	select {
	case <-s.done:
	case <-time.After(time.Second):
	}
	return ctx.Err()
}

// Kill sends SIGKILL to every running job without waiting
func (s *Supervisor) Kill() int {
	return s.Signal(syscall.SIGKILL)
}

// Signal delivers sig to every running job group and returns how many were
// signaled
func (s *Supervisor) Signal(sig syscall.Signal) int {
	n := 0
	for _, mj := range s.ordered() {
		if err := mj.Signal(sig); err == nil {
			n++
		}
	}
	if n > 0 {
		s.logger.Debug("forwarded signal", "signal", domain.SignalName(sig), "jobs", n)
	}
	return n
}

// Jobs returns info for all jobs, sorted by name
func (s *Supervisor) Jobs() []domain.JobInfo {
	jobs := s.ordered()
	result := make([]domain.JobInfo, 0, len(jobs))
	for _, mj := range jobs {
		result = append(result, mj.Info())
	}
	return result
}

// Job returns info for a specific job
func (s *Supervisor) Job(name string) (domain.JobInfo, error) {
	s.mu.RLock()
	mj, ok := s.jobs[name]
	s.mu.RUnlock()

	if !ok {
		return domain.JobInfo{}, fmt.Errorf("%w: %s", domain.ErrJobNotFound, name)
	}
	return mj.Info(), nil
}

// Definition returns the run definition of a job
func (s *Supervisor) Definition(name string) (domain.Job, error) {
	s.mu.RLock()
	mj, ok := s.jobs[name]
	s.mu.RUnlock()

	if !ok {
		return domain.Job{}, fmt.Errorf("%w: %s", domain.ErrJobNotFound, name)
	}
	return mj.Job(), nil
}

// Gate returns the gate limiting this run
func (s *Supervisor) Gate() gate.Gate {
	return s.gate
}

// Done is closed once every job is terminal, either when Run returns or
// when Stop ends a run that never started
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

func (s *Supervisor) closeDone() {
	s.doneOnce.Do(func() {
		close(s.done)
	})
}

func (s *Supervisor) ordered() []*ManagedJob {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*ManagedJob, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.jobs[name])
	}
	return out
}

// Status returns supervisor status
func (s *Supervisor) Status() Status {
	s.mu.RLock()
	st := Status{
		State:      s.state,
		StartedAt:  s.startedAt,
		FinishedAt: s.finishedAt,
		FailedBy:   s.failedBy,
	}
	s.mu.RUnlock()

	st.Counts = make(map[domain.JobState]int)
	for _, info := range s.Jobs() {
		st.Counts[info.State]++
		st.Total++
	}
	return st
}

// Status holds supervisor status information
type Status struct {
	State      string
	StartedAt  time.Time
	FinishedAt time.Time
	FailedBy   string
	Total      int
	Counts     map[domain.JobState]int
}

// UptimeSeconds returns seconds since the run started
func (st Status) UptimeSeconds() int64 {
	if st.StartedAt.IsZero() {
		return 0
	}
	end := time.Now()
	if !st.FinishedAt.IsZero() {
		end = st.FinishedAt
	}
	return int64(end.Sub(st.StartedAt).Seconds())
}

// Result returns the outcome of the run so far
func (s *Supervisor) Result() Result {
	s.mu.RLock()
	r := Result{StartedAt: s.startedAt}
	if !s.finishedAt.IsZero() {
		r.Duration = s.finishedAt.Sub(s.startedAt)
	}
	s.mu.RUnlock()

	r.Jobs = s.Jobs()
	for _, info := range r.Jobs {
		switch info.State {
		case domain.JobStateSucceeded:
			r.Succeeded++
		case domain.JobStateFailed:
			r.Failed++
		case domain.JobStateSignaled:
			r.Signaled++
		case domain.JobStateTimedOut:
			r.TimedOut++
		case domain.JobStateCanceled:
			r.Canceled++
		}
	}
	return r
}

// Result summarizes a finished run
type Result struct {
	Jobs      []domain.JobInfo
	Succeeded int
	Failed    int
	Signaled  int
	TimedOut  int
	Canceled  int
	StartedAt time.Time
	Duration  time.Duration
}

// ExitCode follows shell conventions: 0 when every job succeeded, 1 when
// any failed or timed out, 2 when any was signaled or canceled. The highest
// applicable code wins.
func (r Result) ExitCode() int {
	switch {
	case r.Signaled > 0 || r.Canceled > 0:
		return 2
	case r.Failed > 0 || r.TimedOut > 0:
		return 1
	default:
		return 0
	}
}

// Subscribe creates a channel for receiving supervisor events
func (s *Supervisor) Subscribe() <-chan Event {
	ch := make(chan Event, constants.DefaultSubscriptionBuffer)

	s.eventMu.Lock()
	s.eventSubs = append(s.eventSubs, ch)
	s.eventMu.Unlock()

	return ch
}

// Unsubscribe stops delivery to ch and closes it
func (s *Supervisor) Unsubscribe(ch <-chan Event) {
	s.eventMu.Lock()
	defer s.eventMu.Unlock()

	for i, sub := range s.eventSubs {
		if sub == ch {
			s.eventSubs = append(s.eventSubs[:i], s.eventSubs[i+1:]...)
			close(sub)
			return
		}
	}
}

func (s *Supervisor) notify(t EventType, info domain.JobInfo) {
	s.emit(Event{Type: t, Job: info.Name, Timestamp: time.Now(), Info: info})
}

// emit sends an event to all subscribers
func (s *Supervisor) emit(event Event) {
	s.eventMu.RLock()
	defer s.eventMu.RUnlock()

	for _, ch := range s.eventSubs {
		select {
		case ch <- event:
		default:
			// Channel full, skip
		}
	}
}
