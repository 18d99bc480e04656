package supervisor

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/charliek/semrun/internal/domain"
)

// fakeScript describes how one fake attempt behaves
type fakeScript struct {
	exit       domain.ExitStatus
	runFor     time.Duration
	ignoreTerm bool
	startErr   error
	stdout     string
	stderr     string
}

// fakeRunner starts fake processes and tracks how many run at once
type fakeRunner struct {
	mu      sync.Mutex
	script  func(job domain.Job, attempt int) fakeScript
	nextPID int
	running int
	peak    int
	starts  map[string]int
	procs   []*fakeProcess
}

func newFakeRunner(script func(job domain.Job, attempt int) fakeScript) *fakeRunner {
	return &fakeRunner{script: script, nextPID: 1000, starts: make(map[string]int)}
}

func (r *fakeRunner) Start(ctx context.Context, job domain.Job, attempt int) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sc := r.script(job, attempt)
	if sc.startErr != nil {
		return nil, sc.startErr
	}

	r.mu.Lock()
	r.nextPID++
	r.running++
	if r.running > r.peak {
		r.peak = r.running
	}
	r.starts[job.Name]++
	p := &fakeProcess{
		pid:    r.nextPID,
		script: sc,
		exitCh: make(chan domain.ExitStatus, 1),
		onExit: r.exited,
	}
	r.procs = append(r.procs, p)
	r.mu.Unlock()

	p.mu.Lock()
	p.timer = time.AfterFunc(sc.runFor, func() { p.exit(sc.exit) })
	p.mu.Unlock()
	return p, nil
}

func (r *fakeRunner) exited() {
	r.mu.Lock()
	r.running--
	r.mu.Unlock()
}

func (r *fakeRunner) Peak() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peak
}

func (r *fakeRunner) Starts(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.starts[name]
}

func (r *fakeRunner) Signals() [][]syscall.Signal {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]syscall.Signal, len(r.procs))
	for i, p := range r.procs {
		out[i] = p.Signals()
	}
	return out
}

type fakeProcess struct {
	pid    int
	script fakeScript
	exitCh chan domain.ExitStatus
	timer  *time.Timer
	onExit func()

	mu      sync.Mutex
	exited  bool
	signals []syscall.Signal
}

func (p *fakeProcess) exit(status domain.ExitStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exited {
		return
	}
	p.exited = true
	if p.timer != nil {
		p.timer.Stop()
	}
	p.onExit()
	p.exitCh <- status
}

func (p *fakeProcess) PID() int { return p.pid }

func (p *fakeProcess) Wait() (domain.ExitStatus, error) {
	return <-p.exitCh, nil
}

func (p *fakeProcess) Signal(sig syscall.Signal) error {
	p.mu.Lock()
	if p.exited {
		p.mu.Unlock()
		return os.ErrProcessDone
	}
	if sig == 0 {
		p.mu.Unlock()
		return nil
	}
	p.signals = append(p.signals, sig)
	p.mu.Unlock()

	switch {
	case sig == syscall.SIGKILL:
		p.exit(domain.ExitStatus{Code: -1, Signal: sig, Signaled: true})
	case sig == syscall.SIGTERM && !p.script.ignoreTerm:
		p.exit(domain.ExitStatus{Code: -1, Signal: sig, Signaled: true})
	}
	return nil
}

func (p *fakeProcess) Signals() []syscall.Signal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]syscall.Signal(nil), p.signals...)
}

func (p *fakeProcess) Stdout() io.Reader { return strings.NewReader(p.script.stdout) }
func (p *fakeProcess) Stderr() io.Reader { return strings.NewReader(p.script.stderr) }
