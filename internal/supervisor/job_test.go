package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/charliek/semrun/internal/domain"
	"github.com/charliek/semrun/internal/gate"
	"github.com/charliek/semrun/internal/logs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJob(t *testing.T, job domain.Job, runner ProcessRunner, g gate.Gate) *ManagedJob {
	t.Helper()
	logMgr := logs.NewManager(logs.ManagerConfig{BufferSize: 100})
	t.Cleanup(func() { logMgr.Close() })
	return NewManagedJob(job, runner, g, logMgr, time.Millisecond, nil, nil)
}

func TestManagedJob_CancelBeforeRun(t *testing.T) {
	runner := newFakeRunner(func(job domain.Job, attempt int) fakeScript { return fakeScript{} })
	mj := newTestJob(t, domain.Job{Name: "a"}, runner, gate.NewLocal(1))

	assert.Equal(t, domain.JobStatePending, mj.State())
	require.NoError(t, mj.Cancel())

	info := mj.Run(context.Background())
	assert.Equal(t, domain.JobStateCanceled, info.State)
	assert.Equal(t, 0, info.Attempts)
	assert.Equal(t, 0, runner.Starts("a"))

	select {
	case <-mj.Done():
	default:
		t.Fatal("done channel should be closed")
	}
}

func TestManagedJob_DefaultKillGrace(t *testing.T) {
	mj := newTestJob(t, domain.Job{Name: "a"}, newFakeRunner(nil), gate.NewLocal(1))
	assert.Equal(t, 5*time.Second, mj.Job().KillGrace)
}

func TestManagedJob_SignalRequiresRunning(t *testing.T) {
	mj := newTestJob(t, domain.Job{Name: "a"}, newFakeRunner(nil), gate.NewLocal(1))
	assert.ErrorIs(t, mj.Signal(1), domain.ErrJobNotRunning)
}

func TestManagedJob_HoldsSlotOnlyWhileRunning(t *testing.T) {
	g := gate.NewLocal(1)
	release := make(chan struct{})

	runner := newFakeRunner(func(job domain.Job, attempt int) fakeScript {
		return fakeScript{runFor: time.Hour}
	})
	mj := newTestJob(t, domain.Job{Name: "a", KillGrace: 10 * time.Millisecond}, runner, g)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-release
		cancel()
	}()

	done := make(chan domain.JobInfo, 1)
	go func() { done <- mj.Run(ctx) }()

	require.Eventually(t, func() bool {
		return mj.State() == domain.JobStateRunning
	}, 2*time.Second, 5*time.Millisecond)

	info, _ := g.Info()
	assert.Equal(t, 1, info.Held)
	assert.Greater(t, mj.Info().PID, 0)

	close(release)
	final := <-done
	assert.Equal(t, domain.JobStateCanceled, final.State)
	assert.Equal(t, 0, final.PID)

	info, _ = g.Info()
	assert.Equal(t, 0, info.Held)
}
