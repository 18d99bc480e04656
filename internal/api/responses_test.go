package api

import (
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charliek/semrun/internal/domain"
	"github.com/charliek/semrun/internal/gate"
	"github.com/charliek/semrun/internal/supervisor"
)

func TestFilterSensitiveEnv(t *testing.T) {
	assert.Nil(t, filterSensitiveEnv(nil))

	filtered := filterSensitiveEnv(map[string]string{
		"STAGE":          "dev",
		"AWS_SECRET_KEY": "abc",
		"github_token":   "ghp",
		"PATH":           "/bin",
	})
	assert.Equal(t, map[string]string{
		"STAGE":          "dev",
		"AWS_SECRET_KEY": "[REDACTED]",
		"github_token":   "[REDACTED]",
		"PATH":           "/bin",
	}, filtered)
}

func TestToJobResponse(t *testing.T) {
	started := time.Now().Add(-2 * time.Second)

	t.Run("signaled", func(t *testing.T) {
		resp := ToJobResponse(domain.JobInfo{
			Name:       "killed.sh",
			State:      domain.JobStateSignaled,
			Attempts:   1,
			StartedAt:  started,
			FinishedAt: started.Add(1500 * time.Millisecond),
			Exit:       &domain.ExitStatus{Code: -1, Signal: syscall.SIGKILL, Signaled: true},
		})
		require.NotNil(t, resp.RC)
		assert.Equal(t, -9, *resp.RC)
		assert.Equal(t, "signal SIGKILL", resp.Exit)
		assert.Equal(t, int64(1500), resp.DurationMS)
	})

	t.Run("not started", func(t *testing.T) {
		resp := ToJobResponse(domain.JobInfo{Name: "later.sh", State: domain.JobStatePending})
		assert.Nil(t, resp.RC)
		assert.Empty(t, resp.Exit)
		assert.Zero(t, resp.DurationMS)
	})
}

func TestToJobDetailResponse(t *testing.T) {
	resp := ToJobDetailResponse(
		domain.JobInfo{Name: "backup.sh", State: domain.JobStatePending},
		domain.Job{Name: "backup.sh", Path: "/jobs/backup.sh", Args: []string{"--full"}, Timeout: time.Hour, Retries: 2},
	)
	assert.Equal(t, "/jobs/backup.sh", resp.Path)
	assert.Equal(t, []string{"--full"}, resp.Args)
	assert.Equal(t, "1h0m0s", resp.Timeout)
	assert.Equal(t, 2, resp.Retries)
	assert.Empty(t, resp.StartedAt)
}

func TestToGateResponse(t *testing.T) {
	resp := ToGateResponse(gate.Info{Kind: gate.KindSysV, Key: 0x5300beef, ID: 7, Capacity: 4, Available: 1, Held: 2, Waiters: 3})
	assert.Equal(t, "0x5300beef", resp.Key)
	assert.Equal(t, 3, resp.InUse)
	assert.Equal(t, 7, resp.ID)
	assert.Equal(t, 3, resp.Waiters)

	local := ToGateResponse(gate.Info{Kind: gate.KindLocal, Capacity: 1, Available: 1})
	assert.Empty(t, local.Key)
	assert.Zero(t, local.InUse)
}

func TestToStatusResponse(t *testing.T) {
	resp := ToStatusResponse(supervisor.Status{
		State:  supervisor.StateFinished,
		Total:  3,
		Counts: map[domain.JobState]int{domain.JobStateSucceeded: 2, domain.JobStateFailed: 1},
	})
	assert.Equal(t, "finished", resp.Status)
	assert.Equal(t, 2, resp.Counts["succeeded"])
	assert.Equal(t, 1, resp.Counts["failed"])
	assert.Equal(t, "v1", resp.APIVersion)
}

func TestToLogEntryResponse(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 6, time.UTC)
	resp := ToLogEntryResponse(domain.LogEntry{Timestamp: ts, Job: "a.sh", Stream: domain.StreamStderr, Line: "oops"})
	assert.Equal(t, "2024-01-02T03:04:05.000000006Z", resp.Timestamp)
	assert.Equal(t, "stderr", resp.Stream)
	assert.Equal(t, "a.sh", resp.Job)
}
