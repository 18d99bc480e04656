package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestJobState_IsTerminal(t *testing.T) {
	tests := []struct {
		state JobState
		want  bool
	}{
		{JobStatePending, false},
		{JobStateWaiting, false},
		{JobStateRunning, false},
		{JobStateSucceeded, true},
		{JobStateFailed, true},
		{JobStateSignaled, true},
		{JobStateTimedOut, true},
		{JobStateCanceled, true},
	}

	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.state.IsTerminal())
		})
	}
}

func TestJobState_Retryable(t *testing.T) {
	assert.True(t, JobStateFailed.Retryable())
	assert.True(t, JobStateSignaled.Retryable())
	assert.True(t, JobStateTimedOut.Retryable())
	assert.False(t, JobStateCanceled.Retryable())
	assert.False(t, JobStateSucceeded.Retryable())
}

func TestJobState_IsActive(t *testing.T) {
	assert.True(t, JobStateWaiting.IsActive())
	assert.True(t, JobStateRunning.IsActive())
	assert.False(t, JobStatePending.IsActive())
	assert.False(t, JobStateFailed.IsActive())
}

func TestJobInfo_Duration(t *testing.T) {
	t.Run("zero when never started", func(t *testing.T) {
		assert.Equal(t, time.Duration(0), JobInfo{}.Duration())
	})

	t.Run("finished job", func(t *testing.T) {
		start := time.Now().Add(-time.Minute)
		info := JobInfo{StartedAt: start, FinishedAt: start.Add(3 * time.Second)}
		assert.Equal(t, 3*time.Second, info.Duration())
	})

	t.Run("running job grows", func(t *testing.T) {
		info := JobInfo{StartedAt: time.Now().Add(-2 * time.Second)}
		assert.GreaterOrEqual(t, info.Duration(), 2*time.Second)
	})
}
