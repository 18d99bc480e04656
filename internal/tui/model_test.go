package tui

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charliek/semrun/internal/domain"
)

type fakeBackend struct {
	mu        sync.Mutex
	jobs      []domain.JobInfo
	canceled  []string
	cancelErr error
	done      chan struct{}
}

func newFakeBackend(names ...string) *fakeBackend {
	b := &fakeBackend{done: make(chan struct{})}
	for _, name := range names {
		b.jobs = append(b.jobs, domain.JobInfo{Name: name, State: domain.JobStatePending})
	}
	return b
}

func (b *fakeBackend) Jobs() []domain.JobInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.JobInfo(nil), b.jobs...)
}

func (b *fakeBackend) Cancel(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.canceled = append(b.canceled, name)
	return b.cancelErr
}

func (b *fakeBackend) Done() <-chan struct{} {
	return b.done
}

func (b *fakeBackend) setState(name string, state domain.JobState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.jobs {
		if b.jobs[i].Name == name {
			b.jobs[i].State = state
		}
	}
}

func newTestModel(names ...string) (Model, *fakeBackend) {
	if len(names) == 0 {
		names = []string{"a.sh", "b.sh", "c.sh"}
	}
	backend := newFakeBackend(names...)
	return NewModel(backend), backend
}

func sized(m Model) Model {
	out, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	return out.(Model)
}

func press(m Model, key string) (Model, tea.Cmd) {
	var msg tea.KeyMsg
	switch key {
	case "enter":
		msg = tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		msg = tea.KeyMsg{Type: tea.KeyEscape}
	case "up":
		msg = tea.KeyMsg{Type: tea.KeyUp}
	case "down":
		msg = tea.KeyMsg{Type: tea.KeyDown}
	default:
		msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)}
	}
	out, cmd := m.Update(msg)
	return out.(Model), cmd
}

func logEntry(job, line string) LogEntryMsg {
	return LogEntryMsg(domain.LogEntry{Timestamp: time.Now(), Job: job, Stream: domain.StreamStdout, Line: line})
}

func TestNewModel(t *testing.T) {
	model, _ := newTestModel()

	assert.Equal(t, ModeNormal, model.mode)
	assert.False(t, model.ready)
	assert.True(t, model.followMode)
	assert.Len(t, model.jobs, 3)
	assert.Empty(t, model.logEntries)
	assert.Equal(t, "Initializing...", model.View())
	assert.NotNil(t, model.Init())
}

func TestModel_WindowSize(t *testing.T) {
	model, _ := newTestModel()
	model = sized(model)

	assert.True(t, model.ready)
	assert.Equal(t, 100, model.width)
	// 3 rows + header, separator, status bar
	assert.Equal(t, 30-4-1-1, model.viewport.Height)

	out, _ := model.Update(tea.WindowSizeMsg{Width: 80, Height: 3})
	model = out.(Model)
	assert.Equal(t, 1, model.viewport.Height)
	assert.Equal(t, 80, model.viewport.Width)
}

func TestModel_Quit(t *testing.T) {
	model, _ := newTestModel()

	_, cmd := press(model, "q")
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}

func TestModel_Selection(t *testing.T) {
	model, _ := newTestModel()
	assert.Equal(t, "a.sh", model.selectedJob())

	model, _ = press(model, "up")
	assert.Equal(t, 0, model.selected)

	model, _ = press(model, "down")
	model, _ = press(model, "j")
	assert.Equal(t, "c.sh", model.selectedJob())

	model, _ = press(model, "down")
	assert.Equal(t, 2, model.selected)

	model, _ = press(model, "k")
	assert.Equal(t, "b.sh", model.selectedJob())
}

func TestModel_Cancel(t *testing.T) {
	model, backend := newTestModel()
	model = sized(model)
	model, _ = press(model, "down")

	model, cmd := press(model, "c")
	require.NotNil(t, cmd)
	msg := cmd()
	assert.Equal(t, CancelResultMsg{Job: "b.sh"}, msg)
	assert.Equal(t, []string{"b.sh"}, backend.canceled)

	out, _ := model.Update(msg)
	model = out.(Model)
	assert.Contains(t, model.statusBar(), "Canceled: b.sh")

	out, _ = model.Update(CancelResultClearMsg{})
	model = out.(Model)
	assert.Empty(t, model.lastCancelJob)
}

func TestModel_CancelError(t *testing.T) {
	model, backend := newTestModel()
	model = sized(model)
	backend.cancelErr = domain.ErrJobNotRunning

	_, cmd := press(model, "c")
	out, _ := model.Update(cmd())
	model = out.(Model)

	assert.True(t, errors.Is(model.lastCancelError, domain.ErrJobNotRunning))
	assert.Contains(t, model.statusBar(), "Cancel failed")
}

func TestModel_NoJobs(t *testing.T) {
	model := NewModel(&fakeBackend{done: make(chan struct{})})
	assert.Empty(t, model.selectedJob())

	_, cmd := press(model, "c")
	assert.Nil(t, cmd)
}

func TestModel_ToggleFollow(t *testing.T) {
	model, _ := newTestModel()
	model = sized(model)

	model, _ = press(model, "f")
	assert.False(t, model.followMode)
	assert.Contains(t, model.statusBar(), "[PAUSED]")

	model, _ = press(model, "f")
	assert.True(t, model.followMode)
	assert.Contains(t, model.statusBar(), "[FOLLOW]")
}

func TestModel_LogEntries(t *testing.T) {
	model, _ := newTestModel()
	model = sized(model)

	for i := 0; i < maxLogEntries+10; i++ {
		out, _ := model.Update(logEntry("a.sh", fmt.Sprintf("line %d", i)))
		model = out.(Model)
	}

	require.Len(t, model.logEntries, maxLogEntries)
	assert.Equal(t, "line 10", model.logEntries[0].Line)
	assert.True(t, model.viewport.AtBottom())
}

func TestModel_SoloJob(t *testing.T) {
	model, _ := newTestModel()
	model = sized(model)

	for _, msg := range []LogEntryMsg{logEntry("a.sh", "from a"), logEntry("b.sh", "from b")} {
		out, _ := model.Update(msg)
		model = out.(Model)
	}

	model, _ = press(model, "down")
	model, _ = press(model, "enter")
	assert.Equal(t, "b.sh", model.soloJob)
	entries := model.filteredEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, "from b", entries[0].Line)

	// Pressing enter again shows everything
	model, _ = press(model, "enter")
	assert.Empty(t, model.soloJob)
	assert.Len(t, model.filteredEntries(), 2)
}

func TestModel_Search(t *testing.T) {
	model, _ := newTestModel()
	model = sized(model)

	for _, msg := range []LogEntryMsg{logEntry("a.sh", "Connected"), logEntry("a.sh", "timeout")} {
		out, _ := model.Update(msg)
		model = out.(Model)
	}

	model, _ = press(model, "/")
	assert.Equal(t, ModeSearch, model.mode)

	model, _ = press(model, "conn")
	assert.Equal(t, "conn", model.searchPattern)
	assert.Len(t, model.filteredEntries(), 1)

	model, _ = press(model, "enter")
	assert.Equal(t, ModeNormal, model.mode)
	assert.Equal(t, "conn", model.searchPattern)

	model, _ = press(model, "esc")
	assert.Empty(t, model.searchPattern)
	assert.Len(t, model.filteredEntries(), 2)
}

func TestModel_Help(t *testing.T) {
	model, _ := newTestModel()
	model = sized(model)

	model, _ = press(model, "?")
	assert.Equal(t, ModeHelp, model.mode)
	assert.Contains(t, model.View(), "Cancel selected job")

	// Any key closes help without acting on it
	model, cmd := press(model, "q")
	assert.Equal(t, ModeNormal, model.mode)
	assert.Nil(t, cmd)
}

func TestModel_TickRefreshesJobs(t *testing.T) {
	model, backend := newTestModel()
	model = sized(model)

	backend.setState("a.sh", domain.JobStateRunning)
	out, cmd := model.Update(TickMsg(time.Now()))
	model = out.(Model)

	assert.NotNil(t, cmd)
	assert.Equal(t, domain.JobStateRunning, model.jobs[0].State)
}

func TestModel_RunFinished(t *testing.T) {
	model, backend := newTestModel("a.sh")
	model = sized(model)

	backend.setState("a.sh", domain.JobStateSucceeded)
	close(backend.done)

	msg := waitForRun(backend.Done())()
	out, _ := model.Update(msg)
	model = out.(Model)

	assert.True(t, model.finished)
	assert.Contains(t, model.statusBar(), "Run finished")
	assert.Contains(t, model.statusBar(), "1/1 done")
}

func TestModel_View(t *testing.T) {
	model, backend := newTestModel()
	backend.mu.Lock()
	backend.jobs[0].State = domain.JobStateFailed
	backend.jobs[0].Attempts = 2
	backend.jobs[0].Exit = &domain.ExitStatus{Code: 3}
	backend.mu.Unlock()

	model = sized(model)
	out, _ := model.Update(TickMsg(time.Now()))
	model = out.(Model)

	view := model.View()
	assert.Contains(t, view, "JOB")
	assert.Contains(t, view, "a.sh")
	assert.Contains(t, view, "failed")
	assert.Contains(t, view, "exit 3")
	assert.Contains(t, view, "c.sh")
}

func TestJobTable_ScrollsToSelection(t *testing.T) {
	names := make([]string, maxTableRows+5)
	for i := range names {
		names[i] = fmt.Sprintf("job-%02d.sh", i)
	}
	model, _ := newTestModel(names...)
	model = sized(model)
	assert.Equal(t, maxTableRows+1, model.tableHeight())

	for i := 0; i < maxTableRows+2; i++ {
		model, _ = press(model, "down")
	}

	table := model.jobTable()
	assert.Contains(t, table, names[maxTableRows+2])
	assert.NotContains(t, table, names[0])
	assert.Len(t, strings.Split(table, "\n"), maxTableRows+1)
}

func TestStateStyle(t *testing.T) {
	assert.Equal(t, runningStyle, stateStyle(domain.JobStateRunning))
	assert.Equal(t, failedStyle, stateStyle(domain.JobStateTimedOut))
	assert.Equal(t, canceledStyle, stateStyle(domain.JobStateCanceled))
	assert.Equal(t, defaultJobStyle, stateStyle(domain.JobState("bogus")))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "a-very...", truncate("a-very-long-name", 9))
	assert.Equal(t, "ab", truncate("abcdef", 2))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "-", formatDuration(0))
	assert.Equal(t, "1.5s", formatDuration(1530*time.Millisecond))
	assert.Equal(t, "2m5s", formatDuration(2*time.Minute+5*time.Second+300*time.Millisecond))
}
