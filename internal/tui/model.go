package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/charliek/semrun/internal/domain"
)

// maxLogEntries is the maximum number of log entries to keep in memory
const maxLogEntries = 1000

// maxTableRows is the number of job rows shown before the table scrolls
const maxTableRows = 10

// maxErrorDisplayLen is the maximum length of error messages in the status bar
const maxErrorDisplayLen = 60

// Mode represents the current TUI mode
type Mode int

const (
	ModeNormal Mode = iota
	ModeSearch
	ModeHelp
)

// Backend is the run shown by the TUI
type Backend interface {
	Jobs() []domain.JobInfo
	Cancel(name string) error
	// Done is closed when every job is terminal
	Done() <-chan struct{}
}

// Model is the bubbletea model for the TUI
type Model struct {
	backend Backend

	// State
	jobs       []domain.JobInfo
	logEntries []domain.LogEntry
	selected   int
	finished   bool

	// UI components
	viewport  viewport.Model
	textInput textinput.Model

	mode Mode

	// Filtering
	soloJob       string // Only show lines of this job
	searchPattern string // Substring filter on log lines

	// Auto-scroll to bottom on new logs
	followMode bool

	// Last cancel result for feedback
	lastCancelJob   string
	lastCancelError error

	// Dimensions
	width  int
	height int
	ready  bool
}

// NewModel creates a new TUI model
func NewModel(backend Backend) Model {
	ti := textinput.New()
	ti.Placeholder = "Type to filter..."
	ti.CharLimit = 100
	ti.Width = 40

	return Model{
		backend:    backend,
		jobs:       backend.Jobs(),
		logEntries: make([]domain.LogEntry, 0),
		textInput:  ti,
		mode:       ModeNormal,
		followMode: true,
	}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		waitForRun(m.backend.Done()),
	)
}

// LogEntryMsg is sent when a new log entry arrives
type LogEntryMsg domain.LogEntry

// TickMsg is sent periodically to refresh the job table
type TickMsg time.Time

// RunFinishedMsg is sent once every job is terminal
type RunFinishedMsg struct{}

// CancelResultMsg is sent when a cancel request completes
type CancelResultMsg struct {
	Job string
	Err error
}

// CancelResultClearMsg is sent to clear the cancel result after a delay
type CancelResultClearMsg struct{}

// cancelResultClearDelay is how long to show a cancel result before clearing
const cancelResultClearDelay = 3 * time.Second

func cancelResultClearCmd() tea.Cmd {
	return tea.Tick(cancelResultClearDelay, func(t time.Time) tea.Msg {
		return CancelResultClearMsg{}
	})
}

// tickCmd returns a command that ticks periodically
func tickCmd() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func waitForRun(done <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		<-done
		return RunFinishedMsg{}
	}
}

// selectedJob returns the name of the highlighted job or ""
func (m Model) selectedJob() string {
	if m.selected < 0 || m.selected >= len(m.jobs) {
		return ""
	}
	return m.jobs[m.selected].Name
}

// tableHeight is the number of lines taken by the job table, header included
func (m Model) tableHeight() int {
	return min(len(m.jobs), maxTableRows) + 1
}
