package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/charliek/semrun/internal/domain"
)

// nearBottomThreshold is the scroll percentage (0.0-1.0) at which we consider
// the viewport to be "near" the bottom for auto-follow purposes.
const nearBottomThreshold = 0.98

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.handleWindowSize(msg)
		m.updateViewport()

	case LogEntryMsg:
		m.handleLogEntry(domain.LogEntry(msg))

	case TickMsg:
		m.refreshJobs()
		cmds = append(cmds, tickCmd())

	case RunFinishedMsg:
		m.finished = true
		m.refreshJobs()

	case CancelResultMsg:
		m.lastCancelJob = msg.Job
		m.lastCancelError = msg.Err
		m.refreshJobs()
		cmds = append(cmds, cancelResultClearCmd())

	case CancelResultClearMsg:
		m.lastCancelJob = ""
		m.lastCancelError = nil
	}

	// Mouse wheel and other viewport messages
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	// Cursor blink while typing a filter
	if m.mode == ModeSearch {
		m.textInput, cmd = m.textInput.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m *Model) refreshJobs() {
	m.jobs = m.backend.Jobs()
	if m.selected >= len(m.jobs) {
		m.selected = max(len(m.jobs)-1, 0)
	}
}

// handleKey processes keyboard input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch m.mode {
	case ModeSearch:
		cmd := m.handleSearchKey(msg)
		return m, cmd
	case ModeHelp:
		// Any key closes help
		m.mode = ModeNormal
		return m, nil
	}

	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit

	case "c":
		name := m.selectedJob()
		if name == "" {
			return m, nil
		}
		backend := m.backend
		return m, func() tea.Msg {
			return CancelResultMsg{Job: name, Err: backend.Cancel(name)}
		}

	case "up", "k":
		if m.selected > 0 {
			m.selected--
		}

	case "down", "j":
		if m.selected < len(m.jobs)-1 {
			m.selected++
		}

	case "enter":
		// Solo the selected job's output (toggle)
		name := m.selectedJob()
		if m.soloJob == name {
			m.soloJob = ""
		} else {
			m.soloJob = name
		}
		m.updateViewport()

	case "f":
		m.followMode = !m.followMode
		if m.followMode {
			m.viewport.GotoBottom()
		}

	case "/":
		m.mode = ModeSearch
		m.textInput.SetValue(m.searchPattern)
		m.textInput.Focus()

	case "?":
		m.mode = ModeHelp

	case "esc":
		m.soloJob = ""
		m.searchPattern = ""
		m.updateViewport()

	case "pgup":
		m.viewport.HalfViewUp()
		m.followMode = false

	case "pgdown":
		m.viewport.HalfViewDown()
		if m.viewport.AtBottom() {
			m.followMode = true
		}

	case "home", "g":
		m.viewport.GotoTop()
		m.followMode = false

	case "end", "G":
		m.viewport.GotoBottom()
		m.followMode = true
	}

	return m, nil
}

// handleSearchKey filters log lines live as the pattern is typed
func (m *Model) handleSearchKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "esc":
		m.mode = ModeNormal
		m.textInput.Blur()
		m.searchPattern = ""
		m.updateViewport()
		return nil

	case "enter":
		m.mode = ModeNormal
		m.textInput.Blur()
		m.searchPattern = m.textInput.Value()
		m.updateViewport()
		return nil
	}

	var cmd tea.Cmd
	m.textInput, cmd = m.textInput.Update(msg)
	m.searchPattern = m.textInput.Value()
	m.updateViewport()
	return cmd
}

// handleWindowSize sizes the viewport below the job table
func (m *Model) handleWindowSize(msg tea.WindowSizeMsg) {
	m.width = msg.Width
	m.height = msg.Height

	headerHeight := m.tableHeight() + 1 // Table plus separator
	footerHeight := 1                   // Status bar
	viewportHeight := max(msg.Height-headerHeight-footerHeight, 1)

	if !m.ready {
		m.viewport = viewport.New(msg.Width, viewportHeight)
		m.viewport.YPosition = headerHeight
		m.ready = true
	} else {
		m.viewport.Width = msg.Width
		m.viewport.Height = viewportHeight
	}
}

// handleLogEntry appends a line, keeping the view pinned to the bottom when
// following
func (m *Model) handleLogEntry(entry domain.LogEntry) {
	// Check if we're at/near bottom BEFORE adding new content
	wasNearBottom := m.isNearBottom()

	m.logEntries = append(m.logEntries, entry)
	// Keep only last entries - copy to release memory from old entries
	if len(m.logEntries) > maxLogEntries {
		newEntries := make([]domain.LogEntry, maxLogEntries)
		copy(newEntries, m.logEntries[len(m.logEntries)-maxLogEntries:])
		m.logEntries = newEntries
	}
	m.updateViewport()

	if wasNearBottom {
		m.followMode = true
	}
	if m.followMode {
		m.viewport.GotoBottom()
	}
}

// isNearBottom checks if the viewport is at or near the bottom
func (m *Model) isNearBottom() bool {
	if !m.ready {
		return true
	}
	if m.viewport.AtBottom() {
		return true
	}
	return m.viewport.ScrollPercent() >= nearBottomThreshold
}

// updateViewport updates the viewport content
func (m *Model) updateViewport() {
	entries := m.filteredEntries()
	lines := make([]string, 0, len(entries))
	for _, entry := range entries {
		lines = append(lines, m.formatLogEntry(entry))
	}
	m.viewport.SetContent(strings.Join(lines, "\n"))
}

// filteredEntries returns log entries after applying filters
func (m *Model) filteredEntries() []domain.LogEntry {
	if m.soloJob == "" && m.searchPattern == "" {
		return m.logEntries
	}

	var result []domain.LogEntry
	for _, entry := range m.logEntries {
		if m.soloJob != "" && entry.Job != m.soloJob {
			continue
		}
		if m.searchPattern != "" && !containsIgnoreCase(entry.Line, m.searchPattern) {
			continue
		}
		result = append(result, entry)
	}
	return result
}

// containsIgnoreCase performs a case-insensitive substring search
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
