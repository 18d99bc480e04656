package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/charliek/semrun/internal/domain"
)

// View renders the TUI
func (m Model) View() string {
	if !m.ready {
		return "Initializing..."
	}
	if m.mode == ModeHelp {
		return m.helpView()
	}

	var sb strings.Builder
	sb.WriteString(m.jobTable())
	sb.WriteString("\n")
	sb.WriteString(dimStyle.Render(strings.Repeat("─", max(m.width, 1))))
	sb.WriteString("\n")
	sb.WriteString(m.viewport.View())
	sb.WriteString("\n")
	sb.WriteString(m.statusBar())
	return sb.String()
}

const tableRowFormat = "%-24s %-10s %7s %4s %9s  %s"

// jobTable renders the job table, scrolled so the selection stays visible
func (m Model) jobTable() string {
	header := fmt.Sprintf(tableRowFormat, "JOB", "STATE", "PID", "TRY", "TIME", "LAST")
	lines := []string{tableHeaderStyle.Width(max(m.width, lipgloss.Width(header))).Render(header)}

	start := 0
	if m.selected >= maxTableRows {
		start = m.selected - maxTableRows + 1
	}
	end := min(start+maxTableRows, len(m.jobs))

	for i := start; i < end; i++ {
		lines = append(lines, m.jobRow(i))
	}
	return strings.Join(lines, "\n")
}

func (m Model) jobRow(i int) string {
	job := m.jobs[i]

	name := truncate(job.Name, 24)
	if m.soloJob == job.Name {
		name = truncate("["+job.Name+"]", 24)
	}

	pid := "-"
	if job.State == domain.JobStateRunning && job.PID > 0 {
		pid = fmt.Sprintf("%d", job.PID)
	}

	last := ""
	switch {
	case job.Error != "":
		last = job.Error
	case job.Exit != nil:
		last = job.Exit.String()
	}

	// Pad before styling so escape codes do not break the columns
	state := stateStyle(job.State).Render(fmt.Sprintf("%-10s", job.State))
	row := fmt.Sprintf("%-24s %s %7s %4d %9s  %s",
		name, state, pid, job.Attempts, formatDuration(job.Duration()), last)

	if i == m.selected {
		return selectedRowStyle.Width(max(m.width, 1)).Render(row)
	}
	return row
}

// statusBar renders the bottom status bar
func (m Model) statusBar() string {
	var left string
	switch {
	case m.mode == ModeSearch:
		left = "Filter: " + m.textInput.View()
	case m.lastCancelJob != "" && m.lastCancelError != nil:
		left = "Cancel failed: " + truncate(m.lastCancelError.Error(), maxErrorDisplayLen)
	case m.lastCancelJob != "":
		left = "Canceled: " + m.lastCancelJob
	case m.soloJob != "":
		left = fmt.Sprintf("Showing: %s (ESC to clear)", m.soloJob)
	case m.searchPattern != "":
		left = fmt.Sprintf("Filter: %s (ESC to clear)", m.searchPattern)
	case m.finished:
		left = "Run finished, q to exit"
	default:
		left = "c: cancel | ?: help"
	}

	followIndicator := "[FOLLOW]"
	if !m.followMode {
		followIndicator = "[PAUSED]"
	}
	right := fmt.Sprintf("%s %s %d/%d lines", m.summary(), followIndicator, len(m.filteredEntries()), len(m.logEntries))

	leftWidth := max(m.width-lipgloss.Width(right)-4, 0)
	leftPart := statusStyle.Width(leftWidth).Render(left)
	rightPart := statusStyle.Render(right)

	return lipgloss.JoinHorizontal(lipgloss.Top, leftPart, "  ", rightPart)
}

// summary counts finished jobs, e.g. "3/5 done"
func (m Model) summary() string {
	done := 0
	for _, job := range m.jobs {
		if job.State.IsTerminal() {
			done++
		}
	}
	return fmt.Sprintf("%d/%d done", done, len(m.jobs))
}

// formatLogEntry formats a single log entry for display
func (m Model) formatLogEntry(entry domain.LogEntry) string {
	ts := dimStyle.Render(entry.Timestamp.Format("15:04:05"))
	prefix := m.jobStyle(entry.Job).Render(fmt.Sprintf("%-16s", truncate(entry.Job, 16)))

	switch entry.Stream {
	case domain.StreamStderr:
		return fmt.Sprintf("%s %s%s %s", ts, prefix, errorStyle.Render(" ERR "), entry.Line)
	case domain.StreamSystem:
		return fmt.Sprintf("%s %s %s", ts, prefix, dimStyle.Render(entry.Line))
	default:
		return fmt.Sprintf("%s %s %s", ts, prefix, entry.Line)
	}
}

// jobStyle returns the log color of a job, stable by table position
func (m Model) jobStyle(name string) lipgloss.Style {
	for i, job := range m.jobs {
		if job.Name == name {
			return jobColors[i%len(jobColors)]
		}
	}
	return defaultJobStyle
}

// stateStyle returns style based on job state
func stateStyle(state domain.JobState) lipgloss.Style {
	switch state {
	case domain.JobStateRunning:
		return runningStyle
	case domain.JobStatePending:
		return pendingStyle
	case domain.JobStateWaiting:
		return waitingStyle
	case domain.JobStateSucceeded:
		return succeededStyle
	case domain.JobStateFailed, domain.JobStateSignaled, domain.JobStateTimedOut:
		return failedStyle
	case domain.JobStateCanceled:
		return canceledStyle
	default:
		return defaultJobStyle
	}
}

// helpView renders the help overlay
func (m Model) helpView() string {
	help := `
semrun - Job Runner

Jobs:
  ↑/k ↓/j    Select job
  Enter      Show only the selected job's output (toggle)
  c          Cancel selected job

Output:
  PgUp/PgDn  Scroll (PgUp pauses auto-follow)
  g/Home     Go to top (pauses auto-follow)
  G/End      Go to bottom (resumes auto-follow)
  f          Toggle auto-follow
  /          Filter lines (substring)
  ESC        Clear filters

Other:
  ?          Toggle help
  q/Ctrl+C   Quit (stops the run)

Press any key to close help...
`
	return helpStyle.Render(help)
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	if d < time.Minute {
		return d.Truncate(100 * time.Millisecond).String()
	}
	return d.Truncate(time.Second).String()
}

// truncate shortens s to maxLen characters
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
