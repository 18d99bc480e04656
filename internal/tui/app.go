package tui

import (
	"context"
	"errors"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/charliek/semrun/internal/domain"
	"github.com/charliek/semrun/internal/logs"
)

// Run shows the TUI until the user quits. Quitting does not stop the run;
// the caller does that once Run returns.
func Run(ctx context.Context, backend Backend, logMgr *logs.Manager) error {
	model := NewModel(backend)
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))

	fwdCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Replay what was logged before the TUI started
	earlier, _, _ := logMgr.QueryLast(domain.LogFilter{}, maxLogEntries)

	subID, ch, err := logMgr.Subscribe(domain.LogFilter{})
	if err != nil {
		// Shown as a system line so the user sees feedback
		go p.Send(LogEntryMsg(domain.LogEntry{
			Timestamp: time.Now(),
			Job:       "semrun",
			Stream:    domain.StreamSystem,
			Line:      "Error subscribing to logs: " + err.Error(),
		}))
	} else {
		defer logMgr.Unsubscribe(subID)
		go forwardLogs(fwdCtx, p, earlier, ch)
	}

	_, err = p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// forwardLogs forwards log entries from the subscription channel to the TUI program.
// It exits when the context is cancelled or the channel is closed.
func forwardLogs(ctx context.Context, p *tea.Program, earlier []domain.LogEntry, ch <-chan domain.LogEntry) {
	for _, entry := range earlier {
		p.Send(LogEntryMsg(entry))
	}
	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-ch:
			if !ok {
				return
			}
			p.Send(LogEntryMsg(entry))
		}
	}
}
