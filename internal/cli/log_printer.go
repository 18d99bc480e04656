package cli

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charliek/semrun/internal/api"
	"github.com/charliek/semrun/internal/constants"
	"github.com/charliek/semrun/internal/domain"
)

// LogPrinter handles consistent log formatting and color assignment
type LogPrinter struct {
	mu         sync.Mutex
	w          io.Writer
	color      bool
	width      int
	colors     map[string]string
	colorIndex int
}

// NewLogPrinter creates a LogPrinter writing to w. Colors are used when w
// is a terminal and NO_COLOR is unset.
func NewLogPrinter(w io.Writer) *LogPrinter {
	return &LogPrinter{
		w:      w,
		color:  useColor(w),
		width:  8,
		colors: make(map[string]string),
	}
}

// SetWidth pads job names to n characters
func (lp *LogPrinter) SetWidth(n int) {
	lp.mu.Lock()
	lp.width = n
	lp.mu.Unlock()
}

// PrintEntry prints a log entry with consistent color assignment
func (lp *LogPrinter) PrintEntry(entry domain.LogEntry) {
	lp.print(entry.Timestamp, entry.Job, entry.Stream, entry.Line)
}

// PrintAPIEntry prints an API log entry response
func (lp *LogPrinter) PrintAPIEntry(entry api.LogEntryResponse) {
	lp.print(parseTimestamp(entry.Timestamp), entry.Job, domain.Stream(entry.Stream), entry.Line)
}

func (lp *LogPrinter) print(ts time.Time, job string, stream domain.Stream, line string) {
	lp.mu.Lock()
	defer lp.mu.Unlock()

	if !lp.color {
		fmt.Fprintf(lp.w, "%s %-*s | %s\n", ts.Format("15:04:05"), lp.width, job, line)
		return
	}

	lineColor := ""
	switch stream {
	case domain.StreamStderr:
		lineColor = constants.ColorBrightRed
	case domain.StreamSystem:
		lineColor = constants.ColorDim
	}

	fmt.Fprintf(lp.w, "%s %s%-*s%s | %s%s%s\n",
		ts.Format("15:04:05"),
		lp.getColor(job), lp.width, job, constants.ColorReset,
		lineColor, line, constants.ColorReset)
}

func (lp *LogPrinter) getColor(job string) string {
	color, ok := lp.colors[job]
	if !ok {
		color = constants.JobColors[lp.colorIndex%len(constants.JobColors)]
		lp.colors[job] = color
		lp.colorIndex++
	}
	return color
}

func useColor(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isTerminal(w)
}
