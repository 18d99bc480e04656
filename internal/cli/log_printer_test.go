package cli

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/charliek/semrun/internal/api"
	"github.com/charliek/semrun/internal/domain"
)

func TestLogPrinter_Plain(t *testing.T) {
	var buf bytes.Buffer
	lp := NewLogPrinter(&buf)
	lp.SetWidth(6)

	ts := time.Date(2024, 1, 2, 15, 4, 5, 0, time.Local)
	lp.PrintEntry(domain.LogEntry{Timestamp: ts, Job: "a.sh", Stream: domain.StreamStdout, Line: "hello"})

	assert.Equal(t, "15:04:05 a.sh   | hello\n", buf.String())
}

func TestLogPrinter_APIEntry(t *testing.T) {
	var buf bytes.Buffer
	lp := NewLogPrinter(&buf)

	ts := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	lp.PrintAPIEntry(api.LogEntryResponse{
		Timestamp: ts.Format(time.RFC3339Nano),
		Job:       "backup.sh",
		Stream:    "stderr",
		Line:      "disk full",
	})

	assert.Contains(t, buf.String(), "backup.sh | disk full")
	assert.Contains(t, buf.String(), ts.Format("15:04:05"))
}

func TestLogPrinter_ColorsAreStablePerJob(t *testing.T) {
	lp := NewLogPrinter(&bytes.Buffer{})
	a := lp.getColor("a.sh")
	b := lp.getColor("b.sh")
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, lp.getColor("a.sh"))
}

func TestUseColor_NotATerminal(t *testing.T) {
	assert.False(t, useColor(&bytes.Buffer{}))

	t.Setenv("NO_COLOR", "1")
	assert.False(t, useColor(&bytes.Buffer{}))
}
