package logs

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charliek/semrun/internal/domain"
)

// FileSink appends each job's lines to <dir>/<job>.log
type FileSink struct {
	dir string

	mu     sync.Mutex
	files  map[string]*os.File
	closed bool
}

// NewFileSink creates dir if needed and returns a sink writing into it
func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating log dir: %w", err)
	}
	return &FileSink{dir: dir, files: make(map[string]*os.File)}, nil
}

// Path returns the log file path for job
func (s *FileSink) Path(job string) string {
	return filepath.Join(s.dir, job+".log")
}

// Write implements Sink. Files are opened on a job's first line.
func (s *FileSink) Write(entry domain.LogEntry) error {
	if entry.Job == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return os.ErrClosed
	}

	f, ok := s.files[entry.Job]
	if !ok {
		var err error
		f, err = os.OpenFile(s.Path(entry.Job), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("opening job log: %w", err)
		}
		s.files[entry.Job] = f
	}

	_, err := fmt.Fprintf(f, "%s %-6s %s\n", entry.Timestamp.Format(time.RFC3339Nano), entry.Stream, entry.Line)
	return err
}

// Close implements Sink
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var firstErr error
	for job, f := range s.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.files, job)
	}
	return firstErr
}
