package logs

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/charliek/semrun/internal/domain"
	"github.com/stretchr/testify/assert"
)

func makeEntry(job, line string) domain.LogEntry {
	return domain.LogEntry{
		Timestamp: time.Now(),
		Job:       job,
		Stream:    domain.StreamStdout,
		Line:      line,
	}
}

func lines(entries []domain.LogEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Line
	}
	return out
}

func TestRingBuffer_WriteRead(t *testing.T) {
	buf := NewRingBuffer(5)
	buf.Write(makeEntry("build.sh", "one"))
	buf.Write(makeEntry("build.sh", "two"))

	assert.Equal(t, []string{"one", "two"}, lines(buf.Read()))
	assert.Equal(t, 2, buf.Count())
	assert.Equal(t, 5, buf.Capacity())
}

func TestRingBuffer_Overflow(t *testing.T) {
	buf := NewRingBuffer(3)
	for i := 1; i <= 7; i++ {
		buf.Write(makeEntry("build.sh", fmt.Sprint(i)))
	}

	assert.Equal(t, []string{"5", "6", "7"}, lines(buf.Read()))
	assert.Equal(t, 3, buf.Count())
}

func TestRingBuffer_ReadLast(t *testing.T) {
	tests := []struct {
		name   string
		writes int
		n      int
		want   []string
	}{
		{"fewer than stored", 4, 2, []string{"3", "4"}},
		{"more than stored", 2, 10, []string{"1", "2"}},
		{"after overflow", 6, 2, []string{"5", "6"}},
		{"all after overflow", 6, -1, []string{"3", "4", "5", "6"}},
		{"zero", 3, 0, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := NewRingBuffer(4)
			for i := 1; i <= tt.writes; i++ {
				buf.Write(makeEntry("deploy.sh", fmt.Sprint(i)))
			}
			assert.Equal(t, tt.want, lines(buf.ReadLast(tt.n)))
		})
	}
}

func TestRingBuffer_EmptyAndClear(t *testing.T) {
	buf := NewRingBuffer(3)
	assert.Nil(t, buf.Read())

	buf.Write(makeEntry("a", "x"))
	buf.Clear()
	assert.Nil(t, buf.Read())
	assert.Equal(t, 0, buf.Count())
}

func TestRingBuffer_DefaultCapacity(t *testing.T) {
	assert.Equal(t, 1000, NewRingBuffer(0).Capacity())
}

func TestRingBuffer_Concurrent(t *testing.T) {
	buf := NewRingBuffer(100)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				buf.Write(makeEntry("cleanup.sh", "line"))
				buf.Read()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 100, buf.Count())
}
