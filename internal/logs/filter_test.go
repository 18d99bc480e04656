package logs

import (
	"strings"
	"testing"

	"github.com/charliek/semrun/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilter_Matches(t *testing.T) {
	entry := makeEntry("build.sh", "ERROR: disk full")

	tests := []struct {
		name   string
		filter domain.LogFilter
		want   bool
	}{
		{"empty", domain.LogFilter{}, true},
		{"job match", domain.LogFilter{Jobs: []string{"deploy.sh", "build.sh"}}, true},
		{"job miss", domain.LogFilter{Jobs: []string{"deploy.sh"}}, false},
		{"substring", domain.LogFilter{Pattern: "disk"}, true},
		{"substring miss", domain.LogFilter{Pattern: "network"}, false},
		{"substring is literal", domain.LogFilter{Pattern: "ERROR.*full"}, false},
		{"regex", domain.LogFilter{Pattern: "^ERROR.*full$", IsRegex: true}, true},
		{"regex miss", domain.LogFilter{Pattern: "^WARN", IsRegex: true}, false},
		{"combined", domain.LogFilter{Jobs: []string{"build.sh"}, Pattern: "disk"}, true},
		{"combined job miss", domain.LogFilter{Jobs: []string{"x"}, Pattern: "disk"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := NewFilter(tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, f.Matches(entry))
		})
	}
}

func TestNewFilter_Invalid(t *testing.T) {
	_, err := NewFilter(domain.LogFilter{Pattern: "[unclosed", IsRegex: true})
	assert.ErrorIs(t, err, domain.ErrInvalidPattern)

	_, err = NewFilter(domain.LogFilter{Pattern: strings.Repeat("a", MaxPatternLength+1)})
	assert.ErrorIs(t, err, domain.ErrInvalidPattern)
}

func TestFilterEntriesLimit(t *testing.T) {
	entries := []domain.LogEntry{
		makeEntry("build.sh", "b1"),
		makeEntry("deploy.sh", "d1"),
		makeEntry("build.sh", "b2"),
		makeEntry("build.sh", "b3"),
	}

	got, total, err := FilterEntriesLimit(entries, domain.LogFilter{Jobs: []string{"build.sh"}}, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Equal(t, []string{"b2", "b3"}, lines(got))

	got, total, err = FilterEntriesLimit(entries, domain.LogFilter{}, 0)
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	assert.Len(t, got, 4)
}
