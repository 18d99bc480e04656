package logs

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/charliek/semrun/internal/domain"
)

// MaxPatternLength bounds filter patterns accepted from API clients
const MaxPatternLength = 256

// Filter is a compiled domain.LogFilter
type Filter struct {
	filter domain.LogFilter
	regex  *regexp.Regexp
}

// NewFilter validates and compiles a LogFilter
func NewFilter(filter domain.LogFilter) (*Filter, error) {
	if len(filter.Pattern) > MaxPatternLength {
		return nil, fmt.Errorf("%w: pattern exceeds maximum length of %d characters", domain.ErrInvalidPattern, MaxPatternLength)
	}

	f := &Filter{filter: filter}
	if filter.Pattern != "" && filter.IsRegex {
		re, err := regexp.Compile(filter.Pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPattern, err)
		}
		f.regex = re
	}
	return f, nil
}

// Matches reports whether entry passes the job and pattern criteria
func (f *Filter) Matches(entry domain.LogEntry) bool {
	if !f.filter.MatchesJob(entry.Job) {
		return false
	}
	switch {
	case f.filter.Pattern == "":
		return true
	case f.regex != nil:
		return f.regex.MatchString(entry.Line)
	default:
		return strings.Contains(entry.Line, f.filter.Pattern)
	}
}

// FilterEntries returns the entries matching filter
func FilterEntries(entries []domain.LogEntry, filter domain.LogFilter) ([]domain.LogEntry, error) {
	if filter.IsEmpty() {
		return entries, nil
	}

	f, err := NewFilter(filter)
	if err != nil {
		return nil, err
	}

	out := make([]domain.LogEntry, 0, len(entries))
	for _, e := range entries {
		if f.Matches(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

// FilterEntriesLimit filters entries and keeps the newest limit of them.
// The returned count is the number of matches before limiting.
func FilterEntriesLimit(entries []domain.LogEntry, filter domain.LogFilter, limit int) ([]domain.LogEntry, int, error) {
	filtered, err := FilterEntries(entries, filter)
	if err != nil {
		return nil, 0, err
	}

	total := len(filtered)
	if limit > 0 && total > limit {
		filtered = filtered[total-limit:]
	}
	return filtered, total, nil
}
