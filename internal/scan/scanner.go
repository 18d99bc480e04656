// Package scan enumerates the runnable entries of a jobs directory.
package scan

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charliek/semrun/internal/domain"
)

// Skip reasons reported through Options.OnSkip
const (
	ReasonHidden        = "hidden"
	ReasonBackup        = "backup file"
	ReasonDirectory     = "directory"
	ReasonNotRegular    = "not a regular file"
	ReasonNotExecutable = "not executable"
	ReasonBrokenSymlink = "broken symlink"
	ReasonExcluded      = "excluded"
	ReasonNotIncluded   = "not included"
)

// Entry is one runnable file found in the jobs directory
type Entry struct {
	Name    string      `json:"name"`
	Path    string      `json:"path"`
	Mode    fs.FileMode `json:"mode"`
	Size    int64       `json:"size"`
	ModTime time.Time   `json:"mod_time"`
}

// Options controls which entries qualify
type Options struct {
	Include []string
	Exclude []string

	// OnSkip, when set, is called for every entry that does not qualify
	OnSkip func(name, reason string)
}

// Scan lists the executable regular files directly inside dir, sorted by name.
// Symlinks are followed. Subdirectories are never descended into.
func Scan(dir string, opts Options) ([]Entry, error) {
	if err := validatePatterns(opts.Include, opts.Exclude); err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", dir, err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %w", domain.ErrJobsDirNotFound, err)
		}
		return nil, fmt.Errorf("checking jobs directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotDirectory, abs)
	}

	dirents, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("reading jobs directory: %w", err)
	}

	skip := func(name, reason string) {
		if opts.OnSkip != nil {
			opts.OnSkip(name, reason)
		}
	}

	entries := make([]Entry, 0, len(dirents))
	for _, d := range dirents {
		name := d.Name()

		if reason, ok := ignoredName(name); ok {
			skip(name, reason)
			continue
		}
		if !Matches(name, opts.Include, opts.Exclude) {
			if matchAny(name, opts.Exclude) {
				skip(name, ReasonExcluded)
			} else {
				skip(name, ReasonNotIncluded)
			}
			continue
		}

		full := filepath.Join(abs, name)

		// os.Stat follows symlinks, so a link to an executable qualifies
		fi, err := os.Stat(full)
		if err != nil {
			// Dangling, looping and unreadable links alike
			if d.Type()&fs.ModeSymlink != 0 {
				skip(name, ReasonBrokenSymlink)
				continue
			}
			return nil, fmt.Errorf("stat %s: %w", name, err)
		}

		switch {
		case fi.IsDir():
			skip(name, ReasonDirectory)
			continue
		case !fi.Mode().IsRegular():
			skip(name, ReasonNotRegular)
			continue
		case fi.Mode().Perm()&0111 == 0:
			skip(name, ReasonNotExecutable)
			continue
		}

		entries = append(entries, Entry{
			Name:    name,
			Path:    full,
			Mode:    fi.Mode(),
			Size:    fi.Size(),
			ModTime: fi.ModTime(),
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name < entries[j].Name
	})

	return entries, nil
}

// Matches reports whether name passes the include and exclude patterns.
// An empty include list admits every name. Patterns must already be valid.
func Matches(name string, include, exclude []string) bool {
	if len(include) > 0 && !matchAny(name, include) {
		return false
	}
	return !matchAny(name, exclude)
}

func matchAny(name string, patterns []string) bool {
	for _, p := range patterns {
		if ok, _ := path.Match(p, name); ok {
			return true
		}
	}
	return false
}

func validatePatterns(lists ...[]string) error {
	for _, list := range lists {
		for _, p := range list {
			if _, err := path.Match(p, ""); err != nil {
				return fmt.Errorf("%w: %q", domain.ErrInvalidPattern, p)
			}
		}
	}
	return nil
}

// ignoredName filters editor leftovers and hidden files by name alone
func ignoredName(name string) (string, bool) {
	switch {
	case strings.HasPrefix(name, "."):
		return ReasonHidden, true
	case strings.HasSuffix(name, "~"),
		strings.HasSuffix(name, ".bak"),
		strings.HasSuffix(name, ".swp"):
		return ReasonBackup, true
	}
	return "", false
}
