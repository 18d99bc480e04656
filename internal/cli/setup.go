package cli

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/charliek/semrun/internal/config"
	"github.com/charliek/semrun/internal/domain"
	"github.com/charliek/semrun/internal/gate"
	"github.com/charliek/semrun/internal/scan"
)

func absPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", path, err)
	}
	return abs, nil
}

// skipped is an entry of the jobs directory that will not run
type skipped struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// buildJobs scans the jobs directory and merges each entry with its config.
// Entries the config disables are reported as skipped.
func (a *App) buildJobs(cfg *config.Config) ([]domain.Job, []skipped, error) {
	var skips []skipped
	entries, err := scan.Scan(cfg.ResolvedJobsDir(), scan.Options{
		Include: cfg.Include,
		Exclude: cfg.Exclude,
		OnSkip: func(name, reason string) {
			skips = append(skips, skipped{Name: name, Reason: reason})
		},
	})
	if err != nil {
		return nil, nil, err
	}

	found := make(map[string]bool, len(entries))
	jobs := make([]domain.Job, 0, len(entries))
	for _, e := range entries {
		found[e.Name] = true
		if cfg.Disabled(e.Name) {
			skips = append(skips, skipped{Name: e.Name, Reason: "disabled"})
			continue
		}
		job, err := cfg.ToDomainJob(e.Name, e.Path)
		if err != nil {
			return nil, nil, err
		}
		jobs = append(jobs, job)
	}

	for name := range cfg.Jobs {
		if !found[name] && !cfg.Disabled(name) {
			a.logger.Warn("configured job is not a runnable entry of the jobs directory", "job", name)
		}
	}

	sort.Slice(skips, func(i, j int) bool { return skips[i].Name < skips[j].Name })
	return jobs, skips, nil
}

// gateConfig returns the gate settings of cfg
func (a *App) gateConfig(cfg *config.Config) gate.Config {
	return gate.Config{
		Mode:        cfg.Gate.Mode,
		Capacity:    cfg.Slots,
		Key:         int32(uint32(cfg.Gate.Key)),
		KeyFile:     cfg.GateKeyFile(),
		ProjectID:   cfg.Gate.ProjectID,
		Perm:        cfg.Gate.Perm,
		InitTimeout: cfg.Gate.InitTimeout.Std(),
		Logger:      a.logger,
	}
}
