package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// listedJob is one row of 'semrun list --json'
type listedJob struct {
	Name    string   `json:"name"`
	Path    string   `json:"path"`
	Args    []string `json:"args,omitempty"`
	Timeout string   `json:"timeout,omitempty"`
	Retries int      `json:"retries"`
}

type listOutput struct {
	JobsDir string      `json:"jobs_dir"`
	Jobs    []listedJob `json:"jobs"`
	Skipped []skipped   `json:"skipped,omitempty"`
}

func (a *App) listCmd() *cobra.Command {
	var (
		all        bool
		jsonOutput bool
		include    []string
		exclude    []string
	)
	cmd := &cobra.Command{
		Use:   "list [jobs-dir]",
		Short: "List the jobs a run would start",
		Args:  cobra.MaximumNArgs(1),
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			dir := a.jobsDir
			if len(args) == 1 {
				dir = args[0]
			}
			cfg, err := a.loadConfig(dir)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("include") {
				cfg.Include = include
			}
			if cmd.Flags().Changed("exclude") {
				cfg.Exclude = exclude
			}

			jobs, skips, err := a.buildJobs(cfg)
			if err != nil {
				return err
			}

			out := listOutput{JobsDir: cfg.ResolvedJobsDir(), Jobs: make([]listedJob, 0, len(jobs))}
			for _, j := range jobs {
				lj := listedJob{Name: j.Name, Path: j.Path, Args: j.Args, Retries: j.Retries}
				if j.Timeout > 0 {
					lj.Timeout = j.Timeout.String()
				}
				out.Jobs = append(out.Jobs, lj)
			}
			if all {
				out.Skipped = skips
			}

			if jsonOutput {
				return writeJSON(a.stdout, out)
			}
			return a.printList(out)
		}),
	}
	f := cmd.Flags()
	f.BoolVarP(&all, "all", "a", false, "Also show skipped entries and why")
	f.BoolVar(&jsonOutput, "json", false, "Output as JSON")
	f.StringSliceVar(&include, "include", nil, "Only list jobs matching these glob patterns")
	f.StringSliceVar(&exclude, "exclude", nil, "Skip jobs matching these glob patterns")
	return cmd
}

func (a *App) printList(out listOutput) error {
	if len(out.Jobs) == 0 && len(out.Skipped) == 0 {
		fmt.Fprintf(a.stdout, "No jobs in %s\n", out.JobsDir)
		return nil
	}

	tw := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB\tARGS\tTIMEOUT\tRETRIES")
	for _, j := range out.Jobs {
		args := strings.Join(j.Args, " ")
		if args == "" {
			args = "-"
		}
		timeout := j.Timeout
		if timeout == "" {
			timeout = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", j.Name, args, timeout, j.Retries)
	}
	for _, s := range out.Skipped {
		fmt.Fprintf(tw, "%s\t(skipped: %s)\t\t\n", s.Name, s.Reason)
	}
	return tw.Flush()
}
