package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/charliek/semrun/internal/api"
	"github.com/charliek/semrun/internal/constants"
	"github.com/charliek/semrun/internal/domain"
	"github.com/charliek/semrun/internal/errreport"
	"github.com/charliek/semrun/internal/runstate"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *App) psCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "ps",
		Short: "List the active runs of a jobs directory",
		Args:  cobra.NoArgs,
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			dir, err := a.clientJobsDir()
			if err != nil {
				return err
			}
			runs, err := runstate.List(dir)
			if err != nil {
				return err
			}
			if jsonOutput {
				if runs == nil {
					runs = []runstate.Run{}
				}
				return writeJSON(a.stdout, runs)
			}
			if len(runs) == 0 {
				fmt.Fprintf(a.stdout, "No active runs in %s\n", dir)
				return nil
			}

			tw := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "PID\tSTARTED\tJOBS\tSLOTS\tGATE\tAPI")
			for _, r := range runs {
				addr := "-"
				if r.HasAPI() {
					addr = fmt.Sprintf("%s:%d", r.Host, r.Port)
				}
				fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%s\t%s\n",
					r.PID, r.StartedAt.Format(time.DateTime), r.Jobs, r.Slots, r.GateKind, addr)
			}
			return tw.Flush()
		}),
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func (a *App) statusCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "status [job]",
		Short: "Show the state of a run or of one of its jobs",
		Args:  cobra.MaximumNArgs(1),
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			client, err := a.connect()
			if err != nil {
				return err
			}
			if len(args) == 1 {
				return a.jobStatus(client, args[0], jsonOutput)
			}
			return a.runStatus(client, jsonOutput)
		}),
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func (a *App) runStatus(client *Client, jsonOutput bool) error {
	status, err := client.GetStatus()
	if err != nil {
		return wrapConnErr(err)
	}
	jobs, err := client.GetJobs()
	if err != nil {
		return wrapConnErr(err)
	}
	gateInfo, err := client.GetGate()
	if err != nil {
		return wrapConnErr(err)
	}

	if jsonOutput {
		return writeJSON(a.stdout, struct {
			Status *api.StatusResponse `json:"status"`
			Gate   *api.GateResponse   `json:"gate"`
			Jobs   []api.JobResponse   `json:"jobs"`
		}{status, gateInfo, jobs.Jobs})
	}

	fmt.Fprintf(a.stdout, "Run:    %d (%s, up %s)\n", status.PID, status.Status,
		formatDuration(time.Duration(status.UptimeSeconds)*time.Second))
	fmt.Fprintf(a.stdout, "Jobs:   %s\n", status.JobsDir)
	fmt.Fprintf(a.stdout, "Gate:   %s\n", formatGate(gateInfo))
	if status.FailedBy != "" {
		fmt.Fprintf(a.stdout, "Failed: %s (fail-fast)\n", status.FailedBy)
	}
	fmt.Fprintf(a.stdout, "States: %s\n\n", formatCounts(status.Counts))

	tw := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB\tSTATE\tPID\tATTEMPTS\tEXIT\tDURATION")
	for _, j := range jobs.Jobs {
		pid := "-"
		if j.PID > 0 {
			pid = fmt.Sprintf("%d", j.PID)
		}
		exit := j.Exit
		if exit == "" {
			exit = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n", j.Name, j.State, pid, j.Attempts, exit,
			formatDuration(time.Duration(j.DurationMS)*time.Millisecond))
	}
	return tw.Flush()
}

func (a *App) jobStatus(client *Client, name string, jsonOutput bool) error {
	job, err := client.GetJob(name)
	if err != nil {
		return wrapConnErr(err)
	}
	if jsonOutput {
		return writeJSON(a.stdout, job)
	}

	tw := tabwriter.NewWriter(a.stdout, 0, 0, 1, ' ', 0)
	fmt.Fprintf(tw, "Name:\t%s\n", job.Name)
	fmt.Fprintf(tw, "Path:\t%s\n", job.Path)
	if len(job.Args) > 0 {
		fmt.Fprintf(tw, "Args:\t%s\n", strings.Join(job.Args, " "))
	}
	fmt.Fprintf(tw, "State:\t%s\n", job.State)
	if job.PID > 0 {
		fmt.Fprintf(tw, "PID:\t%d\n", job.PID)
	}
	fmt.Fprintf(tw, "Attempts:\t%d of %d\n", job.Attempts, job.Retries+1)
	if job.Timeout != "" {
		fmt.Fprintf(tw, "Timeout:\t%s\n", job.Timeout)
	}
	if job.Exit != "" {
		fmt.Fprintf(tw, "Exit:\t%s\n", job.Exit)
	}
	if job.Error != "" {
		fmt.Fprintf(tw, "Error:\t%s\n", job.Error)
	}
	if job.StartedAt != "" {
		fmt.Fprintf(tw, "Started:\t%s\n", job.StartedAt)
	}
	if job.FinishedAt != "" {
		fmt.Fprintf(tw, "Finished:\t%s\n", job.FinishedAt)
	}
	fmt.Fprintf(tw, "Duration:\t%s\n", formatDuration(time.Duration(job.DurationMS)*time.Millisecond))
	return tw.Flush()
}

func formatGate(g *api.GateResponse) string {
	s := fmt.Sprintf("%s, %d/%d slots in use, %d waiting", g.Kind, g.InUse, g.Capacity, g.Waiters)
	if g.Key != "" {
		s += ", key " + g.Key
	}
	return s
}

func formatCounts(counts map[string]int) string {
	if len(counts) == 0 {
		return "-"
	}
	states := make([]string, 0, len(counts))
	for state := range counts {
		states = append(states, state)
	}
	sort.Strings(states)

	parts := make([]string, 0, len(states))
	for _, state := range states {
		parts = append(parts, fmt.Sprintf("%d %s", counts[state], state))
	}
	return strings.Join(parts, ", ")
}

func (a *App) logsCmd() *cobra.Command {
	var (
		follow     bool
		lines      int
		pattern    string
		regex      bool
		jsonOutput bool
	)
	cmd := &cobra.Command{
		Use:   "logs [job...]",
		Short: "Show the output of a run",
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			if lines < 0 || lines > constants.MaxLogLines {
				return errreport.Usage(fmt.Errorf("--lines must be between 0 and %d", constants.MaxLogLines))
			}
			client, err := a.connect()
			if err != nil {
				return err
			}
			params := domain.LogParams{
				Job:     strings.Join(args, ","),
				Lines:   lines,
				Pattern: pattern,
				Regex:   regex,
			}

			printer := NewLogPrinter(a.stdout)
			emit := printer.PrintAPIEntry
			if jsonOutput {
				enc := json.NewEncoder(a.stdout)
				emit = func(e api.LogEntryResponse) { _ = enc.Encode(e) }
			}

			resp, err := client.GetLogs(params)
			if err != nil {
				return wrapConnErr(err)
			}
			width := 8
			for _, e := range resp.Logs {
				width = max(width, len(e.Job))
			}
			printer.SetWidth(min(width, 24))
			for _, e := range resp.Logs {
				emit(e)
			}
			if !follow {
				return nil
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return wrapConnErr(client.StreamLogs(ctx, params, emit))
		}),
	}
	f := cmd.Flags()
	f.BoolVarP(&follow, "follow", "f", false, "Keep streaming new output until the run finishes")
	f.IntVarP(&lines, "lines", "n", constants.DefaultLogLimit, "Number of earlier lines to show")
	f.StringVar(&pattern, "pattern", "", "Only show lines containing this text")
	f.BoolVar(&regex, "regex", false, "Treat --pattern as a regular expression")
	f.BoolVar(&jsonOutput, "json", false, "Output one JSON object per line")
	return cmd
}

func (a *App) cancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job>...",
		Short: "Cancel jobs of a run",
		Args:  cobra.MinimumNArgs(1),
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			client, err := a.connect()
			if err != nil {
				return err
			}
			var errs []error
			for _, name := range args {
				if err := client.CancelJob(name); err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", name, wrapConnErr(err)))
					continue
				}
				fmt.Fprintf(a.stdout, "Canceled %s\n", name)
			}
			return errors.Join(errs...)
		}),
	}
}

func (a *App) stopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop a run, canceling the jobs still running or waiting",
		Args:  cobra.NoArgs,
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			client, err := a.connect()
			if err != nil {
				return err
			}
			if err := client.Shutdown(); err != nil {
				return wrapConnErr(err)
			}
			fmt.Fprintln(a.stdout, "Stopping run")
			return nil
		}),
	}
}
