package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/oklog/run"
	"github.com/spf13/cobra"

	"github.com/charliek/semrun/internal/api"
	"github.com/charliek/semrun/internal/config"
	"github.com/charliek/semrun/internal/constants"
	"github.com/charliek/semrun/internal/domain"
	"github.com/charliek/semrun/internal/errreport"
	"github.com/charliek/semrun/internal/gate"
	"github.com/charliek/semrun/internal/logs"
	"github.com/charliek/semrun/internal/runstate"
	"github.com/charliek/semrun/internal/supervisor"
	"github.com/charliek/semrun/internal/tui"
)

// runOptions holds the flags of the run command
type runOptions struct {
	slots    int
	gateMode string
	timeout  time.Duration
	retries  int
	failFast bool
	include  []string
	exclude  []string
	tui      bool
	detach   bool
	noAPI    bool
	port     int
}

func (a *App) runCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run [jobs-dir]",
		Short: "Run every job in the jobs directory",
		Long: `Run starts every executable in the jobs directory and waits for all of
them to finish. At most --slots jobs hold a slot at once; the rest wait.

The exit status is 0 when every job succeeded, 1 when any job failed or
timed out, and 2 when any job was killed by a signal or canceled.`,
		Args: cobra.MaximumNArgs(1),
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			dir := a.jobsDir
			if len(args) == 1 {
				dir = args[0]
			}
			return a.run(cmd, dir, opts)
		}),
	}

	f := cmd.Flags()
	f.IntVarP(&opts.slots, "slots", "n", 0, "Jobs allowed to run at once (default from config, 1)")
	f.StringVar(&opts.gateMode, "gate-mode", "", "Gate implementation: auto, sysv or local")
	f.DurationVar(&opts.timeout, "timeout", 0, "Per-attempt timeout, 0 for none")
	f.IntVar(&opts.retries, "retries", 0, "Extra attempts for a failing job")
	f.BoolVar(&opts.failFast, "fail-fast", false, "Cancel the remaining jobs after the first failure")
	f.StringSliceVar(&opts.include, "include", nil, "Only run jobs matching these glob patterns")
	f.StringSliceVar(&opts.exclude, "exclude", nil, "Skip jobs matching these glob patterns")
	f.BoolVar(&opts.tui, "tui", false, "Show the interactive terminal UI")
	f.BoolVarP(&opts.detach, "detach", "d", false, "Run in the background")
	f.BoolVar(&opts.noAPI, "no-api", false, "Do not serve the HTTP API")
	f.IntVar(&opts.port, "port", 0, "API port, 0 picks a free one")

	return cmd
}

// applyRunOptions overrides cfg with the flags that were set
func applyRunOptions(cmd *cobra.Command, cfg *config.Config, opts runOptions) error {
	f := cmd.Flags()
	if f.Changed("slots") {
		cfg.Slots = opts.slots
	}
	if f.Changed("gate-mode") {
		cfg.Gate.Mode = opts.gateMode
	}
	if f.Changed("timeout") {
		cfg.Timeout = config.Duration(opts.timeout)
	}
	if f.Changed("retries") {
		cfg.Retries = opts.retries
	}
	if f.Changed("fail-fast") {
		cfg.FailFast = opts.failFast
	}
	if f.Changed("include") {
		cfg.Include = opts.include
	}
	if f.Changed("exclude") {
		cfg.Exclude = opts.exclude
	}
	if f.Changed("port") {
		cfg.API.Port = opts.port
	}
	if opts.noAPI {
		disabled := false
		cfg.API.Enabled = &disabled
	}
	return config.Validate(cfg)
}

func (a *App) run(cmd *cobra.Command, dir string, opts runOptions) error {
	cfg, err := a.loadConfig(dir)
	if err != nil {
		return err
	}
	if err := applyRunOptions(cmd, cfg, opts); err != nil {
		return errreport.Usage(err)
	}
	jobsDir := cfg.ResolvedJobsDir()

	jobs, skips, err := a.buildJobs(cfg)
	if err != nil {
		return err
	}
	for _, s := range skips {
		a.logger.Debug("skipping entry", "name", s.Name, "reason", s.Reason)
	}

	detached := runstate.IsDetachedChild()
	if opts.detach && !detached {
		return a.detach(jobsDir)
	}
	if detached {
		f, err := runstate.SetupLogging(jobsDir)
		if err != nil {
			return err
		}
		defer f.Close()
		opts.tui = false
	}
	if opts.tui && !isTerminal(a.stdout) {
		return errreport.Usage(errors.New("--tui needs a terminal"))
	}

	if len(jobs) == 0 {
		fmt.Fprintf(a.stdout, "No jobs to run in %s\n", jobsDir)
		return nil
	}

	ctx := cmd.Context()

	g, err := gate.Open(ctx, a.gateConfig(cfg))
	if err != nil {
		return fmt.Errorf("opening gate: %w", err)
	}
	defer a.closeGate(g, cfg.Gate.RemoveOnExit)

	logMgr, err := a.newLogManager(cfg)
	if err != nil {
		return err
	}
	defer logMgr.Close()

	sup := supervisor.New(jobs, g, logMgr, nil, supervisor.Config{
		FailFast:   cfg.FailFast,
		RetryDelay: cfg.RetryDelay.Std(),
		Logger:     a.logger,
	})

	info, _ := g.Info()
	state := runstate.Run{
		PID:        os.Getpid(),
		JobsDir:    jobsDir,
		ConfigFile: a.configFile,
		StartedAt:  time.Now(),
		GateKind:   info.Kind,
		GateKey:    info.Key,
		Slots:      cfg.Slots,
		Jobs:       len(jobs),
	}
	handle, err := runstate.Register(state)
	if err != nil {
		// ps and the client commands will not find this run
		a.logger.Warn("could not register run", "error", err)
	} else {
		defer handle.Release()
	}

	r := &runner{
		app:  a,
		cfg:  cfg,
		opts: opts,
		sup:  sup,
		logs: logMgr,
	}
	if cfg.API.IsEnabled() {
		handlers := api.NewHandlers(sup, logMgr, api.HandlersConfig{
			JobsDir:    jobsDir,
			ConfigFile: a.configFile,
			ShutdownFn: r.stop,
			Logger:     a.logger,
		})
		r.server = api.NewServer(api.ServerConfig{
			Host:        cfg.API.Host,
			Port:        cfg.API.Port,
			LogRequests: a.verbose,
		}, handlers, a.logger)
		if err := r.server.Listen(); err != nil {
			return err
		}

		if handle != nil {
			state.Host = cfg.API.Host
			state.Port = r.server.Port()
			if err := handle.Update(state); err != nil {
				a.logger.Warn("could not record api address", "error", err)
			}
		}
	}

	result, err := r.execute(ctx)
	if !opts.tui {
		printSummary(a.stdout, result)
	}
	if err != nil {
		return err
	}
	if code := result.ExitCode(); code != 0 {
		return &errreport.ExitError{Code: code}
	}
	return nil
}

// detach re-executes semrun in the background
func (a *App) detach(jobsDir string) error {
	pid, err := runstate.Daemonize(os.Args[1:])
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "semrun running in background (pid %d)\n", pid)
	fmt.Fprintf(a.stdout, "Logs: %s\n", runstate.LogPath(jobsDir, pid))
	fmt.Fprintln(a.stdout, "Use 'semrun status' to check progress, 'semrun stop' to stop it")
	return nil
}

func (a *App) newLogManager(cfg *config.Config) (*logs.Manager, error) {
	mcfg := logs.DefaultManagerConfig()
	mcfg.Logger = a.logger
	if dir := cfg.ResolvedLogDir(); dir != "" {
		sink, err := logs.NewFileSink(dir)
		if err != nil {
			return nil, err
		}
		mcfg.Sinks = append(mcfg.Sinks, sink)
	}
	return logs.NewManager(mcfg), nil
}

func (a *App) closeGate(g gate.Gate, remove bool) {
	if err := g.Close(); err != nil {
		a.logger.Warn("closing gate", "error", err)
	}
	if !remove {
		return
	}
	if err := g.Remove(); err != nil {
		a.logger.Warn("removing gate", "error", err)
	}
}

// runner ties the supervisor, API, signals and output of one run together
type runner struct {
	app    *App
	cfg    *config.Config
	opts   runOptions
	sup    *supervisor.Supervisor
	logs   *logs.Manager
	server *api.Server

	cancel   context.CancelFunc
	stopOnce sync.Once
}

// stop begins a graceful stop without waiting for it. Jobs get SIGTERM and
// are killed once the shutdown timeout passes.
func (r *runner) stop() {
	r.stopOnce.Do(func() {
		r.cancel()
		go func() {
			timeout := constants.DefaultShutdownTimeout + r.cfg.KillGrace.Std()
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			if err := r.sup.Stop(ctx); err != nil {
				r.app.logger.Warn("stop", "error", err)
			}
		}()
	})
}

// execute runs the actors of a run until the supervisor finishes, or the
// TUI is closed when it is shown
func (r *runner) execute(ctx context.Context) (supervisor.Result, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.cancel = cancel

	var result supervisor.Result
	var g run.Group

	// Supervisor
	g.Add(func() error {
		res, err := r.sup.Run(runCtx)
		if errors.Is(err, domain.ErrAlreadyRunning) && runCtx.Err() != nil {
			// Stopped before it started; Stop marks every job canceled
			<-r.sup.Done()
			res, err = r.sup.Result(), nil
		}
		result = res
		if err != nil {
			return err
		}
		if r.opts.tui {
			// Leave the final state on screen until the user quits
			<-runCtx.Done()
		}
		return nil
	}, func(error) {
		r.stop()
	})

	// Signals
	{
		sigCtx, sigCancel := context.WithCancel(ctx)
		g.Add(func() error {
			return r.handleSignals(sigCtx)
		}, func(error) {
			sigCancel()
		})
	}

	// API
	if r.server != nil {
		g.Add(func() error {
			return r.server.Serve()
		}, func(error) {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.DefaultShutdownTimeout)
			defer cancel()
			_ = r.server.Shutdown(shutdownCtx)
		})
	}

	// Output
	outCtx, outCancel := context.WithCancel(ctx)
	if r.opts.tui {
		g.Add(func() error {
			return tui.Run(outCtx, r.sup, r.logs)
		}, func(error) {
			outCancel()
		})
	} else {
		// Subscribe before any job starts so no output is missed
		subID, ch, err := r.logs.Subscribe(domain.LogFilter{})
		if err != nil {
			outCancel()
			return result, err
		}
		defer r.logs.Unsubscribe(subID)
		g.Add(func() error {
			r.printLogs(outCtx, ch)
			return nil
		}, func(error) {
			outCancel()
		})
	}

	err := g.Run()
	outCancel()
	return result, err
}

// handleSignals stops the run on the first SIGINT or SIGTERM and kills the
// remaining jobs on the second. Other configured signals are relayed to
// every running job.
func (r *runner) handleSignals(ctx context.Context) error {
	sigs := []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	for _, name := range r.cfg.ForwardSignals {
		sig, err := domain.ParseSignal(name)
		if err != nil {
			return err
		}
		sigs = append(sigs, sig)
	}

	ch := make(chan os.Signal, 4)
	signal.Notify(ch, sigs...)
	defer signal.Stop(ch)

	stopping := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case s := <-ch:
			sig, _ := s.(syscall.Signal)
			switch {
			case sig == syscall.SIGINT || sig == syscall.SIGTERM:
				if !stopping {
					stopping = true
					r.app.logger.Info("stopping, signal again to kill", "signal", domain.SignalName(sig))
					r.stop()
					continue
				}
				n := r.sup.Kill()
				r.app.logger.Warn("killed running jobs", "jobs", n)
			default:
				r.sup.Signal(sig)
			}
		}
	}
}

// printLogs writes job output to stdout until ctx is done, then drains what
// is still buffered
func (r *runner) printLogs(ctx context.Context, ch <-chan domain.LogEntry) {
	printer := NewLogPrinter(r.app.stdout)
	printer.SetWidth(nameWidth(r.sup.Jobs()))

	for {
		select {
		case entry, ok := <-ch:
			if !ok {
				return
			}
			printer.PrintEntry(entry)
		case <-ctx.Done():
			for {
				select {
				case entry, ok := <-ch:
					if !ok {
						return
					}
					printer.PrintEntry(entry)
				default:
					return
				}
			}
		}
	}
}

func nameWidth(jobs []domain.JobInfo) int {
	width := 8
	for _, j := range jobs {
		width = max(width, len(j.Name))
	}
	return min(width, 24)
}

// printSummary prints one line per job
func printSummary(w io.Writer, result supervisor.Result) {
	if len(result.Jobs) == 0 {
		return
	}

	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB\tSTATE\tEXIT\tATTEMPTS\tDURATION")
	for _, j := range result.Jobs {
		exit := "-"
		if j.Exit != nil {
			exit = j.Exit.String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", j.Name, j.State, exit, j.Attempts, formatDuration(j.Duration()))
	}
	tw.Flush()

	fmt.Fprintf(w, "\n%d succeeded, %d failed, %d signaled, %d timed out, %d canceled in %s\n",
		result.Succeeded, result.Failed, result.Signaled, result.TimedOut, result.Canceled,
		formatDuration(result.Duration))
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "-"
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}
