// Package cli implements the semrun command line.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/charliek/semrun/internal/config"
	"github.com/charliek/semrun/internal/constants"
	"github.com/charliek/semrun/internal/errreport"
	"github.com/charliek/semrun/internal/runstate"
)

// Version is set during build
var Version = "dev"

// App holds the state shared by all commands
type App struct {
	stdout io.Writer
	stderr io.Writer

	// Global flags
	configPath string
	jobsDir    string
	apiAddr    string
	pid        int
	verbose    bool

	logger *slog.Logger

	// configFile is the config file loadConfig read, if any
	configFile string

	// ran is set once a command's RunE starts; errors before that are
	// command line errors
	ran bool
}

// Execute runs the command line and returns the error for errreport
func Execute() error {
	return NewApp(os.Stdout, os.Stderr).Execute(os.Args[1:])
}

// NewApp creates an App writing to stdout and stderr
func NewApp(stdout, stderr io.Writer) *App {
	return &App{
		stdout: stdout,
		stderr: stderr,
		logger: slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelInfo})),
	}
}

// Execute runs the command named by args
func (a *App) Execute(args []string) error {
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	err := root.Execute()
	if err != nil && !a.ran {
		return errreport.Usage(err)
	}
	return err
}

func (a *App) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "semrun",
		Short: "Run a directory of jobs with a shared concurrency limit",
		Long: `semrun runs every executable in a jobs directory, at most N at a time.

The limit is a System V semaphore keyed on the directory, so separate
semrun processes pointed at the same jobs share one set of slots. Each
job runs in its own process group and is reported as succeeded, failed,
signaled, timed out or canceled.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if a.verbose {
				level = slog.LevelDebug
			}
			a.logger = slog.New(slog.NewTextHandler(a.stderr, &slog.HandlerOptions{Level: level}))
			slog.SetDefault(a.logger)
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Config file (default: semrun.yaml in cwd or jobs dir, or $"+constants.ConfigEnvVar+")")
	root.PersistentFlags().StringVar(&a.jobsDir, "dir", "", "Jobs directory, when not given as an argument")
	root.PersistentFlags().StringVar(&a.apiAddr, "addr", "", "API address of a run, instead of discovering it")
	root.PersistentFlags().IntVar(&a.pid, "pid", 0, "Pick a run by pid when several are active")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable debug logging")

	root.SetVersionTemplate("semrun version {{.Version}}\n")
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return errreport.Usage(err)
	})

	root.AddCommand(
		a.runCmd(),
		a.listCmd(),
		a.gateCmd(),
		a.psCmd(),
		a.statusCmd(),
		a.logsCmd(),
		a.cancelCmd(),
		a.stopCmd(),
		a.versionCmd(),
	)
	return root
}

// runE marks the command line as parsed before running fn
func (a *App) runE(fn func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a.ran = true
		return fn(cmd, args)
	}
}

func (a *App) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Args:  cobra.NoArgs,
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(a.stdout, "semrun version %s\n", Version)
			return nil
		}),
	}
}

// loadConfig finds and loads the configuration. dir is the jobs directory
// named on the command line, if any; it is searched for a config file after
// the working directory and overrides jobs_dir.
func (a *App) loadConfig(dir string) (*config.Config, error) {
	path := a.configPath
	if path == "" {
		path = os.Getenv(constants.ConfigEnvVar)
	}
	if path == "" {
		if found, err := config.FindConfigFile("", dir); err == nil {
			path = found
		}
	}

	cfg := config.Default()
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
		a.configFile, _ = absPath(path)
		a.logger.Debug("loaded config", "path", path)
	}

	if dir != "" {
		abs, err := absPath(dir)
		if err != nil {
			return nil, err
		}
		cfg.JobsDir = abs
	}
	return cfg, nil
}

// clientJobsDir returns the jobs directory whose runs the client commands use
func (a *App) clientJobsDir() (string, error) {
	cfg, err := a.loadConfig(a.jobsDir)
	if err != nil {
		return "", err
	}
	return cfg.ResolvedJobsDir(), nil
}

// connect returns a client for the selected run
func (a *App) connect() (*Client, error) {
	if a.apiAddr != "" {
		return NewClient(a.apiAddr), nil
	}

	dir, err := a.clientJobsDir()
	if err != nil {
		return nil, err
	}
	run, err := runstate.Find(dir, a.pid)
	if err != nil {
		return nil, fmt.Errorf("%w in %s", err, dir)
	}
	if !run.HasAPI() {
		return nil, fmt.Errorf("run %d has no API (api.enabled is false)", run.PID)
	}
	return NewClient("http://" + net.JoinHostPort(run.Host, strconv.Itoa(run.Port))), nil
}

// wrapConnErr adds a hint when the run is not reachable
func wrapConnErr(err error) error {
	if isConnRefused(err) {
		return fmt.Errorf("%w (is the run still active? see 'semrun ps')", err)
	}
	return err
}
