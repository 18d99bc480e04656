package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/charliek/semrun/internal/api"
	"github.com/charliek/semrun/internal/errreport"
	"github.com/charliek/semrun/internal/gate"
)

func (a *App) gateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gate",
		Short: "Inspect or administer the System V semaphore of a jobs directory",
		Long: `The gate is the System V semaphore set shared by every run of a jobs
directory. Its key comes from gate.key, or else from the identity of
gate.key_file (the jobs directory by default).`,
	}
	cmd.AddCommand(a.gateInfoCmd(), a.gateSetCmd(), a.gateRemoveCmd())
	return cmd
}

// attachGate opens the existing gate of the configured jobs directory
func (a *App) attachGate() (gate.Gate, error) {
	cfg, err := a.loadConfig(a.jobsDir)
	if err != nil {
		return nil, err
	}
	g, err := gate.Attach(a.gateConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("attaching to gate of %s: %w", cfg.ResolvedJobsDir(), err)
	}
	return g, nil
}

func (a *App) gateInfoCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show slots and waiters",
		Args:  cobra.NoArgs,
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			g, err := a.attachGate()
			if err != nil {
				return err
			}
			defer g.Close()

			info, err := g.Info()
			if err != nil {
				return err
			}
			resp := api.ToGateResponse(info)
			if jsonOutput {
				return writeJSON(a.stdout, resp)
			}
			fmt.Fprintf(a.stdout, "Key:       %s\n", resp.Key)
			fmt.Fprintf(a.stdout, "ID:        %d\n", resp.ID)
			fmt.Fprintf(a.stdout, "Capacity:  %d\n", resp.Capacity)
			fmt.Fprintf(a.stdout, "In use:    %d\n", resp.InUse)
			fmt.Fprintf(a.stdout, "Available: %d\n", resp.Available)
			fmt.Fprintf(a.stdout, "Waiting:   %d\n", resp.Waiters)
			return nil
		}),
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func (a *App) gateSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <slots>",
		Short: "Change the number of slots",
		Long: `Set changes the capacity of the gate while runs use it. Growing takes
effect at once; shrinking fails while more slots than the new capacity
are taken.`,
		Args: cobra.ExactArgs(1),
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil || n < 1 || n > gate.MaxCapacity {
				return errreport.Usage(fmt.Errorf("slots must be between 1 and %d, got %q", gate.MaxCapacity, args[0]))
			}

			g, err := a.attachGate()
			if err != nil {
				return err
			}
			defer g.Close()

			if err := g.SetCapacity(n); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "Gate capacity set to %d\n", n)
			return nil
		}),
	}
}

func (a *App) gateRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "rm",
		Aliases: []string{"remove"},
		Short:   "Remove the semaphore set",
		Long: `Remove destroys the semaphore set. Runs blocked on it fail with EIDRM;
the next run creates a fresh set.`,
		Args: cobra.NoArgs,
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			g, err := a.attachGate()
			if err != nil {
				return err
			}
			if err := g.Remove(); err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, "Gate removed")
			return nil
		}),
	}
}
