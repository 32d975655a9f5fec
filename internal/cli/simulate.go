package cli

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/yourusername/uav-mission-core/internal/mission"
	"github.com/yourusername/uav-mission-core/internal/scenario"
	metricstypes "github.com/yourusername/uav-mission-core/pkg/metrics"
)

// simulateOptions simulate 命令参数
type simulateOptions struct {
	scenarioPath string
	journalPath  string
	maxTicks     int
	step         float64
	realtime     bool
}

func newSimulateCommand(g *globalFlags) *cobra.Command {
	opts := &simulateOptions{}

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Fly a scenario against the simulated fleet",
		Long: `simulate runs the full mission loop against simulated drones. By default the
simulation advances by --step seconds per tick as fast as possible; with --realtime
the fleet integrates in the background at the configured tick interval.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runSimulate(ctx, cmd, g, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.scenarioPath, "scenario", "s", "", "scenario file (yaml)")
	cmd.Flags().StringVar(&opts.journalPath, "journal", "", "sqlite journal path (overrides storage.journal_path)")
	cmd.Flags().IntVar(&opts.maxTicks, "max-ticks", 20000, "stop after this many ticks (0 = unlimited)")
	cmd.Flags().Float64Var(&opts.step, "step", 0.1, "simulated seconds per tick")
	cmd.Flags().BoolVar(&opts.realtime, "realtime", false, "advance the fleet in wall-clock time")
	_ = cmd.MarkFlagRequired("scenario")
	return cmd
}

func runSimulate(ctx context.Context, cmd *cobra.Command, g *globalFlags, opts *simulateOptions) error {
	cfg, logger, err := g.load()
	if err != nil {
		return err
	}
	sc, err := scenario.Load(opts.scenarioPath)
	if err != nil {
		return err
	}
	applyScenario(cfg, sc)
	if opts.journalPath != "" {
		cfg.Storage.JournalPath = opts.journalPath
	}
	if cmd.Flags().Changed("max-ticks") || cfg.Mission.MaxTicks == 0 {
		cfg.Mission.MaxTicks = opts.maxTicks
	}

	fleet := sc.Fleet()
	var extra []mission.Observer
	if opts.realtime {
		fleet.SetUpdateRate(cfg.Mission.TickInterval)
		fleet.Start()
		defer fleet.Stop()
	} else {
		cfg.Mission.TickInterval = time.Millisecond
		cfg.Mission.StepSeconds = opts.step
		extra = append(extra, mission.ObserverFunc(func(_ context.Context, _ metricstypes.TickReport) error {
			fleet.Advance(opts.step)
			return nil
		}))
	}

	c := newComponents(cfg, logger)
	runner := c.runner(cfg, logger, sc.DroneStates(), fleet, fleet)
	res, err := runner.Prepare(ctx, sc.Tasks)
	if err != nil {
		return err
	}

	sinks, err := openSinks(ctx, cfg.Storage.JournalPath, logger, runner, res)
	if err != nil {
		return err
	}
	defer sinks.Close()

	if err := mission.NewController(runner, cfg.Mission, sinks.observers(extra...)...).Run(ctx); err != nil {
		return err
	}
	return writeSummary(cmd.OutOrStdout(), runner, sinks.recorder.Snapshot())
}
