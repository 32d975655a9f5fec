package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/yourusername/uav-mission-core/internal/k8s"
	"github.com/yourusername/uav-mission-core/internal/mission"
	"github.com/yourusername/uav-mission-core/internal/scenario"
)

// runOptions run 命令参数
type runOptions struct {
	tasksPath   string
	journalPath string
	listen      string
}

func newRunCommand(g *globalFlags) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a mission against uav-agent pods in Kubernetes",
		Long: `run discovers uav-agent pods, reads their telemetry as the initial fleet state,
and drives them through the mission loop. Progress is published to the
MissionStatus custom resource when its CRD is installed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runMission(ctx, cmd, g, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.tasksPath, "tasks", "t", "", "scenario file providing the tasks (yaml)")
	cmd.Flags().StringVar(&opts.journalPath, "journal", "", "sqlite journal path (overrides storage.journal_path)")
	cmd.Flags().StringVar(&opts.listen, "listen", ":8080", "status HTTP address (empty disables)")
	_ = cmd.MarkFlagRequired("tasks")
	return cmd
}

func runMission(ctx context.Context, cmd *cobra.Command, g *globalFlags, opts *runOptions) error {
	cfg, logger, err := g.load()
	if err != nil {
		return err
	}
	if opts.journalPath != "" {
		cfg.Storage.JournalPath = opts.journalPath
	}
	tasks, err := scenario.LoadTasks(opts.tasksPath)
	if err != nil {
		return err
	}

	client, err := k8s.NewClient(cfg.K8s, logger)
	if err != nil {
		return err
	}
	if err := client.TestConnection(ctx); err != nil {
		return err
	}

	gateway := client.FleetGateway(cfg.Coverage.CruiseSpeedMPS)
	drones, err := gateway.Drones(ctx)
	if err != nil {
		return err
	}
	go func() {
		if err := gateway.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Errorf("UAV agent watch stopped: %v", err)
		}
	}()

	c := newComponents(cfg, logger)
	runner := c.runner(cfg, logger, drones, gateway, gateway)
	res, err := runner.Prepare(ctx, tasks)
	if err != nil {
		return err
	}

	sinks, err := openSinks(ctx, cfg.Storage.JournalPath, logger, runner, res)
	if err != nil {
		return err
	}
	defer sinks.Close()

	var extra []mission.Observer
	if err := k8s.CheckCRDs(ctx, client.CRDs); err != nil {
		logger.Warnf("MissionStatus publishing disabled: %v", err)
	} else {
		extra = append(extra, client.StatusPublisher())
	}

	if opts.listen != "" {
		server := &http.Server{
			Addr:         opts.listen,
			Handler:      newStatusMux(sinks.recorder),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Infof("Status server starting on %s", opts.listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Errorf("Status server failed: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
	}

	if err := mission.NewController(runner, cfg.Mission, sinks.observers(extra...)...).Run(ctx); err != nil {
		return err
	}
	return writeSummary(cmd.OutOrStdout(), runner, sinks.recorder.Snapshot())
}
