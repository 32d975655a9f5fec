package cli

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/yourusername/uav-mission-core/internal/allocator"
	"github.com/yourusername/uav-mission-core/internal/avoidance"
	"github.com/yourusername/uav-mission-core/internal/config"
	"github.com/yourusername/uav-mission-core/internal/coverage"
	"github.com/yourusername/uav-mission-core/internal/energy"
	"github.com/yourusername/uav-mission-core/internal/mission"
	"github.com/yourusername/uav-mission-core/internal/scenario"
	"github.com/yourusername/uav-mission-core/pkg/models"
)

// globalFlags 所有子命令共享的参数
type globalFlags struct {
	configPath string
	logLevel   string
	logFormat  string
	logOutput  string
}

// NewRootCommand 构造 missiond 命令树
func NewRootCommand() *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:   "missiond",
		Short: "Multi-drone coverage mission core",
		Long: `missiond allocates coverage tasks to a drone fleet, plans boustrophedon routes,
and runs the mission loop with reactive avoidance and energy/link decisions.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "config file path")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "override logging.level")
	root.PersistentFlags().StringVar(&g.logFormat, "log-format", "", "override logging.format (json|text)")
	root.PersistentFlags().StringVar(&g.logOutput, "log-output", "", "override logging.output (stdout|stderr|<file>)")

	root.AddCommand(newPlanCommand(g), newSimulateCommand(g), newRunCommand(g))
	return root
}

// Execute 执行根命令
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// load 读取配置并创建 logger
func (g *globalFlags) load() (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, nil, err
	}
	if g.logLevel != "" {
		cfg.Logging.Level = g.logLevel
	}
	if g.logFormat != "" {
		cfg.Logging.Format = g.logFormat
	}
	if g.logOutput != "" {
		cfg.Logging.Output = g.logOutput
	}
	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// components 按配置创建算法组件
type components struct {
	allocator *allocator.Auctioneer
	planner   *coverage.Planner
	energy    *energy.Engine
	avoidance *avoidance.Bank
}

func newComponents(cfg *config.Config, logger *logrus.Logger) components {
	return components{
		allocator: allocator.New(cfg.Allocator, logger),
		planner:   coverage.New(cfg.Coverage),
		energy:    energy.New(cfg.Energy),
		avoidance: avoidance.NewBank(cfg.Avoidance),
	}
}

func (c components) runner(cfg *config.Config, logger *logrus.Logger, drones []models.DroneState, tel mission.Telemetry, cmd mission.FlightCommander) *mission.Runner {
	return mission.NewRunner(cfg.Mission, mission.Deps{
		Drones:    drones,
		Telemetry: tel,
		Commander: cmd,
		Allocator: c.allocator,
		Planner:   c.planner,
		Energy:    c.energy,
		Avoidance: c.avoidance,
		Logger:    logger,
	})
}

// applyScenario 场景中的返航点与迫降点覆盖配置
func applyScenario(cfg *config.Config, sc *scenario.Scenario) {
	if sc.Home != nil {
		cfg.Energy.Home = *sc.Home
	}
	if len(sc.LandingZones) > 0 {
		cfg.Energy.LandingZones = append([]models.Point(nil), sc.LandingZones...)
	}
}
