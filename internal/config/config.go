package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/yourusername/uav-mission-core/internal/allocator"
	"github.com/yourusername/uav-mission-core/internal/avoidance"
	"github.com/yourusername/uav-mission-core/internal/coverage"
	"github.com/yourusername/uav-mission-core/internal/energy"
	"github.com/yourusername/uav-mission-core/internal/mission"
)

// Config 应用配置
type Config struct {
	Allocator allocator.Config `mapstructure:"allocator"`
	Coverage  coverage.Config  `mapstructure:"coverage"`
	Avoidance avoidance.Config `mapstructure:"avoidance"`
	Energy    energy.Config    `mapstructure:"energy"`
	Mission   mission.Config   `mapstructure:"mission"`
	K8s       K8sConfig        `mapstructure:"k8s"`
	Storage   StorageConfig    `mapstructure:"storage"`
	Logging   LoggingConfig    `mapstructure:"logging"`
}

// K8sConfig K8s配置
type K8sConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Kubeconfig     string        `mapstructure:"kubeconfig"`
	Namespace      string        `mapstructure:"namespace"`
	AgentLabel     string        `mapstructure:"agent_label"` // uav-agent Pod 的 label selector
	AgentPort      int           `mapstructure:"agent_port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	StatusName     string        `mapstructure:"status_name"` // MissionStatus 资源名
}

// StorageConfig 存储配置
type StorageConfig struct {
	JournalPath string `mapstructure:"journal_path"` // 为空时不记录任务日志
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// Load 加载配置文件，path 为空时只使用默认值与环境变量
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// 设置默认值
	setDefaults(v)

	// 读取环境变量
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	processEnvVars(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

// setDefaults 设置默认值
func setDefaults(v *viper.Viper) {
	a := allocator.DefaultConfig()
	v.SetDefault("allocator.alpha", a.Alpha)
	v.SetDefault("allocator.beta", a.Beta)
	v.SetDefault("allocator.gamma", a.Gamma)
	v.SetDefault("allocator.rounds", a.Rounds)
	v.SetDefault("allocator.max_tasks_per_agent", a.MaxTasksPerAgent)

	c := coverage.DefaultConfig()
	v.SetDefault("coverage.footprint_m", c.FootprintM)
	v.SetDefault("coverage.overlap_perp", c.OverlapPerp)
	v.SetDefault("coverage.kappa", c.Kappa)
	v.SetDefault("coverage.cruise_speed_mps", c.CruiseSpeedMPS)
	v.SetDefault("coverage.altitude_m", c.AltitudeM)
	v.SetDefault("coverage.cell_size_m", c.CellSizeM)
	v.SetDefault("coverage.sweep_axis", c.SweepAxis)

	av := avoidance.DefaultConfig()
	v.SetDefault("avoidance.min_ttc", av.MinTTC)
	v.SetDefault("avoidance.min_clearance", av.MinClearance)
	v.SetDefault("avoidance.inflate_m", av.InflateM)
	v.SetDefault("avoidance.w_goal", av.WGoal)
	v.SetDefault("avoidance.w_clearance", av.WClearance)
	v.SetDefault("avoidance.w_ttc", av.WTTC)
	v.SetDefault("avoidance.w_smooth", av.WSmooth)
	v.SetDefault("avoidance.window_sec", av.WindowSec)
	v.SetDefault("avoidance.progress_epsilon", av.ProgressEpsilon)
	v.SetDefault("avoidance.front_block_threshold", av.FrontBlockThreshold)
	v.SetDefault("avoidance.scan_step_deg", av.ScanStepDeg)
	v.SetDefault("avoidance.scan_steps", av.ScanSteps)

	e := energy.DefaultConfig()
	v.SetDefault("energy.model.cruise_power_w", e.Model.CruisePowerW)
	v.SetDefault("energy.model.hover_power_w", e.Model.HoverPowerW)
	v.SetDefault("energy.model.maneuver_power_w", e.Model.ManeuverPowerW)
	v.SetDefault("energy.model.cruise_speed_mps", e.Model.CruiseSpeedMPS)
	v.SetDefault("energy.policy.reserve_fraction", e.Policy.ReserveFraction)
	v.SetDefault("energy.policy.ok_margin", e.Policy.OkMarginMultiplier)
	v.SetDefault("energy.policy.min_margin", e.Policy.MinMarginMultiplier)
	v.SetDefault("energy.policy.ok_link", e.Policy.OkLinkThreshold)
	v.SetDefault("energy.policy.critical_link", e.Policy.CriticalLinkThreshold)
	v.SetDefault("energy.home", map[string]interface{}{"x": e.Home.X, "y": e.Home.Y, "z": e.Home.Z})
	zones := make([]map[string]interface{}, 0, len(e.LandingZones))
	for _, lz := range e.LandingZones {
		zones = append(zones, map[string]interface{}{"x": lz.X, "y": lz.Y, "z": lz.Z})
	}
	v.SetDefault("energy.landing_zones", zones)
	v.SetDefault("energy.altitude_m", e.AltitudeM)
	v.SetDefault("energy.path_step_m", e.PathStepM)
	v.SetDefault("energy.path_speed_mps", e.PathSpeedMPS)
	v.SetDefault("energy.reserve_hover_sec", e.ReserveHoverSec)
	v.SetDefault("energy.reserve_maneuver_sec", e.ReserveManeuverSec)
	v.SetDefault("energy.mission_maneuver_sec", e.MissionManeuverSec)

	m := mission.DefaultConfig()
	v.SetDefault("mission.tick_interval", m.TickInterval)
	v.SetDefault("mission.arrival_threshold_m", m.ArrivalThresholdM)
	v.SetDefault("mission.parallelism", m.Parallelism)
	v.SetDefault("mission.dispatch_waypoints", m.DispatchWaypoints)
	v.SetDefault("mission.max_ticks", m.MaxTicks)
	v.SetDefault("mission.step_seconds", m.StepSeconds)

	v.SetDefault("k8s.enabled", false)
	v.SetDefault("k8s.kubeconfig", "")
	v.SetDefault("k8s.namespace", "default")
	v.SetDefault("k8s.agent_label", "app=uav-agent")
	v.SetDefault("k8s.agent_port", 9090)
	v.SetDefault("k8s.request_timeout", 5*time.Second)
	v.SetDefault("k8s.status_name", "mission")

	v.SetDefault("storage.journal_path", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
}

// processEnvVars 处理环境变量
func processEnvVars(v *viper.Viper) {
	if path := os.Getenv("MISSION_JOURNAL"); path != "" {
		v.Set("storage.journal_path", path)
	}
	if kubeconfig := os.Getenv("KUBECONFIG"); kubeconfig != "" && v.GetString("k8s.kubeconfig") == "" {
		v.Set("k8s.kubeconfig", kubeconfig)
	}
}

// NewLogger 按日志配置创建 logger
func NewLogger(cfg LoggingConfig) (*logrus.Logger, error) {
	logger := logrus.New()

	level := logrus.InfoLevel
	if cfg.Level != "" {
		parsed, err := logrus.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		level = parsed
	}
	logger.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "", "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("invalid log format %q", cfg.Format)
	}

	var out io.Writer
	switch cfg.Output {
	case "", "stdout":
		out = os.Stdout
	case "stderr":
		out = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log output: %w", err)
		}
		out = f
	}
	logger.SetOutput(out)

	return logger, nil
}
