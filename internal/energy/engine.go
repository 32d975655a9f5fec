package energy

import (
	"math"

	"github.com/yourusername/uav-mission-core/pkg/models"
)

// ModelConfig 功率模型 (W)
type ModelConfig struct {
	CruisePowerW   float64 `mapstructure:"cruise_power_w"`
	HoverPowerW    float64 `mapstructure:"hover_power_w"`
	ManeuverPowerW float64 `mapstructure:"maneuver_power_w"`
	CruiseSpeedMPS float64 `mapstructure:"cruise_speed_mps"`
}

// PolicyConfig 决策阈值
type PolicyConfig struct {
	ReserveFraction       float64 `mapstructure:"reserve_fraction"` // 保留字段，当前决策阶梯不使用
	OkMarginMultiplier    float64 `mapstructure:"ok_margin"`
	MinMarginMultiplier   float64 `mapstructure:"min_margin"`
	OkLinkThreshold       float64 `mapstructure:"ok_link"`
	CriticalLinkThreshold float64 `mapstructure:"critical_link"`
}

// Config 决策引擎配置
type Config struct {
	Model  ModelConfig  `mapstructure:"model"`
	Policy PolicyConfig `mapstructure:"policy"`

	Home         models.Point   `mapstructure:"home"`
	LandingZones []models.Point `mapstructure:"landing_zones"`

	AltitudeM    float64 `mapstructure:"altitude_m"`     // 返航/迫降路径高度
	PathStepM    float64 `mapstructure:"path_step_m"`    // 直线路径采样步长
	PathSpeedMPS float64 `mapstructure:"path_speed_mps"` // 直线路径航段速度

	ReserveHoverSec    float64 `mapstructure:"reserve_hover_sec"`
	ReserveManeuverSec float64 `mapstructure:"reserve_maneuver_sec"`
	MissionManeuverSec float64 `mapstructure:"mission_maneuver_sec"`
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		Model: ModelConfig{
			CruisePowerW:   65.0,
			HoverPowerW:    70.0,
			ManeuverPowerW: 80.0,
			CruiseSpeedMPS: 3.0,
		},
		Policy: PolicyConfig{
			ReserveFraction:       0.2,
			OkMarginMultiplier:    1.5,
			MinMarginMultiplier:   1.1,
			OkLinkThreshold:       0.7,
			CriticalLinkThreshold: 0.4,
		},
		Home: models.Point{X: 0, Y: -50},
		LandingZones: []models.Point{
			{X: 30, Y: -10},
			{X: -25, Y: -20},
		},
		AltitudeM:          22.0,
		PathStepM:          30.0,
		PathSpeedMPS:       3.0,
		ReserveHoverSec:    120.0,
		ReserveManeuverSec: 10.0,
		MissionManeuverSec: 5.0,
	}
}

const (
	secondsPerHour = 3600.0
	minSpeed       = 0.1
	minPathStep    = 1.0

	rssiFloorDBm = -90.0
	rssiSpanDB   = 40.0
	snrSpanDB    = 30.0

	wRSSI = 0.5
	wSNR  = 0.3
	wLoss = 0.2
)

// Engine 能量/链路决策引擎，无跨周期状态
type Engine struct {
	cfg Config
}

// New 创建决策引擎
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Config 返回引擎配置
func (e *Engine) Config() Config {
	return e.cfg
}

// LinkQuality RSSI/SNR/丢包率归一化后加权混合，结果在 [0,1]
func LinkQuality(ls models.LinkStats) float64 {
	rssi := models.Clamp01((ls.RSSI - rssiFloorDBm) / rssiSpanDB)
	snr := models.Clamp01(ls.SNR / snrSpanDB)
	loss := 1 - models.Clamp01(ls.LossRate)
	return wRSSI*rssi + wSNR*snr + wLoss*loss
}

// MissionEnergy 完成剩余航程所需能量 (Wh)
func (e *Engine) MissionEnergy(remainingM float64) float64 {
	m := e.cfg.Model
	t := math.Max(0, remainingM) / math.Max(m.CruiseSpeedMPS, minSpeed)
	return (m.CruisePowerW*t + m.ManeuverPowerW*e.cfg.MissionManeuverSec) / secondsPerHour
}

// RTBEnergy 从 pos 直线返航所需能量 (Wh)，含固定悬停与机动储备
func (e *Engine) RTBEnergy(pos models.Point) float64 {
	m := e.cfg.Model
	t := pos.DistanceXY(e.cfg.Home) / math.Max(m.CruiseSpeedMPS, minSpeed)
	return (m.CruisePowerW*t + e.reserve()) / secondsPerHour
}

func (e *Engine) reserve() float64 {
	m := e.cfg.Model
	return m.HoverPowerW*e.cfg.ReserveHoverSec + m.ManeuverPowerW*e.cfg.ReserveManeuverSec
}

// Decide 按 continue → simplify → rtb → land_lz 阶梯给出决策
func (e *Engine) Decide(drone models.DroneState, batteryWh float64, link models.LinkStats, remainingM float64) models.Decision {
	p := e.cfg.Policy
	q := LinkQuality(link)
	mission := e.MissionEnergy(remainingM)
	rtb := e.RTBEnergy(drone.Position)
	margin := batteryWh - (mission + rtb)

	d := models.Decision{
		LinkQuality:   q,
		MissionEnergy: mission,
		RTBEnergy:     rtb,
		MarginWh:      margin,
	}

	switch {
	case margin >= p.OkMarginMultiplier*rtb && q >= p.OkLinkThreshold:
		d.Mode = models.ModeContinue
	case margin >= p.MinMarginMultiplier*rtb && q >= p.CriticalLinkThreshold:
		d.Mode = models.ModeSimplify
	case batteryWh >= rtb:
		d.Mode = models.ModeRTB
		d.Path = e.StraightPath(drone.Position, e.cfg.Home)
	default:
		lz := e.NearestLandingZone(drone.Position)
		d.Mode = models.ModeLandAtZone
		d.Path = e.StraightPath(drone.Position, lz)
		d.Target = &lz
	}
	return d
}

// NearestLandingZone 最近的备降点，未配置时退回 home
func (e *Engine) NearestLandingZone(pos models.Point) models.Point {
	if len(e.cfg.LandingZones) == 0 {
		return e.cfg.Home
	}
	best := e.cfg.LandingZones[0]
	for _, lz := range e.cfg.LandingZones[1:] {
		if pos.SquaredDistanceXY(lz) < pos.SquaredDistanceXY(best) {
			best = lz
		}
	}
	return best
}

// StraightPath 从 a 到 b 的直线，按固定步长等分采样，不含起点
func (e *Engine) StraightPath(a, b models.Point) models.Plan {
	step := math.Max(e.cfg.PathStepM, minPathStep)
	dx, dy := b.X-a.X, b.Y-a.Y
	n := int(math.Max(1, math.Floor(math.Hypot(dx, dy)/step)))

	path := make(models.Plan, 0, n)
	for i := 1; i <= n; i++ {
		t := float64(i) / float64(n)
		path = append(path, models.Waypoint{
			Position: models.Point{X: a.X + t*dx, Y: a.Y + t*dy, Z: e.cfg.AltitudeM},
			SpeedMPS: e.cfg.PathSpeedMPS,
		})
	}
	return path
}
