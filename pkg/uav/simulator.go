package uav

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/yourusername/uav-mission-core/pkg/models"
)

// 飞行状态
const (
	StateIdle     = "IDLE"
	StateActive   = "ACTIVE"
	StateDepleted = "DEPLETED"
)

const (
	maxMessages   = 10
	movingSpeed   = 0.1
	frontRays     = 9
	frontHalfFOV  = math.Pi / 4
	minLinkRangeM = 1.0
)

// DroneConfig 模拟无人机参数
type DroneConfig struct {
	ID       string       `json:"id" yaml:"id"`
	NodeName string       `json:"node_name" yaml:"node_name"`
	Start    models.Point `json:"start" yaml:"start"`
	Home     models.Point `json:"home" yaml:"home"`

	BatteryWh   float64 `json:"battery_wh" yaml:"battery_wh"`
	MaxSpeedMPS float64 `json:"max_speed_mps" yaml:"max_speed_mps"`

	CruisePowerW float64 `json:"cruise_power_w" yaml:"cruise_power_w"` // 移动时放电功率
	HoverPowerW  float64 `json:"hover_power_w" yaml:"hover_power_w"`   // 悬停时放电功率

	LinkRangeM   float64 `json:"link_range_m" yaml:"link_range_m"`     // 链路质量随距 home 距离线性衰减至该距离
	SensorRangeM float64 `json:"sensor_range_m" yaml:"sensor_range_m"` // 障碍物探测距离
	FrontRangeM  float64 `json:"front_range_m" yaml:"front_range_m"`   // 前向遮挡检测距离
}

// DefaultDroneConfig 默认参数
func DefaultDroneConfig(id string) DroneConfig {
	return DroneConfig{
		ID:           id,
		Home:         models.Point{X: 0, Y: -50},
		BatteryWh:    60.0,
		MaxSpeedMPS:  5.0,
		CruisePowerW: 65.0,
		HoverPowerW:  70.0,
		LinkRangeM:   1500.0,
		SensorRangeM: 30.0,
		FrontRangeM:  4.0,
	}
}

// WorldObstacle 世界坐标系中的圆形障碍物，按恒定速度移动
type WorldObstacle struct {
	Position models.Point    `json:"position" yaml:"position"`
	Velocity models.Velocity `json:"velocity" yaml:"velocity"`
	Radius   float64         `json:"radius" yaml:"radius"`
}

// SimState 模拟无人机状态快照
type SimState struct {
	DroneID   string           `json:"drone_id"`
	NodeName  string           `json:"node_name"`
	State     string           `json:"state"`
	Position  models.Point     `json:"position"`
	Velocity  models.Velocity  `json:"velocity"`
	BatteryWh float64          `json:"battery_wh"`
	Link      models.LinkStats `json:"link"`
	Odometer  float64          `json:"odometer_m"`
	Waypoint  *models.Waypoint `json:"waypoint,omitempty"`
	Messages  []string         `json:"messages"`
	Timestamp time.Time        `json:"timestamp"`
}

// SimulatedDrone 运动学模拟无人机：速度积分、线性放电、链路随距离衰减
type SimulatedDrone struct {
	cfg      DroneConfig
	state    SimState
	progress float64 // 上次读取遥测以来的前进距离
	mu       sync.RWMutex
}

// NewSimulatedDrone 创建模拟无人机
func NewSimulatedDrone(cfg DroneConfig) *SimulatedDrone {
	d := &SimulatedDrone{
		cfg: cfg,
		state: SimState{
			DroneID:   cfg.ID,
			NodeName:  cfg.NodeName,
			State:     StateIdle,
			Position:  cfg.Start,
			BatteryWh: cfg.BatteryWh,
			Messages:  []string{},
			Timestamp: time.Now(),
		},
	}
	d.state.Link = d.linkAt(cfg.Start)
	return d
}

// ID 无人机ID
func (d *SimulatedDrone) ID() string {
	return d.cfg.ID
}

// GetState 获取当前状态（线程安全）
func (d *SimulatedDrone) GetState() SimState {
	d.mu.RLock()
	defer d.mu.RUnlock()

	s := d.state
	s.Messages = append([]string(nil), d.state.Messages...)
	return s
}

// SetVelocity 设置速度指令，超过最大速度时按比例缩放
func (d *SimulatedDrone) SetVelocity(v models.Velocity) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state.State == StateDepleted {
		return
	}
	if s := v.Speed(); s > d.cfg.MaxSpeedMPS && s > 0 {
		k := d.cfg.MaxSpeedMPS / s
		v.VX *= k
		v.VY *= k
	}
	d.state.Velocity = v
	if d.state.State == StateIdle && !v.IsZero() {
		d.state.State = StateActive
		d.addMessage("Mission started")
	}
}

// ExecuteWaypoint 记录当前航点
func (d *SimulatedDrone) ExecuteWaypoint(wp models.Waypoint) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.state.Waypoint = &wp
	d.addMessage(fmt.Sprintf("Waypoint (%.1f, %.1f)", wp.Position.X, wp.Position.Y))
}

// Advance 推进 dt 秒
func (d *SimulatedDrone) Advance(dt float64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if dt <= 0 {
		return
	}

	v := d.state.Velocity
	step := v.Speed() * dt
	d.state.Position.X += v.VX * dt
	d.state.Position.Y += v.VY * dt
	d.state.Odometer += step
	d.progress += step

	// 放电
	if d.state.State != StateIdle {
		power := d.cfg.HoverPowerW
		if v.Speed() > movingSpeed {
			power = d.cfg.CruisePowerW
		}
		d.state.BatteryWh -= power * dt / 3600.0
		if d.state.BatteryWh <= 0 {
			d.state.BatteryWh = 0
			d.state.Velocity = models.Velocity{}
			if d.state.State != StateDepleted {
				d.state.State = StateDepleted
				d.addMessage("Battery depleted")
			}
		}
	}

	d.state.Link = d.linkAt(d.state.Position)
	d.state.Timestamp = time.Now()
}

// linkAt 链路质量随距 home 距离线性衰减
func (d *SimulatedDrone) linkAt(p models.Point) models.LinkStats {
	r := math.Max(d.cfg.LinkRangeM, minLinkRangeM)
	f := models.Clamp01(p.DistanceXY(d.cfg.Home) / r)
	return models.LinkStats{
		RSSI:     -50 - 45*f,
		SNR:      30 * (1 - f),
		LossRate: models.Clamp01((f - 0.5) * 2),
	}
}

// Telemetry 生成遥测；障碍物转换为以无人机为原点、与世界坐标轴对齐的相对坐标
func (d *SimulatedDrone) Telemetry(obstacles []WorldObstacle) models.Telemetry {
	d.mu.Lock()
	defer d.mu.Unlock()

	pos := d.state.Position
	var rel []models.Obstacle
	for _, o := range obstacles {
		if pos.DistanceXY(o.Position)-o.Radius > d.cfg.SensorRangeM {
			continue
		}
		rel = append(rel, models.Obstacle{
			X:      o.Position.X - pos.X,
			Y:      o.Position.Y - pos.Y,
			VX:     o.Velocity.VX,
			VY:     o.Velocity.VY,
			Radius: o.Radius,
		})
	}

	maxSpeed := d.cfg.MaxSpeedMPS
	if d.state.State == StateDepleted {
		maxSpeed = 0
	}

	t := models.Telemetry{
		DroneID:            d.cfg.ID,
		Position:           pos,
		BatteryRemainingWh: d.state.BatteryWh,
		Link:               d.state.Link,
		MaxSpeedMPS:        maxSpeed,
		ProgressMeters:     d.progress,
		FrontBlockedRatio:  frontBlockedRatio(d.heading(), rel, d.cfg.FrontRangeM),
		Obstacles:          rel,
	}
	d.progress = 0
	return t
}

// heading 当前航向，悬停时取航点方向
func (d *SimulatedDrone) heading() float64 {
	v := d.state.Velocity
	if v.Speed() > movingSpeed {
		return math.Atan2(v.VY, v.VX)
	}
	if wp := d.state.Waypoint; wp != nil {
		return math.Atan2(wp.Position.Y-d.state.Position.Y, wp.Position.X-d.state.Position.X)
	}
	return 0
}

func (d *SimulatedDrone) addMessage(msg string) {
	d.state.Messages = append(d.state.Messages, msg)
	if len(d.state.Messages) > maxMessages {
		d.state.Messages = d.state.Messages[len(d.state.Messages)-maxMessages:]
	}
}

// frontBlockedRatio 前向 ±45° 扇区内被遮挡射线的比例
func frontBlockedRatio(heading float64, obstacles []models.Obstacle, rng float64) float64 {
	if len(obstacles) == 0 || rng <= 0 {
		return 0
	}
	blocked := 0
	for i := 0; i < frontRays; i++ {
		a := heading - frontHalfFOV + 2*frontHalfFOV*float64(i)/float64(frontRays-1)
		ux, uy := math.Cos(a), math.Sin(a)
		for _, o := range obstacles {
			if rayHits(ux, uy, rng, o) {
				blocked++
				break
			}
		}
	}
	return float64(blocked) / frontRays
}

// rayHits 从原点出发、长度 rng 的线段是否与障碍物圆相交
func rayHits(ux, uy, rng float64, o models.Obstacle) bool {
	proj := math.Max(0, math.Min(rng, o.X*ux+o.Y*uy))
	cx, cy := ux*proj-o.X, uy*proj-o.Y
	return cx*cx+cy*cy <= o.Radius*o.Radius
}
