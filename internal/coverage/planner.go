package coverage

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/yourusername/uav-mission-core/pkg/models"
)

// Axis 扫描方向
type Axis int

const (
	// AxisX 扫描线平行于X轴，沿Y方向推进
	AxisX Axis = iota
	// AxisY 扫描线平行于Y轴，沿X方向推进
	AxisY
)

func (a Axis) String() string {
	if a == AxisY {
		return "y"
	}
	return "x"
}

// ParseAxis 解析扫描方向 ("x" / "y")
func ParseAxis(s string) (Axis, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "x":
		return AxisX, nil
	case "y":
		return AxisY, nil
	default:
		return AxisX, fmt.Errorf("unknown sweep axis %q", s)
	}
}

// Config 覆盖规划配置
type Config struct {
	FootprintM     float64 `mapstructure:"footprint_m"`      // 传感器幅宽
	OverlapPerp    float64 `mapstructure:"overlap_perp"`     // 垂直方向重叠率
	Kappa          float64 `mapstructure:"kappa"`            // 优先级自适应系数
	CruiseSpeedMPS float64 `mapstructure:"cruise_speed_mps"` // 航段速度
	AltitudeM      float64 `mapstructure:"altitude_m"`       // 固定高度
	CellSizeM      float64 `mapstructure:"cell_size_m"`
	SweepAxis      string  `mapstructure:"sweep_axis"`
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		FootprintM:     20.0,
		OverlapPerp:    0.3,
		Kappa:          0.7,
		CruiseSpeedMPS: 3.0,
		AltitudeM:      20.0,
		CellSizeM:      60.0,
		SweepAxis:      "x",
	}
}

// minBaseSpacing 名义条带间距下限
const minBaseSpacing = 1.0

// Planner 牛耕式覆盖规划器
type Planner struct {
	cfg Config
}

// New 创建规划器
func New(cfg Config) *Planner {
	return &Planner{cfg: cfg}
}

// Axis 配置的扫描方向，无法解析时为 AxisX
func (p *Planner) Axis() Axis {
	axis, err := ParseAxis(p.cfg.SweepAxis)
	if err != nil {
		return AxisX
	}
	return axis
}

// CellSize 配置的单元边长
func (p *Planner) CellSize() float64 {
	return p.cfg.CellSizeM
}

// BaseSpacing d0 = footprint * (1 - overlap)
func (p *Planner) BaseSpacing() float64 {
	return math.Max(minBaseSpacing, p.cfg.FootprintM*(1-p.cfg.OverlapPerp))
}

// StripeSpacing d = d0 / (1 + kappa*clamp(priority))
func (p *Planner) StripeSpacing(priority float64) float64 {
	return p.BaseSpacing() / (1 + p.cfg.Kappa*models.Clamp01(priority))
}

// StripeRoute 以任务目标为中心、边长 cellSize 的方形单元内的往返扫描航线
func (p *Planner) StripeRoute(task models.Task, cellSize float64, axis Axis) models.Plan {
	step := p.StripeSpacing(task.Priority)
	half := cellSize / 2
	n := int(math.Max(1, math.Ceil(cellSize/step)))
	c := task.Target

	route := make(models.Plan, 0, 2*n)
	for i := 0; i < n; i++ {
		offset := -half + float64(i)*step

		var a, b models.Point
		if axis == AxisX {
			y := c.Y + offset
			a = models.Point{X: c.X - half, Y: y, Z: p.cfg.AltitudeM}
			b = models.Point{X: c.X + half, Y: y, Z: p.cfg.AltitudeM}
		} else {
			x := c.X + offset
			a = models.Point{X: x, Y: c.Y - half, Z: p.cfg.AltitudeM}
			b = models.Point{X: x, Y: c.Y + half, Z: p.cfg.AltitudeM}
		}
		if i%2 == 1 {
			a, b = b, a
		}
		route = append(route,
			models.Waypoint{Position: a, SpeedMPS: p.cfg.CruiseSpeedMPS, TaskID: task.ID},
			models.Waypoint{Position: b, SpeedMPS: p.cfg.CruiseSpeedMPS, TaskID: task.ID},
		)
	}
	return route
}

// Plan 为每架无人机按贪心最近任务串接生成完整航线
//
// 所有无人机都有条目（无任务时为空计划）；分配中出现但不在 drones 中的ID被忽略。
func (p *Planner) Plan(assignment models.Assignment, drones []models.DroneState, cellSize float64, axis Axis) map[string]models.Plan {
	if cellSize <= 0 {
		cellSize = p.cfg.CellSizeM
	}

	plans := make(map[string]models.Plan, len(drones))
	positions := make(map[string]models.Point, len(drones))
	for _, d := range drones {
		plans[d.DroneID] = models.Plan{}
		positions[d.DroneID] = d.Position
	}

	ids := make([]string, 0, len(assignment))
	for id := range assignment {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, droneID := range ids {
		cur, ok := positions[droneID]
		if !ok {
			continue
		}
		plans[droneID] = p.chain(cur, assignment[droneID], cellSize, axis)
	}
	return plans
}

// chain 从 start 出发，每次选择距链尾最近（距离平方）的未访问任务
func (p *Planner) chain(start models.Point, tasks []models.Task, cellSize float64, axis Axis) models.Plan {
	remaining := append([]models.Task(nil), tasks...)
	seq := models.Plan{}
	cur := start

	for len(remaining) > 0 {
		best := 0
		for i := 1; i < len(remaining); i++ {
			if cur.SquaredDistanceXY(remaining[i].Target) < cur.SquaredDistanceXY(remaining[best].Target) {
				best = i
			}
		}
		next := remaining[best]
		remaining = append(remaining[:best], remaining[best+1:]...)

		route := p.StripeRoute(next, cellSize, axis)
		seq = append(seq, route...)
		if len(route) > 0 {
			cur = route[len(route)-1].Position
		}
	}
	return seq
}
