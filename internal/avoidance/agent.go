package avoidance

import (
	"math"

	"github.com/yourusername/uav-mission-core/pkg/models"
)

// Config 反应式避障配置
type Config struct {
	MinTTC       float64 `mapstructure:"min_ttc"`       // 最小允许碰撞时间 (s)
	MinClearance float64 `mapstructure:"min_clearance"` // 最小净空 (m)
	InflateM     float64 `mapstructure:"inflate_m"`     // 障碍物半径膨胀量 (m)

	// 代价权重
	WGoal      float64 `mapstructure:"w_goal"`
	WClearance float64 `mapstructure:"w_clearance"`
	WTTC       float64 `mapstructure:"w_ttc"`
	WSmooth    float64 `mapstructure:"w_smooth"`

	// 死锁检测
	WindowSec           float64 `mapstructure:"window_sec"`
	ProgressEpsilon     float64 `mapstructure:"progress_epsilon"`
	FrontBlockThreshold float64 `mapstructure:"front_block_threshold"`

	// 候选生成
	ScanStepDeg float64 `mapstructure:"scan_step_deg"`
	ScanSteps   int     `mapstructure:"scan_steps"`
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		MinTTC:              1.8,
		MinClearance:        0.8,
		WGoal:               1.0,
		WClearance:          0.8,
		WTTC:                0.6,
		WSmooth:             0.3,
		WindowSec:           2.0,
		ProgressEpsilon:     0.4,
		FrontBlockThreshold: 0.65,
		ScanStepDeg:         15.0,
		ScanSteps:           4,
	}
}

const (
	minRadius         = 0.1
	minCandidateSpeed = 0.5
	minBoostedSpeed   = 1.0
	speedBoost        = 0.5
	inverseK          = 0.7
	inverseEps        = 1e-3
	recoveryPhaseCap  = 6
	recoverySpeedLow  = 0.6
	recoverySpeedHigh = 1.2
	zeroSpeed         = 1e-6
)

// State 单机避障状态，在每次调用之间显式传递
type State struct {
	Recovery    bool    `json:"recovery"`
	Phase       int     `json:"phase"` // 1..6，仅恢复模式有效
	Sign        int     `json:"sign"`  // 侧向交替标志 ±1，零值视为 +1
	AccTime     float64 `json:"acc_time"`
	AccProgress float64 `json:"acc_progress"`
	Entries     int     `json:"entries"` // 进入恢复模式的次数
}

// NewState 初始状态
func NewState() State {
	return State{Sign: 1}
}

// Input 单次避障输入
type Input struct {
	Reference         models.Velocity
	DT                float64
	Progress          float64
	FrontBlockedRatio float64
	Obstacles         []models.Obstacle
	Previous          models.Velocity
	MaxSpeed          float64
}

// Output 单次避障输出
type Output struct {
	Velocity   models.Velocity
	InRecovery bool
	TotalBlock bool    // 航向扇区全部被硬约束过滤，只能停止
	TTC        float64 // 选中速度的最小碰撞时间
	Clearance  float64 // 选中速度的最小净空
	Offset     float64 // 恢复模式下相对参考航向的偏转角 (rad)
}

// Step 执行一个控制周期：死锁窗口更新、恢复或代价最优选择
func Step(cfg Config, s State, in Input) (State, Output) {
	if s.Sign == 0 {
		s.Sign = 1
	}

	s = updateWindow(cfg, s, in)
	if s.Recovery {
		return recoveryStep(cfg, s, in)
	}

	out := pick(cfg, in)
	if out.TotalBlock && in.FrontBlockedRatio >= cfg.FrontBlockThreshold {
		s = enterRecovery(s)
		return recoveryStep(cfg, s, in)
	}
	return s, out
}

// updateWindow 累积窗口时间与前进量，窗口到期时判定是否卡死并重置
func updateWindow(cfg Config, s State, in Input) State {
	s.AccTime += in.DT
	s.AccProgress += math.Max(0, in.Progress)
	if s.AccTime < cfg.WindowSec {
		return s
	}

	stalled := s.AccProgress < cfg.ProgressEpsilon && in.FrontBlockedRatio >= cfg.FrontBlockThreshold
	s.AccTime = 0
	s.AccProgress = 0

	switch {
	case stalled && !s.Recovery:
		s = enterRecovery(s)
	case !stalled && s.Recovery:
		s.Recovery = false
		s.Phase = 0
	}
	return s
}

func enterRecovery(s State) State {
	s.Recovery = true
	s.Phase = 1
	s.Sign = -s.Sign
	s.Entries++
	return s
}

// recoveryStep Look-and-Turn：按相位逐步加大偏转，绕过代价优化与硬约束
func recoveryStep(cfg Config, s State, in Input) (State, Output) {
	speed := math.Max(recoverySpeedLow, math.Min(in.MaxSpeed, recoverySpeedHigh))
	offset := float64(s.Sign) * float64(s.Phase) * scanStep(cfg)
	heading := math.Atan2(in.Reference.VY, in.Reference.VX) + offset

	s.Phase = min(s.Phase+1, recoveryPhaseCap)

	return s, Output{
		Velocity:   models.Velocity{VX: speed * math.Cos(heading), VY: speed * math.Sin(heading)},
		InRecovery: true,
		TTC:        math.Inf(1),
		Clearance:  math.Inf(1),
		Offset:     offset,
	}
}

func scanStep(cfg Config) float64 {
	return cfg.ScanStepDeg * math.Pi / 180
}

type scored struct {
	v         models.Velocity
	ttc       float64
	clearance float64
	cost      float64
}

// pick 在通过硬约束的候选中选择代价最小者；无可行候选或有参考速度却选中停止时输出零速并标记全阻塞
func pick(cfg Config, in Input) Output {
	refAngle := math.Atan2(in.Reference.VY, in.Reference.VX)
	refSpeed := in.Reference.Speed()

	var best *scored
	for _, v := range Candidates(cfg, in.Reference, in.MaxSpeed) {
		ttc := MinTTC(v, in.Obstacles, cfg.InflateM)
		clr := MinClearance(v, in.Obstacles, cfg.InflateM)
		if ttc < cfg.MinTTC || clr < cfg.MinClearance {
			continue
		}

		var deviation float64
		if v.Speed() < zeroSpeed {
			if refSpeed >= zeroSpeed {
				deviation = math.Pi
			}
		} else {
			deviation = math.Abs(wrapAngle(math.Atan2(v.VY, v.VX) - refAngle))
		}

		cost := cfg.WGoal*deviation +
			cfg.WClearance*(inverseK/(clr+inverseEps)) +
			cfg.WTTC*(inverseK/(ttc+inverseEps)) +
			cfg.WSmooth*math.Hypot(v.VX-in.Previous.VX, v.VY-in.Previous.VY)

		if best == nil || cost < best.cost {
			best = &scored{v: v, ttc: ttc, clearance: clr, cost: cost}
		}
	}

	if best == nil {
		return Output{TotalBlock: true}
	}
	out := Output{Velocity: best.v, TTC: best.ttc, Clearance: best.clearance}
	if best.v.Speed() < zeroSpeed && refSpeed >= zeroSpeed {
		out.TotalBlock = true
	}
	return out
}

// Candidates 参考航向两侧 ±ScanSteps 个扫描步长，每个航向两档速度，外加停止
func Candidates(cfg Config, ref models.Velocity, maxSpeed float64) []models.Velocity {
	angle := math.Atan2(ref.VY, ref.VX)
	refSpeed := ref.Speed()
	speeds := [2]float64{
		math.Min(maxSpeed, math.Max(minCandidateSpeed, math.Min(refSpeed, maxSpeed))),
		math.Min(maxSpeed, math.Max(minBoostedSpeed, refSpeed+speedBoost)),
	}

	step := scanStep(cfg)
	out := make([]models.Velocity, 0, 2*(2*cfg.ScanSteps+1)+1)
	for k := -cfg.ScanSteps; k <= cfg.ScanSteps; k++ {
		a := angle + float64(k)*step
		for _, s := range speeds {
			out = append(out, models.Velocity{VX: s * math.Cos(a), VY: s * math.Sin(a)})
		}
	}
	return append(out, models.Velocity{})
}

// TimeToCollision 速度 v 下与障碍物膨胀圆首次相交的时间，不相交为 +Inf
//
// 相对位置 p 为障碍物中心，相对速度 w = 障碍物速度 - v。
// p·w >= 0（远离）或判别式为负时不会碰撞；已在膨胀圆内且仍在接近时返回 0。
func TimeToCollision(v models.Velocity, o models.Obstacle, inflate float64) float64 {
	px, py := o.X, o.Y
	wx, wy := o.VX-v.VX, o.VY-v.VY

	w2 := wx*wx + wy*wy
	if w2 < zeroSpeed {
		return math.Inf(1)
	}
	c := px*wx + py*wy
	if c >= 0 {
		return math.Inf(1)
	}

	r := effectiveRadius(o, inflate)
	d2 := px*px + py*py
	disc := c*c - w2*(d2-r*r)
	if disc < 0 {
		return math.Inf(1)
	}

	sq := math.Sqrt(disc)
	t1 := (-c - sq) / w2
	if t1 >= 0 {
		return t1
	}
	if t2 := (-c + sq) / w2; t2 >= 0 {
		return 0
	}
	return math.Inf(1)
}

// MinTTC 所有障碍物的最小碰撞时间，无障碍物时为 +Inf
func MinTTC(v models.Velocity, obstacles []models.Obstacle, inflate float64) float64 {
	best := math.Inf(1)
	for _, o := range obstacles {
		best = math.Min(best, TimeToCollision(v, o, inflate))
	}
	return best
}

// Clearance 从原点沿 v 方向射线到障碍物中心的距离减去有效半径
//
// 障碍物在射线后方时取到原点的距离；零速度（悬停）同样取到原点的距离。
func Clearance(v models.Velocity, o models.Obstacle, inflate float64) float64 {
	r := effectiveRadius(o, inflate)
	speed := v.Speed()
	if speed < zeroSpeed {
		return math.Hypot(o.X, o.Y) - r
	}

	ux, uy := v.VX/speed, v.VY/speed
	if o.X*ux+o.Y*uy < 0 {
		return math.Hypot(o.X, o.Y) - r
	}
	return math.Abs(o.X*uy-o.Y*ux) - r
}

// MinClearance 所有障碍物的最小净空，无障碍物时为 +Inf
func MinClearance(v models.Velocity, obstacles []models.Obstacle, inflate float64) float64 {
	best := math.Inf(1)
	for _, o := range obstacles {
		best = math.Min(best, Clearance(v, o, inflate))
	}
	return best
}

func effectiveRadius(o models.Obstacle, inflate float64) float64 {
	return math.Max(o.Radius+math.Max(0, inflate), minRadius)
}

func wrapAngle(a float64) float64 {
	for a > math.Pi {
		a -= 2 * math.Pi
	}
	for a < -math.Pi {
		a += 2 * math.Pi
	}
	return a
}
