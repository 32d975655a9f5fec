package models

import (
	"fmt"
	"math"
)

// Velocity 速度指令/速度向量 (m/s)
type Velocity struct {
	VX float64 `json:"vx"`
	VY float64 `json:"vy"`
	VZ float64 `json:"vz"`
}

// Speed 水平速度大小
func (v Velocity) Speed() float64 {
	return math.Hypot(v.VX, v.VY)
}

// IsZero 是否为零速
func (v Velocity) IsZero() bool {
	return v.VX == 0 && v.VY == 0 && v.VZ == 0
}

// Obstacle 障碍物，位置与速度均在观测无人机的机体坐标系中
type Obstacle struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	VX     float64 `json:"vx"`
	VY     float64 `json:"vy"`
	Radius float64 `json:"radius"`
}

// LinkStats 链路统计
type LinkStats struct {
	RSSI     float64 `json:"rssi"`      // dBm
	SNR      float64 `json:"snr"`       // dB
	LossRate float64 `json:"loss_rate"` // [0,1]
}

// Telemetry 单架无人机单个控制周期的遥测
type Telemetry struct {
	DroneID            string     `json:"drone_id"`
	Position           Point      `json:"position"`
	BatteryRemainingWh float64    `json:"battery_remaining_wh"`
	Link               LinkStats  `json:"link"`
	MaxSpeedMPS        float64    `json:"max_speed_mps"`
	ProgressMeters     float64    `json:"progress_m"`
	FrontBlockedRatio  float64    `json:"front_blocked_ratio"`
	Obstacles          []Obstacle `json:"obstacles"`

	// RemainingPlanMeters 主机侧估计的剩余航程，<=0 表示由执行器自行计算
	RemainingPlanMeters float64 `json:"remaining_plan_m"`
}

// Mode 能量/链路决策模式（封闭枚举）
type Mode int

const (
	ModeContinue Mode = iota
	ModeSimplify
	ModeHandoff
	ModeRTB
	ModeLandAtZone
)

func (m Mode) String() string {
	switch m {
	case ModeContinue:
		return "continue"
	case ModeSimplify:
		return "simplify"
	case ModeHandoff:
		return "handoff"
	case ModeRTB:
		return "rtb"
	case ModeLandAtZone:
		return "land_lz"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Returning 是否为离开任务区的模式
func (m Mode) Returning() bool {
	return m == ModeRTB || m == ModeLandAtZone
}

// ParseMode 解析模式字符串
func ParseMode(s string) (Mode, error) {
	for m := ModeContinue; m <= ModeLandAtZone; m++ {
		if m.String() == s {
			return m, nil
		}
	}
	return ModeContinue, fmt.Errorf("unknown mode %q", s)
}

// Decision 决策结果
type Decision struct {
	Mode   Mode   `json:"mode"`
	Path   Plan   `json:"path,omitempty"`      // rtb / land_lz 替换路径
	Target *Point `json:"target_lz,omitempty"` // land_lz 目标

	// 诊断信息
	LinkQuality   float64 `json:"link_quality"`
	MissionEnergy float64 `json:"mission_energy_wh"`
	RTBEnergy     float64 `json:"rtb_energy_wh"`
	MarginWh      float64 `json:"margin_wh"`
}
