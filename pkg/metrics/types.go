package metrics

import (
	"time"

	"github.com/yourusername/uav-mission-core/pkg/models"
)

// DroneTick 单架无人机单个控制周期的结果
type DroneTick struct {
	DroneID   string    `json:"drone_id"`
	Timestamp time.Time `json:"timestamp"`

	// 执行状态
	Skipped     bool `json:"skipped"`      // 已完成，未处理
	Finished    bool `json:"finished"`     // 本周期被标记完成
	InRecovery  bool `json:"in_recovery"`  // 避障处于 Look-and-Turn
	ReachedHead bool `json:"reached_head"` // 本周期弹出了队首航点

	// 指令与计划
	Command    models.Velocity `json:"command"`
	PlanLength int             `json:"plan_length"` // 处理后剩余航点数

	// 能量/链路决策
	Mode        models.Mode `json:"mode"`
	BatteryWh   float64     `json:"battery_wh"`
	MarginWh    float64     `json:"margin_wh"`
	LinkQuality float64     `json:"link_quality"`

	// 重新分配
	ReleasedTasks []string `json:"released_tasks,omitempty"` // 本机交回任务池的任务

	Error string `json:"error,omitempty"`
}

// TickReport 一个控制周期的整体报告
type TickReport struct {
	MissionID string        `json:"mission_id"`
	Tick      int           `json:"tick"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration"`

	// 按 droneID 升序
	Drones []DroneTick `json:"drones"`

	// Reassigned 本周期重新分配结果 droneID -> taskIDs
	Reassigned map[string][]string `json:"reassigned,omitempty"`
	Unclaimed  []string            `json:"unclaimed,omitempty"`

	Done bool `json:"done"`
}

// MissionSnapshot 任务整体统计快照
type MissionSnapshot struct {
	MissionID string    `json:"mission_id"`
	Timestamp time.Time `json:"timestamp"`

	Ticks          int `json:"ticks"`
	ActiveDrones   int `json:"active_drones"`
	FinishedDrones int `json:"finished_drones"`

	ModeCounts      map[string]int `json:"mode_counts"`      // 各模式累计出现次数
	RecoveryTicks   int            `json:"recovery_ticks"`   // 处于恢复模式的累计机次
	WaypointsPopped int            `json:"waypoints_popped"` // 累计到达航点
	TasksReassigned int            `json:"tasks_reassigned"` // 累计重新分配任务
	Errors          int            `json:"errors"`

	Drones map[string]DroneTick `json:"drones"` // 每架最近一次结果

	Done bool `json:"done"`
}

// Find 查找指定无人机本周期结果
func (r *TickReport) Find(droneID string) (DroneTick, bool) {
	for _, d := range r.Drones {
		if d.DroneID == droneID {
			return d, true
		}
	}
	return DroneTick{}, false
}
