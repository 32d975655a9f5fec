package models

import (
	"math"
)

// Point 三维坐标（米），不可变值
type Point struct {
	X float64 `json:"x" yaml:"x" mapstructure:"x"`
	Y float64 `json:"y" yaml:"y" mapstructure:"y"`
	Z float64 `json:"z" yaml:"z" mapstructure:"z"`
}

// DistanceXY 水平面欧氏距离
func (p Point) DistanceXY(q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// SquaredDistanceXY 水平面距离平方（用于最近邻比较）
func (p Point) SquaredDistanceXY(q Point) float64 {
	dx, dy := p.X-q.X, p.Y-q.Y
	return dx*dx + dy*dy
}

// Waypoint 单段航点
type Waypoint struct {
	Position    Point   `json:"position"`
	HoldSeconds float64 `json:"hold_seconds"`
	SpeedMPS    float64 `json:"speed_mps"`

	// TaskID 生成该航点的任务，返航路径为空
	TaskID string `json:"task_id,omitempty"`
}

// Plan 按顺序消费的航点队列（队首为当前目标）
type Plan []Waypoint

// Head 返回队首航点
func (p Plan) Head() (Waypoint, bool) {
	if len(p) == 0 {
		return Waypoint{}, false
	}
	return p[0], true
}

// Length 从当前位置出发沿计划的水平路径长度
func (p Plan) Length(from Point) float64 {
	total := 0.0
	cur := from
	for _, wp := range p {
		total += cur.DistanceXY(wp.Position)
		cur = wp.Position
	}
	return total
}

// Decimate 隔点保留（索引 0,2,4...）
func (p Plan) Decimate() Plan {
	out := make(Plan, 0, (len(p)+1)/2)
	for i := 0; i < len(p); i += 2 {
		out = append(out, p[i])
	}
	return out
}

// Clone 深拷贝
func (p Plan) Clone() Plan {
	out := make(Plan, len(p))
	copy(out, p)
	return out
}

// TaskIDs 计划中仍然出现的任务ID（保持首次出现顺序）
func (p Plan) TaskIDs() []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, wp := range p {
		if wp.TaskID == "" {
			continue
		}
		if _, ok := seen[wp.TaskID]; ok {
			continue
		}
		seen[wp.TaskID] = struct{}{}
		ids = append(ids, wp.TaskID)
	}
	return ids
}

// Task 覆盖任务（单元格中心 + 优先级）
type Task struct {
	ID       string  `json:"id" yaml:"id"`
	Priority float64 `json:"priority" yaml:"priority"` // [0,1]
	Target   Point   `json:"target" yaml:"target"`
	AreaID   string  `json:"area_id,omitempty" yaml:"area_id,omitempty"`
}

// ClampedPriority 优先级截断到 [0,1]
func (t Task) ClampedPriority() float64 {
	return Clamp01(t.Priority)
}

// DroneState 无人机状态（位置由遥测更新）
type DroneState struct {
	DroneID            string  `json:"drone_id" yaml:"id"`
	Position           Point   `json:"position" yaml:"position"`
	BatteryRemainingWh float64 `json:"battery_remaining_wh" yaml:"battery_wh"`
	CruiseSpeedMPS     float64 `json:"cruise_speed_mps" yaml:"cruise_speed_mps"`
}

// Assignment droneID -> 计划访问顺序的任务列表
type Assignment map[string][]Task

// TaskCount 已分配任务总数
func (a Assignment) TaskCount() int {
	n := 0
	for _, tasks := range a {
		n += len(tasks)
	}
	return n
}

// Owner 查找任务所属无人机
func (a Assignment) Owner(taskID string) (string, bool) {
	for droneID, tasks := range a {
		for _, t := range tasks {
			if t.ID == taskID {
				return droneID, true
			}
		}
	}
	return "", false
}

// Clamp01 截断到 [0,1]
func Clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
