package mission

import (
	"context"
	"errors"

	"github.com/yourusername/uav-mission-core/pkg/metrics"
	"github.com/yourusername/uav-mission-core/pkg/models"
)

var (
	// ErrMissingCollaborator 宿主系统未提供遥测或飞控接口
	ErrMissingCollaborator = errors.New("missing collaborator")
	// ErrUnknownDrone 无人机ID不在本次任务中
	ErrUnknownDrone = errors.New("unknown drone")
	// ErrNotPrepared 尚未调用 Prepare
	ErrNotPrepared = errors.New("mission not prepared")
)

// Telemetry 遥测接口，每个周期每架无人机调用一次
type Telemetry interface {
	Telemetry(ctx context.Context, droneID string) (models.Telemetry, error)
}

// FlightCommander 飞控指令接口
type FlightCommander interface {
	SetVelocity(ctx context.Context, droneID string, v models.Velocity) error
	ExecuteWaypoint(ctx context.Context, droneID string, wp models.Waypoint) error
}

// Observer 接收每个周期的报告（指标、日志、状态发布）
type Observer interface {
	Observe(ctx context.Context, report metrics.TickReport) error
}

// ObserverFunc 函数适配器
type ObserverFunc func(ctx context.Context, report metrics.TickReport) error

// Observe 调用 f
func (f ObserverFunc) Observe(ctx context.Context, report metrics.TickReport) error {
	return f(ctx, report)
}
