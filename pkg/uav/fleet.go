package uav

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/yourusername/uav-mission-core/pkg/models"
)

// ErrUnknownDrone 机队中不存在该无人机
var ErrUnknownDrone = errors.New("unknown drone")

// SimFleet 模拟机队，实现遥测与飞控接口
type SimFleet struct {
	drones    map[string]*SimulatedDrone
	ids       []string
	obstacles []WorldObstacle
	worldMu   sync.RWMutex

	running    bool
	updateRate time.Duration
	stopChan   chan struct{}
	doneChan   chan struct{}
	mu         sync.Mutex
}

// NewSimFleet 创建模拟机队
func NewSimFleet(drones []DroneConfig, obstacles []WorldObstacle) *SimFleet {
	f := &SimFleet{
		drones:     make(map[string]*SimulatedDrone, len(drones)),
		obstacles:  append([]WorldObstacle(nil), obstacles...),
		updateRate: 100 * time.Millisecond,
	}
	for _, cfg := range drones {
		if _, dup := f.drones[cfg.ID]; dup {
			continue
		}
		f.drones[cfg.ID] = NewSimulatedDrone(cfg)
		f.ids = append(f.ids, cfg.ID)
	}
	sort.Strings(f.ids)
	return f
}

// SetUpdateRate 设置后台循环周期，需在 Start 之前调用
func (f *SimFleet) SetUpdateRate(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d > 0 {
		f.updateRate = d
	}
}

// Drone 按ID查找
func (f *SimFleet) Drone(id string) (*SimulatedDrone, error) {
	d, ok := f.drones[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrUnknownDrone)
	}
	return d, nil
}

// IDs 按ID排序的无人机列表
func (f *SimFleet) IDs() []string {
	return append([]string(nil), f.ids...)
}

// States 所有无人机状态快照
func (f *SimFleet) States() []SimState {
	out := make([]SimState, 0, len(f.ids))
	for _, id := range f.ids {
		out = append(out, f.drones[id].GetState())
	}
	return out
}

// Obstacles 当前障碍物位置
func (f *SimFleet) Obstacles() []WorldObstacle {
	f.worldMu.RLock()
	defer f.worldMu.RUnlock()
	return append([]WorldObstacle(nil), f.obstacles...)
}

// Telemetry 实现遥测接口
func (f *SimFleet) Telemetry(ctx context.Context, droneID string) (models.Telemetry, error) {
	if err := ctx.Err(); err != nil {
		return models.Telemetry{}, err
	}
	d, err := f.Drone(droneID)
	if err != nil {
		return models.Telemetry{}, err
	}
	return d.Telemetry(f.Obstacles()), nil
}

// SetVelocity 实现飞控接口
func (f *SimFleet) SetVelocity(ctx context.Context, droneID string, v models.Velocity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d, err := f.Drone(droneID)
	if err != nil {
		return err
	}
	d.SetVelocity(v)
	return nil
}

// ExecuteWaypoint 实现飞控接口
func (f *SimFleet) ExecuteWaypoint(ctx context.Context, droneID string, wp models.Waypoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d, err := f.Drone(droneID)
	if err != nil {
		return err
	}
	d.ExecuteWaypoint(wp)
	return nil
}

// Advance 推进障碍物与所有无人机 dt 秒
func (f *SimFleet) Advance(dt float64) {
	f.worldMu.Lock()
	for i := range f.obstacles {
		o := &f.obstacles[i]
		o.Position.X += o.Velocity.VX * dt
		o.Position.Y += o.Velocity.VY * dt
	}
	f.worldMu.Unlock()

	for _, id := range f.ids {
		f.drones[id].Advance(dt)
	}
}

// Start 启动后台模拟循环
func (f *SimFleet) Start() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.running {
		return
	}
	f.running = true
	f.stopChan = make(chan struct{})
	f.doneChan = make(chan struct{})

	go f.simulationLoop(f.updateRate, f.stopChan, f.doneChan)
}

// Stop 停止后台模拟循环并等待其退出
func (f *SimFleet) Stop() {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return
	}
	f.running = false
	close(f.stopChan)
	done := f.doneChan
	f.mu.Unlock()

	<-done
}

func (f *SimFleet) simulationLoop(rate time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(rate)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			f.Advance(now.Sub(last).Seconds())
			last = now
		}
	}
}
