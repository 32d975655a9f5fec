package mission

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/yourusername/uav-mission-core/internal/allocator"
	"github.com/yourusername/uav-mission-core/internal/avoidance"
	"github.com/yourusername/uav-mission-core/internal/coverage"
	"github.com/yourusername/uav-mission-core/internal/energy"
	"github.com/yourusername/uav-mission-core/pkg/metrics"
	"github.com/yourusername/uav-mission-core/pkg/models"
)

// Config 任务执行配置
type Config struct {
	TickInterval      time.Duration `mapstructure:"tick_interval"`       // 控制器周期
	ArrivalThresholdM float64       `mapstructure:"arrival_threshold_m"` // 到达判定距离
	Parallelism       int           `mapstructure:"parallelism"`         // 单周期并行处理的无人机数
	DispatchWaypoints bool          `mapstructure:"dispatch_waypoints"`  // 新队首航点是否下发给飞控
	MaxTicks          int           `mapstructure:"max_ticks"`           // 控制器最大周期数，0 表示不限
	StepSeconds       float64       `mapstructure:"step_seconds"`        // 每周期推进的仿真时间，0 表示等于 TickInterval
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		TickInterval:      100 * time.Millisecond,
		ArrivalThresholdM: 1.0,
		Parallelism:       4,
	}
}

const minRefNorm = 1e-3

// Deps 执行器依赖，算法组件为空时使用默认配置创建
type Deps struct {
	Drones    []models.DroneState
	Telemetry Telemetry
	Commander FlightCommander

	Allocator *allocator.Auctioneer
	Planner   *coverage.Planner
	Energy    *energy.Engine
	Avoidance *avoidance.Bank

	Logger *logrus.Logger
}

type droneSlot struct {
	state    models.DroneState
	plan     models.Plan
	finished bool
	mode     models.Mode
	prevCmd  models.Velocity
	headSent bool
}

// rebalance 需要串行执行的任务重分配请求
type rebalance struct {
	giver string
	tasks []models.Task
}

// Runner 任务执行器：每个周期对每架无人机执行避障、到达判定与能量决策
type Runner struct {
	cfg    Config
	logger *logrus.Logger

	telemetry Telemetry
	commander FlightCommander

	allocator *allocator.Auctioneer
	planner   *coverage.Planner
	energy    *energy.Engine
	avoid     *avoidance.Bank

	mu        sync.RWMutex
	ids       []string
	drones    map[string]*droneSlot
	book      *TaskBook
	missionID string
	tick      int
}

// NewRunner 创建执行器
func NewRunner(cfg Config, deps Deps) *Runner {
	logger := deps.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.InfoLevel)
	}

	if cfg.ArrivalThresholdM <= 0 {
		cfg.ArrivalThresholdM = DefaultConfig().ArrivalThresholdM
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = DefaultConfig().Parallelism
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultConfig().TickInterval
	}

	r := &Runner{
		cfg:       cfg,
		logger:    logger,
		telemetry: deps.Telemetry,
		commander: deps.Commander,
		allocator: deps.Allocator,
		planner:   deps.Planner,
		energy:    deps.Energy,
		avoid:     deps.Avoidance,
		drones:    make(map[string]*droneSlot, len(deps.Drones)),
	}
	if r.allocator == nil {
		r.allocator = allocator.New(allocator.DefaultConfig(), logger)
	}
	if r.planner == nil {
		r.planner = coverage.New(coverage.DefaultConfig())
	}
	if r.energy == nil {
		r.energy = energy.New(energy.DefaultConfig())
	}
	if r.avoid == nil {
		r.avoid = avoidance.NewBank(avoidance.DefaultConfig())
	}

	for _, d := range deps.Drones {
		if _, dup := r.drones[d.DroneID]; dup {
			logger.Warnf("Duplicate drone %s ignored", d.DroneID)
			continue
		}
		r.drones[d.DroneID] = &droneSlot{state: d, plan: models.Plan{}}
		r.ids = append(r.ids, d.DroneID)
	}
	sort.Strings(r.ids)

	return r
}

// Prepare 初始分配与航线生成，开始一次新任务
func (r *Runner) Prepare(ctx context.Context, tasks []models.Task) (allocator.Result, error) {
	if err := ctx.Err(); err != nil {
		return allocator.Result{}, err
	}
	if len(r.ids) == 0 {
		return allocator.Result{}, fmt.Errorf("prepare mission: no drones")
	}

	book, err := NewTaskBook(tasks)
	if err != nil {
		return allocator.Result{}, fmt.Errorf("prepare mission: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	states := r.statesLocked(nil)
	res := r.allocator.Allocate(tasks, states)
	book.Assign(res.Assignment)
	plans := r.planner.Plan(res.Assignment, states, r.planner.CellSize(), r.planner.Axis())

	for _, id := range r.ids {
		slot := r.drones[id]
		slot.plan = plans[id]
		slot.finished = false
		slot.mode = models.ModeContinue
		slot.prevCmd = models.Velocity{}
		slot.headSent = false
		r.avoid.Reset(id)
	}
	r.book = book
	r.missionID = uuid.NewString()
	r.tick = 0

	r.logger.Infof("Mission %s prepared: %d tasks, %d drones, %d rounds, %d unclaimed",
		r.missionID, len(tasks), len(r.ids), res.Rounds, len(res.Unclaimed))
	return res, nil
}

// Tick 执行一个控制周期
//
// 各无人机并行处理；重分配在所有无人机处理完成后按ID顺序串行执行。
// 单机失败不影响其他无人机，所有失败合并返回。
func (r *Runner) Tick(ctx context.Context, dt float64) (metrics.TickReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.book == nil {
		return metrics.TickReport{}, ErrNotPrepared
	}

	start := time.Now()
	r.tick++

	results := make([]metrics.DroneTick, len(r.ids))
	requests := make([]*rebalance, len(r.ids))
	errs := make([]error, len(r.ids))

	var g errgroup.Group
	g.SetLimit(r.cfg.Parallelism)
	for i, id := range r.ids {
		g.Go(func() error {
			results[i], requests[i], errs[i] = r.processDrone(ctx, id, r.drones[id], dt)
			return nil
		})
	}
	_ = g.Wait()

	report := metrics.TickReport{
		MissionID: r.missionID,
		Tick:      r.tick,
		Timestamp: start,
		Drones:    results,
	}

	for i, req := range requests {
		if req == nil {
			continue
		}
		results[i].ReleasedTasks = taskIDs(req.tasks)
		r.rebalance(req, &report)
	}

	report.Done = r.doneLocked()
	report.Duration = time.Since(start)

	err := errors.Join(errs...)
	if err != nil {
		r.logger.Warnf("Tick %d finished with errors: %v", r.tick, err)
	}
	return report, err
}

// processDrone 单机周期处理，只修改本机 slot
func (r *Runner) processDrone(ctx context.Context, id string, slot *droneSlot, dt float64) (metrics.DroneTick, *rebalance, error) {
	out := metrics.DroneTick{
		DroneID:   id,
		Timestamp: time.Now(),
		Mode:      slot.mode,
	}

	if slot.finished {
		out.Skipped = true
		out.Finished = true
		return out, nil, nil
	}
	if len(slot.plan) == 0 {
		err := r.hold(ctx, id)
		slot.finished = true
		out.Finished = true
		r.logger.Infof("Drone %s finished", id)
		return out, nil, err
	}

	if r.telemetry == nil || r.commander == nil {
		err := fmt.Errorf("drone %s: %w", id, ErrMissingCollaborator)
		out.Error = err.Error()
		return out, nil, err
	}

	tel, err := r.telemetry.Telemetry(ctx, id)
	if err != nil {
		err = fmt.Errorf("drone %s: telemetry: %w", id, err)
		out.Error = err.Error()
		return out, nil, err
	}
	slot.state.Position = tel.Position
	slot.state.BatteryRemainingWh = tel.BatteryRemainingWh
	out.BatteryWh = tel.BatteryRemainingWh

	head := slot.plan[0]
	maxSpeed := tel.MaxSpeedMPS
	if maxSpeed <= 0 {
		maxSpeed = head.SpeedMPS
	}

	cmd := r.avoid.Step(id, avoidance.Input{
		Reference:         reference(tel.Position, head, maxSpeed),
		DT:                dt,
		Progress:          tel.ProgressMeters,
		FrontBlockedRatio: tel.FrontBlockedRatio,
		Obstacles:         tel.Obstacles,
		Previous:          slot.prevCmd,
		MaxSpeed:          maxSpeed,
	})
	if err := r.commander.SetVelocity(ctx, id, cmd.Velocity); err != nil {
		err = fmt.Errorf("drone %s: set velocity: %w", id, err)
		out.Error = err.Error()
		return out, nil, err
	}
	slot.prevCmd = cmd.Velocity
	out.Command = cmd.Velocity
	out.InRecovery = cmd.InRecovery

	if r.cfg.DispatchWaypoints && !slot.headSent {
		if err := r.commander.ExecuteWaypoint(ctx, id, head); err != nil {
			err = fmt.Errorf("drone %s: execute waypoint: %w", id, err)
			out.Error = err.Error()
			return out, nil, err
		}
		slot.headSent = true
	}

	if tel.Position.DistanceXY(head.Position) < r.cfg.ArrivalThresholdM {
		slot.plan = slot.plan[1:]
		slot.headSent = false
		out.ReachedHead = true
		for _, taskID := range r.book.Sync(id, slot.plan) {
			r.logger.Infof("Task %s covered by %s", taskID, id)
		}
	}

	remaining := tel.RemainingPlanMeters
	if remaining <= 0 {
		remaining = slot.plan.Length(tel.Position)
	}
	decision := r.energy.Decide(slot.state, tel.BatteryRemainingWh, tel.Link, remaining)
	out.MarginWh = decision.MarginWh
	out.LinkQuality = decision.LinkQuality

	req := r.apply(id, slot, decision)

	out.Mode = slot.mode
	out.PlanLength = len(slot.plan)
	if len(slot.plan) == 0 && slot.mode.Returning() {
		err := r.hold(ctx, id)
		slot.finished = true
		out.Finished = true
		out.Command = models.Velocity{}
		r.logger.Infof("Drone %s finished %s", id, slot.mode)
		if err != nil {
			out.Error = err.Error()
			return out, req, err
		}
	}
	return out, req, nil
}

// hold 即将完成的无人机下发零速悬停，须在标记 finished 之前调用
func (r *Runner) hold(ctx context.Context, id string) error {
	if r.commander == nil {
		return nil
	}
	if err := r.commander.SetVelocity(ctx, id, models.Velocity{}); err != nil {
		return fmt.Errorf("drone %s: hold: %w", id, err)
	}
	return nil
}

// apply 根据决策修改本机计划；返航类决策返回重分配请求
//
// simplify 只在进入该模式的那个周期抽稀一次计划，持续处于 simplify 不再重复抽稀。
func (r *Runner) apply(id string, slot *droneSlot, d models.Decision) *rebalance {
	prev := slot.mode

	// 已在返航的无人机只接受 rtb -> land_lz 升级
	if prev.Returning() {
		if prev == models.ModeRTB && d.Mode == models.ModeLandAtZone {
			slot.mode = d.Mode
			slot.plan = d.Path.Clone()
			slot.headSent = false
			r.logger.Warnf("Drone %s cannot reach home, diverting to landing zone (%.1f, %.1f)", id, d.Target.X, d.Target.Y)
		}
		return nil
	}

	switch d.Mode {
	case models.ModeContinue, models.ModeHandoff:
		slot.mode = d.Mode
	case models.ModeSimplify:
		if prev != models.ModeSimplify && len(slot.plan) > 2 {
			before := len(slot.plan)
			slot.plan = slot.plan.Decimate()
			r.book.Sync(id, slot.plan)
			r.logger.Infof("Drone %s simplifying plan: %d -> %d waypoints (margin %.2f Wh, link %.2f)",
				id, before, len(slot.plan), d.MarginWh, d.LinkQuality)
		}
		slot.mode = d.Mode
	case models.ModeRTB, models.ModeLandAtZone:
		slot.mode = d.Mode
		slot.plan = d.Path.Clone()
		slot.headSent = false
		released := r.book.Release(id)
		r.logger.Warnf("Drone %s switching to %s (battery %.2f Wh, margin %.2f Wh, link %.2f), releasing %d tasks",
			id, d.Mode, slot.state.BatteryRemainingWh, d.MarginWh, d.LinkQuality, len(released))
		return &rebalance{giver: id, tasks: released}
	}

	if slot.mode != prev {
		r.logger.Debugf("Drone %s mode %s -> %s", id, prev, slot.mode)
	}
	return nil
}

// rebalance 将交回的任务重新分配给仍在执行任务的无人机，调用方持有 r.mu
func (r *Runner) rebalance(req *rebalance, report *metrics.TickReport) {
	if len(req.tasks) == 0 {
		return
	}

	alive := r.statesLocked(func(id string, s *droneSlot) bool {
		return id != req.giver && !s.finished && !s.mode.Returning()
	})
	if len(alive) == 0 {
		r.logger.Warnf("No active drones to take over %d tasks from %s", len(req.tasks), req.giver)
		report.Unclaimed = append(report.Unclaimed, taskIDs(req.tasks)...)
		return
	}

	res := r.allocator.Allocate(req.tasks, alive)
	r.book.Assign(res.Assignment)

	// 新任务接在现有计划末尾，从计划终点开始串接
	tails := make([]models.DroneState, len(alive))
	for i, s := range alive {
		tails[i] = s
		if plan := r.drones[s.DroneID].plan; len(plan) > 0 {
			tails[i].Position = plan[len(plan)-1].Position
		}
	}
	legs := r.planner.Plan(res.Assignment, tails, r.planner.CellSize(), r.planner.Axis())

	receivers := make([]string, 0, len(res.Assignment))
	for id := range res.Assignment {
		receivers = append(receivers, id)
	}
	sort.Strings(receivers)

	for _, id := range receivers {
		slot, ok := r.drones[id]
		if !ok || len(res.Assignment[id]) == 0 {
			continue
		}
		slot.plan = append(slot.plan, legs[id]...)
		if report.Reassigned == nil {
			report.Reassigned = make(map[string][]string)
		}
		report.Reassigned[id] = append(report.Reassigned[id], taskIDs(res.Assignment[id])...)
		r.logger.Infof("Reassigned %v from %s to %s", taskIDs(res.Assignment[id]), req.giver, id)
	}
	if len(res.Unclaimed) > 0 {
		report.Unclaimed = append(report.Unclaimed, taskIDs(res.Unclaimed)...)
	}
}

// statesLocked 按ID顺序返回满足条件的无人机状态，keep 为空时返回全部
func (r *Runner) statesLocked(keep func(id string, s *droneSlot) bool) []models.DroneState {
	out := make([]models.DroneState, 0, len(r.ids))
	for _, id := range r.ids {
		slot := r.drones[id]
		if keep != nil && !keep(id, slot) {
			continue
		}
		out = append(out, slot.state)
	}
	return out
}

// reference 指向队首航点的单位方向，按 min(maxSpeed, 航点速度) 缩放
func reference(pos models.Point, head models.Waypoint, maxSpeed float64) models.Velocity {
	dx, dy := head.Position.X-pos.X, head.Position.Y-pos.Y
	norm := math.Max(minRefNorm, math.Hypot(dx, dy))
	speed := maxSpeed
	if head.SpeedMPS > 0 {
		speed = math.Min(maxSpeed, head.SpeedMPS)
	}
	return models.Velocity{VX: dx / norm * speed, VY: dy / norm * speed}
}

func taskIDs(tasks []models.Task) []string {
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	return ids
}

// MissionID 当前任务ID，Prepare 之前为空
func (r *Runner) MissionID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.missionID
}

// Drones 按ID排序的无人机列表
func (r *Runner) Drones() []string {
	return append([]string(nil), r.ids...)
}

// Plan 返回该机当前计划副本
func (r *Runner) Plan(droneID string) (models.Plan, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	slot, ok := r.drones[droneID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", droneID, ErrUnknownDrone)
	}
	return slot.plan.Clone(), nil
}

// Mode 该机最近一次决策模式
func (r *Runner) Mode(droneID string) (models.Mode, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	slot, ok := r.drones[droneID]
	if !ok {
		return models.ModeContinue, fmt.Errorf("%s: %w", droneID, ErrUnknownDrone)
	}
	return slot.mode, nil
}

// Finished 该机是否已完成
func (r *Runner) Finished(droneID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	slot, ok := r.drones[droneID]
	return ok && slot.finished
}

// Done 所有无人机均已完成
func (r *Runner) Done() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.doneLocked()
}

func (r *Runner) doneLocked() bool {
	for _, slot := range r.drones {
		if !slot.finished {
			return false
		}
	}
	return true
}

// Tasks 任务簿，Prepare 之前为空
func (r *Runner) Tasks() *TaskBook {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.book
}
