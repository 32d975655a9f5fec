package mission

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/uav-mission-core/internal/energy"
	"github.com/yourusername/uav-mission-core/pkg/models"
	"github.com/yourusername/uav-mission-core/pkg/uav"
)

var (
	goodLink   = models.LinkStats{RSSI: -50, SNR: 30}
	yellowLink = models.LinkStats{RSSI: -75, SNR: 10, LossRate: 0.2}
)

func gridDrones() []models.DroneState {
	return []models.DroneState{
		{DroneID: "dr1", Position: models.Point{X: 0, Y: 0}, BatteryRemainingWh: 100, CruiseSpeedMPS: 3},
		{DroneID: "dr2", Position: models.Point{X: 10, Y: 0}, BatteryRemainingWh: 100, CruiseSpeedMPS: 3},
	}
}

func gridTasks() []models.Task {
	return []models.Task{
		{ID: "A1", Priority: 0.9, Target: models.Point{X: 40, Y: 40}},
		{ID: "A2", Priority: 0.7, Target: models.Point{X: 90, Y: 40}},
		{ID: "A3", Priority: 0.5, Target: models.Point{X: 40, Y: 90}},
		{ID: "A4", Priority: 0.6, Target: models.Point{X: 90, Y: 90}},
	}
}

// fakeTelemetry 按机返回固定遥测
type fakeTelemetry struct {
	mu   sync.Mutex
	data map[string]models.Telemetry
	errs map[string]error
}

func newFakeTelemetry(drones []models.DroneState) *fakeTelemetry {
	f := &fakeTelemetry{data: map[string]models.Telemetry{}, errs: map[string]error{}}
	for _, d := range drones {
		f.data[d.DroneID] = models.Telemetry{
			DroneID:            d.DroneID,
			Position:           d.Position,
			BatteryRemainingWh: d.BatteryRemainingWh,
			Link:               goodLink,
			MaxSpeedMPS:        5,
		}
	}
	return f
}

func (f *fakeTelemetry) Telemetry(_ context.Context, droneID string) (models.Telemetry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[droneID]; err != nil {
		return models.Telemetry{}, err
	}
	return f.data[droneID], nil
}

func (f *fakeTelemetry) update(droneID string, fn func(*models.Telemetry)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.data[droneID]
	fn(&t)
	f.data[droneID] = t
}

// fakeCommander 记录下发的指令
type fakeCommander struct {
	mu         sync.Mutex
	velocities map[string][]models.Velocity
	waypoints  map[string][]models.Waypoint
}

func newFakeCommander() *fakeCommander {
	return &fakeCommander{velocities: map[string][]models.Velocity{}, waypoints: map[string][]models.Waypoint{}}
}

func (c *fakeCommander) SetVelocity(_ context.Context, droneID string, v models.Velocity) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.velocities[droneID] = append(c.velocities[droneID], v)
	return nil
}

func (c *fakeCommander) ExecuteWaypoint(_ context.Context, droneID string, wp models.Waypoint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waypoints[droneID] = append(c.waypoints[droneID], wp)
	return nil
}

func (c *fakeCommander) count(droneID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.velocities[droneID])
}

// finishGuard 记录向已完成无人机下发的速度指令
type finishGuard struct {
	FlightCommander
	runner *Runner

	mu        sync.Mutex
	afterDone map[string]int
}

func (g *finishGuard) SetVelocity(ctx context.Context, droneID string, v models.Velocity) error {
	// 与 processDrone 同一 goroutine，直接读取本机 slot
	if slot, ok := g.runner.drones[droneID]; ok && slot.finished {
		g.mu.Lock()
		g.afterDone[droneID]++
		g.mu.Unlock()
	}
	return g.FlightCommander.SetVelocity(ctx, droneID, v)
}

func newTestRunner(t *testing.T, cfg Config, tel Telemetry, cmd FlightCommander) *Runner {
	t.Helper()
	r := NewRunner(cfg, Deps{Drones: gridDrones(), Telemetry: tel, Commander: cmd})
	_, err := r.Prepare(context.Background(), gridTasks())
	require.NoError(t, err)
	return r
}

func mustPlan(t *testing.T, r *Runner, id string) models.Plan {
	t.Helper()
	p, err := r.Plan(id)
	require.NoError(t, err)
	return p
}

func TestPrepare_GridScenario(t *testing.T) {
	r := NewRunner(DefaultConfig(), Deps{Drones: gridDrones()})
	res, err := r.Prepare(context.Background(), gridTasks())
	require.NoError(t, err)

	assert.LessOrEqual(t, res.Rounds, 5)
	assert.Empty(t, res.Unclaimed)
	assert.NotEmpty(t, r.MissionID())

	book := r.Tasks()
	for _, id := range r.Drones() {
		plan := mustPlan(t, r, id)
		require.NotEmpty(t, plan, id)
		for _, wp := range plan {
			owner, ok := book.Owner(wp.TaskID)
			require.True(t, ok)
			assert.Equal(t, id, owner)
		}
	}
}

func TestPrepare_Errors(t *testing.T) {
	_, err := NewRunner(DefaultConfig(), Deps{}).Prepare(context.Background(), gridTasks())
	assert.Error(t, err)

	r := NewRunner(DefaultConfig(), Deps{Drones: gridDrones()})
	_, err = r.Prepare(context.Background(), []models.Task{{ID: "x"}, {ID: "x"}})
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Prepare(ctx, gridTasks())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTick_NotPrepared(t *testing.T) {
	r := NewRunner(DefaultConfig(), Deps{Drones: gridDrones()})
	_, err := r.Tick(context.Background(), 0.1)
	assert.ErrorIs(t, err, ErrNotPrepared)
}

func TestTick_MissingCollaborator(t *testing.T) {
	r := newTestRunner(t, DefaultConfig(), nil, newFakeCommander())

	report, err := r.Tick(context.Background(), 0.1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingCollaborator)
	require.Len(t, report.Drones, 2)
	for _, d := range report.Drones {
		assert.NotEmpty(t, d.Error)
		assert.False(t, d.Finished)
	}
	assert.False(t, r.Done())
}

func TestTick_TelemetryFailureIsolatedToDrone(t *testing.T) {
	tel := newFakeTelemetry(gridDrones())
	tel.errs["dr1"] = errors.New("link down")
	cmd := newFakeCommander()
	r := newTestRunner(t, DefaultConfig(), tel, cmd)

	report, err := r.Tick(context.Background(), 0.1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "link down")

	assert.Zero(t, cmd.count("dr1"))
	assert.Equal(t, 1, cmd.count("dr2"))

	dr2, ok := report.Find("dr2")
	require.True(t, ok)
	assert.Empty(t, dr2.Error)
	assert.Equal(t, models.ModeContinue, dr2.Mode)
}

func TestTick_ReferenceTowardsHead(t *testing.T) {
	tel := newFakeTelemetry(gridDrones())
	cmd := newFakeCommander()
	r := newTestRunner(t, DefaultConfig(), tel, cmd)
	head := mustPlan(t, r, "dr1")[0]

	report, err := r.Tick(context.Background(), 0.1)
	require.NoError(t, err)

	d, _ := report.Find("dr1")
	want := math.Atan2(head.Position.Y, head.Position.X)
	got := math.Atan2(d.Command.VY, d.Command.VX)
	assert.InDelta(t, want, got, 1e-9)
	assert.InDelta(t, head.SpeedMPS, d.Command.Speed(), 1e-9)
	assert.Equal(t, []string{"dr1", "dr2"}, []string{report.Drones[0].DroneID, report.Drones[1].DroneID})
}

func TestTick_PopsReachedWaypoint(t *testing.T) {
	tel := newFakeTelemetry(gridDrones())
	cfg := DefaultConfig()
	cfg.DispatchWaypoints = true
	cmd := newFakeCommander()
	r := newTestRunner(t, cfg, tel, cmd)

	before := mustPlan(t, r, "dr1")
	tel.update("dr1", func(tm *models.Telemetry) {
		tm.Position = models.Point{X: before[0].Position.X + 0.5, Y: before[0].Position.Y}
	})

	report, err := r.Tick(context.Background(), 0.1)
	require.NoError(t, err)

	d, _ := report.Find("dr1")
	assert.True(t, d.ReachedHead)
	after := mustPlan(t, r, "dr1")
	assert.Empty(t, cmp.Diff(before[1:], after))
	assert.Equal(t, len(after), d.PlanLength)

	// 新队首在下一周期下发
	_, err = r.Tick(context.Background(), 0.1)
	require.NoError(t, err)
	require.Len(t, cmd.waypoints["dr1"], 2)
	assert.Equal(t, before[0], cmd.waypoints["dr1"][0])
	assert.Equal(t, before[1], cmd.waypoints["dr1"][1])
}

func TestTick_SimplifyIsEdgeTriggered(t *testing.T) {
	tel := newFakeTelemetry(gridDrones())
	tel.update("dr1", func(tm *models.Telemetry) { tm.Link = yellowLink })
	r := newTestRunner(t, DefaultConfig(), tel, newFakeCommander())

	before := mustPlan(t, r, "dr1")
	require.Greater(t, len(before), 2)

	report, err := r.Tick(context.Background(), 0.1)
	require.NoError(t, err)
	d, _ := report.Find("dr1")
	assert.Equal(t, models.ModeSimplify, d.Mode)

	simplified := mustPlan(t, r, "dr1")
	assert.Empty(t, cmp.Diff(before.Decimate(), simplified))

	_, err = r.Tick(context.Background(), 0.1)
	require.NoError(t, err)
	assert.Len(t, mustPlan(t, r, "dr1"), len(simplified), "staying in simplify does not decimate again")
}

func TestTick_RTBReassignsOutstandingTasks(t *testing.T) {
	tel := newFakeTelemetry(gridDrones())
	tel.update("dr1", func(tm *models.Telemetry) { tm.BatteryRemainingWh = 3.5 })
	r := newTestRunner(t, DefaultConfig(), tel, newFakeCommander())

	owned := r.Tasks().Outstanding("dr1")
	require.NotEmpty(t, owned)
	givenIDs := taskIDs(owned)
	dr2Before := len(mustPlan(t, r, "dr2"))

	report, err := r.Tick(context.Background(), 0.1)
	require.NoError(t, err)

	d1, _ := report.Find("dr1")
	assert.Equal(t, models.ModeRTB, d1.Mode)
	assert.ElementsMatch(t, givenIDs, d1.ReleasedTasks)
	assert.ElementsMatch(t, givenIDs, report.Reassigned["dr2"])
	assert.Empty(t, report.Unclaimed)

	home := energy.DefaultConfig().Home
	plan := mustPlan(t, r, "dr1")
	require.NotEmpty(t, plan)
	last := plan[len(plan)-1].Position
	assert.InDelta(t, home.X, last.X, 1e-9)
	assert.InDelta(t, home.Y, last.Y, 1e-9)
	assert.Empty(t, plan.TaskIDs())

	for _, id := range givenIDs {
		owner, ok := r.Tasks().Owner(id)
		require.True(t, ok)
		assert.Equal(t, "dr2", owner)
	}
	assert.Greater(t, len(mustPlan(t, r, "dr2")), dr2Before)
	assert.Subset(t, mustPlan(t, r, "dr2").TaskIDs(), givenIDs)

	// 已在返航：后续 rtb 决策不替换路径，也不再交回任务
	report, err = r.Tick(context.Background(), 0.1)
	require.NoError(t, err)
	assert.Empty(t, report.Reassigned)
	assert.Empty(t, cmp.Diff(plan, mustPlan(t, r, "dr1")))
}

func TestTick_RTBEscalatesToLandingZone(t *testing.T) {
	tel := newFakeTelemetry(gridDrones())
	tel.update("dr1", func(tm *models.Telemetry) { tm.BatteryRemainingWh = 3.5 })
	r := newTestRunner(t, DefaultConfig(), tel, newFakeCommander())

	_, err := r.Tick(context.Background(), 0.1)
	require.NoError(t, err)
	mode, err := r.Mode("dr1")
	require.NoError(t, err)
	require.Equal(t, models.ModeRTB, mode)

	tel.update("dr1", func(tm *models.Telemetry) { tm.BatteryRemainingWh = 1.0 })
	_, err = r.Tick(context.Background(), 0.1)
	require.NoError(t, err)

	mode, _ = r.Mode("dr1")
	assert.Equal(t, models.ModeLandAtZone, mode)
	plan := mustPlan(t, r, "dr1")
	require.NotEmpty(t, plan)
	last := plan[len(plan)-1].Position
	assert.InDelta(t, 30.0, last.X, 1e-9)
	assert.InDelta(t, -10.0, last.Y, 1e-9)

	tel.update("dr1", func(tm *models.Telemetry) { tm.BatteryRemainingWh = 0.5 })
	_, err = r.Tick(context.Background(), 0.1)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(plan, mustPlan(t, r, "dr1")))
}

func TestTick_NoReceiversLeavesTasksUnclaimed(t *testing.T) {
	tel := newFakeTelemetry(gridDrones())
	for _, id := range []string{"dr1", "dr2"} {
		tel.update(id, func(tm *models.Telemetry) { tm.BatteryRemainingWh = 3.5 })
	}
	r := newTestRunner(t, DefaultConfig(), tel, newFakeCommander())

	report, err := r.Tick(context.Background(), 0.1)
	require.NoError(t, err)

	// 重分配在所有无人机处理完之后执行，此时两架都已返航
	sort.Strings(report.Unclaimed)
	assert.Equal(t, []string{"A1", "A2", "A3", "A4"}, report.Unclaimed)
	assert.Empty(t, report.Reassigned)
	assert.Len(t, r.Tasks().Unclaimed(), 4)
}

func TestTick_EmptyPlanFinishesDrone(t *testing.T) {
	tel := newFakeTelemetry(gridDrones())
	cmd := newFakeCommander()
	guard := &finishGuard{FlightCommander: cmd, afterDone: map[string]int{}}
	r := NewRunner(DefaultConfig(), Deps{Drones: gridDrones(), Telemetry: tel, Commander: guard})
	guard.runner = r
	_, err := r.Prepare(context.Background(), nil)
	require.NoError(t, err)

	report, err := r.Tick(context.Background(), 0.1)
	require.NoError(t, err)
	assert.True(t, report.Done)
	assert.True(t, r.Finished("dr1"))
	assert.Equal(t, 1, cmd.count("dr1"), "hold sent once")
	assert.Empty(t, guard.afterDone)

	report, err = r.Tick(context.Background(), 0.1)
	require.NoError(t, err)
	for _, d := range report.Drones {
		assert.True(t, d.Skipped)
	}
}

func TestRunner_UnknownDrone(t *testing.T) {
	r := NewRunner(DefaultConfig(), Deps{Drones: gridDrones()})
	_, err := r.Plan("ghost")
	assert.ErrorIs(t, err, ErrUnknownDrone)
	_, err = r.Mode("ghost")
	assert.ErrorIs(t, err, ErrUnknownDrone)
	assert.False(t, r.Finished("ghost"))
}

func simFleet(drones []models.DroneState) *uav.SimFleet {
	cfgs := make([]uav.DroneConfig, len(drones))
	for i, d := range drones {
		c := uav.DefaultDroneConfig(d.DroneID)
		c.Start = d.Position
		c.BatteryWh = d.BatteryRemainingWh
		cfgs[i] = c
	}
	return uav.NewSimFleet(cfgs, nil)
}

func runToCompletion(t *testing.T, r *Runner, fleet *uav.SimFleet, dt float64, maxTicks int) int {
	t.Helper()
	ctx := context.Background()
	for n := 1; n <= maxTicks; n++ {
		report, err := r.Tick(ctx, dt)
		require.NoError(t, err)
		if report.Done {
			return n
		}
		fleet.Advance(dt)
	}
	t.Fatalf("mission not finished after %d ticks", maxTicks)
	return 0
}

func TestEndToEnd_GridScenario(t *testing.T) {
	drones := gridDrones()
	fleet := simFleet(drones)
	r := NewRunner(DefaultConfig(), Deps{Drones: drones, Telemetry: fleet, Commander: fleet})
	_, err := r.Prepare(context.Background(), gridTasks())
	require.NoError(t, err)

	runToCompletion(t, r, fleet, 0.1, 20000)

	assert.Equal(t, 4, r.Tasks().Completed())
	for _, s := range fleet.States() {
		assert.Greater(t, s.Odometer, 0.0, s.DroneID)
		assert.Greater(t, s.BatteryWh, 0.0, s.DroneID)
		mode, err := r.Mode(s.DroneID)
		require.NoError(t, err)
		assert.False(t, mode.Returning())
	}
}

func TestEndToEnd_LowBatteryDroneReturnsHome(t *testing.T) {
	drones := gridDrones()
	drones[0].BatteryRemainingWh = 3.5
	fleet := simFleet(drones)
	guard := &finishGuard{FlightCommander: fleet, afterDone: map[string]int{}}
	r := NewRunner(DefaultConfig(), Deps{Drones: drones, Telemetry: fleet, Commander: guard})
	guard.runner = r
	_, err := r.Prepare(context.Background(), gridTasks())
	require.NoError(t, err)

	runToCompletion(t, r, fleet, 0.1, 30000)
	assert.Empty(t, guard.afterDone, "velocity sent to a finished drone")

	mode, err := r.Mode("dr1")
	require.NoError(t, err)
	assert.True(t, mode.Returning())

	d1, err := fleet.Drone("dr1")
	require.NoError(t, err)
	home := energy.DefaultConfig().Home
	assert.Less(t, d1.GetState().Position.DistanceXY(home), DefaultConfig().ArrivalThresholdM+0.5)

	assert.Equal(t, 4, r.Tasks().Completed())
	for _, task := range gridTasks() {
		owner, ok := r.Tasks().Owner(task.ID)
		require.True(t, ok)
		assert.Equal(t, "dr2", owner)
	}
}
