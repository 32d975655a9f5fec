package coverage

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/uav-mission-core/internal/allocator"
	"github.com/yourusername/uav-mission-core/pkg/models"
)

func TestStripeRoute_RowCount(t *testing.T) {
	cfg := DefaultConfig()
	p := New(cfg)
	d0 := cfg.FootprintM * (1 - cfg.OverlapPerp)

	low := p.StripeRoute(models.Task{ID: "low", Priority: 0}, 60, AxisX)
	high := p.StripeRoute(models.Task{ID: "high", Priority: 1}, 60, AxisX)

	assert.Equal(t, int(math.Ceil(60/d0)), len(low)/2)
	assert.Equal(t, int(math.Ceil(60/(d0/(1+cfg.Kappa)))), len(high)/2)
	assert.Less(t, p.StripeSpacing(1), p.StripeSpacing(0))
	assert.GreaterOrEqual(t, len(high), len(low))
}

func TestStripeRoute_Boustrophedon(t *testing.T) {
	p := New(DefaultConfig())
	center := models.Point{X: 100, Y: -20}
	route := p.StripeRoute(models.Task{ID: "c", Priority: 0.5, Target: center}, 60, AxisX)
	require.NotEmpty(t, route)

	for i := 0; i+1 < len(route); i += 2 {
		a, b := route[i].Position, route[i+1].Position
		assert.Equal(t, a.Y, b.Y, "leg %d is not parallel to X", i/2)
		if (i/2)%2 == 0 {
			assert.Less(t, a.X, b.X, "even legs run +X")
		} else {
			assert.Greater(t, a.X, b.X, "odd legs run -X")
		}
		assert.Equal(t, "c", route[i].TaskID)
		assert.Equal(t, DefaultConfig().AltitudeM, a.Z)
		assert.InDelta(t, center.X, (a.X+b.X)/2, 1e-9)
	}
}

func TestStripeRoute_AxisY(t *testing.T) {
	p := New(DefaultConfig())
	route := p.StripeRoute(models.Task{ID: "c", Target: models.Point{}}, 30, AxisY)
	require.GreaterOrEqual(t, len(route), 2)
	assert.Equal(t, route[0].Position.X, route[1].Position.X)
	assert.Equal(t, -15.0, route[0].Position.Y)
	assert.Equal(t, 15.0, route[1].Position.Y)
}

func TestPlan_GreedyNearestChaining(t *testing.T) {
	p := New(DefaultConfig())
	drone := models.DroneState{DroneID: "d1", Position: models.Point{}}
	assignment := models.Assignment{
		"d1": {
			{ID: "far", Target: models.Point{X: 300}},
			{ID: "near", Target: models.Point{X: 50}},
			{ID: "mid", Target: models.Point{X: 150}},
		},
	}

	plans := p.Plan(assignment, []models.DroneState{drone}, 60, AxisX)

	assert.Equal(t, []string{"near", "mid", "far"}, plans["d1"].TaskIDs())
}

func TestPlan_EveryDroneHasEntry(t *testing.T) {
	p := New(DefaultConfig())
	drones := []models.DroneState{{DroneID: "a"}, {DroneID: "b"}}
	plans := p.Plan(models.Assignment{"a": {{ID: "t", Target: models.Point{X: 5}}}, "ghost": {{ID: "g"}}}, drones, 0, AxisX)

	require.Len(t, plans, 2)
	assert.NotEmpty(t, plans["a"])
	assert.NotNil(t, plans["b"])
	assert.Empty(t, plans["b"])
}

func TestPlan_GridScenarioStaysInAssignedCells(t *testing.T) {
	drones := []models.DroneState{
		{DroneID: "dr1", Position: models.Point{X: 0, Y: 0}, CruiseSpeedMPS: 3},
		{DroneID: "dr2", Position: models.Point{X: 10, Y: 0}, CruiseSpeedMPS: 3},
	}
	tasks := []models.Task{
		{ID: "A1", Priority: 0.9, Target: models.Point{X: 40, Y: 40}},
		{ID: "A2", Priority: 0.7, Target: models.Point{X: 90, Y: 40}},
		{ID: "A3", Priority: 0.5, Target: models.Point{X: 40, Y: 90}},
		{ID: "A4", Priority: 0.6, Target: models.Point{X: 90, Y: 90}},
	}
	const cell = 50.0

	res := allocator.New(allocator.DefaultConfig(), nil).Allocate(tasks, drones)
	require.LessOrEqual(t, res.Rounds, 5)

	plans := New(DefaultConfig()).Plan(res.Assignment, drones, cell, AxisX)

	for _, d := range drones {
		owned := map[string]models.Task{}
		for _, task := range res.Assignment[d.DroneID] {
			owned[task.ID] = task
		}
		require.NotEmpty(t, owned)
		require.NotEmpty(t, plans[d.DroneID])

		for _, wp := range plans[d.DroneID] {
			task, ok := owned[wp.TaskID]
			require.True(t, ok, "%s flies waypoint of %s", d.DroneID, wp.TaskID)
			assert.LessOrEqual(t, math.Abs(wp.Position.X-task.Target.X), cell/2+1e-9)
			assert.LessOrEqual(t, math.Abs(wp.Position.Y-task.Target.Y), cell/2+1e-9)
		}
	}
}
