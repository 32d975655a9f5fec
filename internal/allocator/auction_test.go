package allocator

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/uav-mission-core/pkg/models"
)

func gridScenario() ([]models.Task, []models.DroneState) {
	drones := []models.DroneState{
		{DroneID: "dr1", Position: models.Point{X: 0, Y: 0}, BatteryRemainingWh: 60, CruiseSpeedMPS: 3},
		{DroneID: "dr2", Position: models.Point{X: 10, Y: 0}, BatteryRemainingWh: 65, CruiseSpeedMPS: 3},
	}
	tasks := []models.Task{
		{ID: "A1", Priority: 0.9, Target: models.Point{X: 40, Y: 40}, AreaID: "A"},
		{ID: "A2", Priority: 0.7, Target: models.Point{X: 90, Y: 40}, AreaID: "A"},
		{ID: "A3", Priority: 0.5, Target: models.Point{X: 40, Y: 90}, AreaID: "A"},
		{ID: "A4", Priority: 0.6, Target: models.Point{X: 90, Y: 90}, AreaID: "A"},
	}
	return tasks, drones
}

func TestAllocate_GridScenario(t *testing.T) {
	tasks, drones := gridScenario()
	res := New(DefaultConfig(), nil).Allocate(tasks, drones)

	assert.LessOrEqual(t, res.Rounds, 5)
	assert.Empty(t, res.Unclaimed)
	assert.Equal(t, len(tasks), res.Assignment.TaskCount())

	for _, d := range drones {
		assert.NotEmpty(t, res.Assignment[d.DroneID], "drone %s got no tasks", d.DroneID)
	}
}

func TestAllocate_TaskClaimedOnce(t *testing.T) {
	tasks, drones := gridScenario()
	res := New(DefaultConfig(), nil).Allocate(tasks, drones)

	seen := map[string]string{}
	for droneID, route := range res.Assignment {
		for _, task := range route {
			prev, dup := seen[task.ID]
			require.False(t, dup, "task %s assigned to %s and %s", task.ID, prev, droneID)
			seen[task.ID] = droneID
		}
	}
}

func TestAllocate_PoolShrinksMonotonically(t *testing.T) {
	var tasks []models.Task
	for i := 0; i < 12; i++ {
		tasks = append(tasks, models.Task{
			ID:       string(rune('a' + i)),
			Priority: float64(i%5) / 4,
			Target:   models.Point{X: float64(i * 15), Y: float64((i % 3) * 20)},
		})
	}
	_, drones := gridScenario()

	res := New(Config{Alpha: 1, Beta: 0.02, Rounds: 10, MaxTasksPerAgent: 999}, nil).Allocate(tasks, drones)

	prev := len(tasks)
	for _, size := range res.PoolSizes {
		assert.LessOrEqual(t, size, prev)
		prev = size
	}
	assert.Equal(t, len(tasks), res.Assignment.TaskCount()+len(res.Unclaimed))
}

func TestAllocate_TieBreakByDroneID(t *testing.T) {
	drones := []models.DroneState{
		{DroneID: "zeta", Position: models.Point{}, CruiseSpeedMPS: 3},
		{DroneID: "alpha", Position: models.Point{}, CruiseSpeedMPS: 3},
	}
	tasks := []models.Task{{ID: "t1", Priority: 0.5, Target: models.Point{X: 30}}}

	res := New(DefaultConfig(), nil).Allocate(tasks, drones)

	require.Len(t, res.Assignment["alpha"], 1)
	assert.Empty(t, res.Assignment["zeta"])
}

func TestAllocate_TaskCapLeavesUnclaimed(t *testing.T) {
	drones := []models.DroneState{{DroneID: "solo", CruiseSpeedMPS: 3}}
	tasks := []models.Task{
		{ID: "t1", Priority: 0.9, Target: models.Point{X: 10}},
		{ID: "t2", Priority: 0.8, Target: models.Point{X: 20}},
		{ID: "t3", Priority: 0.7, Target: models.Point{X: 30}},
	}

	res := New(Config{Alpha: 1, Beta: 0.02, Rounds: 5, MaxTasksPerAgent: 1}, nil).Allocate(tasks, drones)

	assert.Len(t, res.Assignment["solo"], 1)
	assert.Len(t, res.Unclaimed, 2)
	assert.Equal(t, 2, res.Rounds, "second round has no eligible bidder")
}

func TestAllocate_SingleDroneTakesWholePool(t *testing.T) {
	drones := []models.DroneState{{DroneID: "solo", CruiseSpeedMPS: 3}}
	var tasks []models.Task
	for i := 0; i < 8; i++ {
		tasks = append(tasks, models.Task{
			ID:       fmt.Sprintf("t%d", i),
			Priority: 0.5,
			Target:   models.Point{X: float64(10 * (i + 1)), Y: float64(5 * i)},
		})
	}

	res := New(DefaultConfig(), nil).Allocate(tasks, drones)

	assert.Empty(t, res.Unclaimed)
	assert.Len(t, res.Assignment["solo"], 8)
	assert.Equal(t, 8, res.Rounds)
	assert.Equal(t, []int{7, 6, 5, 4, 3, 2, 1, 0}, res.PoolSizes)
}

func TestAllocate_NoDrones(t *testing.T) {
	tasks, _ := gridScenario()
	res := New(DefaultConfig(), nil).Allocate(tasks, nil)

	assert.Empty(t, res.Assignment)
	assert.Len(t, res.Unclaimed, len(tasks))
}

func TestMarginalGain(t *testing.T) {
	a := New(Config{Alpha: 1, Beta: 0.1, Rounds: 1, MaxTasksPerAgent: 10}, nil)
	drone := models.DroneState{DroneID: "d", CruiseSpeedMPS: 2}

	t.Run("empty route uses direct travel time", func(t *testing.T) {
		gain, idx := a.MarginalGain(drone, nil, models.Task{ID: "x", Priority: 0.5, Target: models.Point{X: 10}})
		assert.InDelta(t, 0.0, gain, 1e-12)
		assert.Equal(t, 0, idx)
	})

	t.Run("best insertion index on the way", func(t *testing.T) {
		route := []models.Task{{ID: "far", Priority: 1, Target: models.Point{X: 10}}}
		gain, idx := a.MarginalGain(drone, route, models.Task{ID: "mid", Priority: 0.5, Target: models.Point{X: 5}})
		assert.Equal(t, 0, idx)
		assert.InDelta(t, 0.5, gain, 1e-12)
	})

	t.Run("priority is clamped", func(t *testing.T) {
		gain, _ := a.MarginalGain(drone, nil, models.Task{ID: "hot", Priority: 3, Target: models.Point{}})
		assert.InDelta(t, 1.0, gain, 1e-12)
	})
}
