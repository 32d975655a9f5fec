package scenario

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/uav-mission-core/pkg/models"
)

func writeScenario(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeScenario(t, `
name: field-7
home: {x: 0, y: -40, z: 0}
landing_zones:
  - {x: 20, y: 0, z: 0}
drones:
  - id: dr2
    start: {x: 10, y: 0, z: 0}
    battery_wh: 45
  - id: dr1
    start: {x: 0, y: 0, z: 0}
    home: {x: 5, y: 5, z: 0}
tasks:
  - id: A1
    priority: 0.9
    target: {x: 30, y: 30, z: 0}
  - id: A2
    priority: 0.2
    target: {x: -30, y: 30, z: 0}
obstacles:
  - position: {x: 15, y: 15, z: 0}
    velocity: {vx: 0.5, vy: 0, vz: 0}
    radius: 1.5
`)

	s, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "field-7", s.Name)
	require.Len(t, s.Drones, 2)
	assert.Equal(t, "dr1", s.Drones[0].ID)
	assert.Equal(t, models.Point{X: 5, Y: 5}, s.Drones[0].Home)
	assert.Equal(t, models.Point{X: 0, Y: -40}, s.Drones[1].Home)
	assert.Equal(t, 60.0, s.Drones[0].BatteryWh)
	assert.Equal(t, 45.0, s.Drones[1].BatteryWh)
	assert.Equal(t, "dr2", s.Drones[1].NodeName)
	assert.Equal(t, 0.5, s.Obstacles[0].Velocity.VX)

	want := []models.DroneState{
		{DroneID: "dr1", Position: models.Point{}, BatteryRemainingWh: 60, CruiseSpeedMPS: 5},
		{DroneID: "dr2", Position: models.Point{X: 10}, BatteryRemainingWh: 45, CruiseSpeedMPS: 5},
	}
	if diff := cmp.Diff(want, s.DroneStates()); diff != "" {
		t.Errorf("DroneStates mismatch (-want +got):\n%s", diff)
	}

	fleet := s.Fleet()
	assert.Equal(t, []string{"dr1", "dr2"}, fleet.IDs())
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"no drones", "tasks: []\n"},
		{"duplicate drone", "drones: [{id: a}, {id: a}]\n"},
		{"missing drone id", "drones: [{battery_wh: 10}]\n"},
		{"duplicate task", "drones: [{id: a}]\ntasks: [{id: t}, {id: t}]\n"},
		{"obstacle radius", "drones: [{id: a}]\nobstacles: [{radius: 0}]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeScenario(t, tt.content))
			assert.ErrorIs(t, err, ErrInvalidScenario)
		})
	}
}

func TestLoad_Malformed(t *testing.T) {
	_, err := Load(writeScenario(t, "drones: [\n"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidScenario)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadTasks(t *testing.T) {
	tasks, err := LoadTasks(writeScenario(t, "tasks: [{id: A1, priority: 0.5, target: {x: 1, y: 2, z: 0}}]\n"))
	require.NoError(t, err)
	assert.Equal(t, []models.Task{{ID: "A1", Priority: 0.5, Target: models.Point{X: 1, Y: 2}}}, tasks)

	_, err = LoadTasks(writeScenario(t, "drones: [{id: a}]\n"))
	assert.ErrorIs(t, err, ErrInvalidScenario)
}
