package mission

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/yourusername/uav-mission-core/internal/coverage"
	"github.com/yourusername/uav-mission-core/pkg/metrics"
	"github.com/yourusername/uav-mission-core/pkg/models"
)

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.TickInterval = time.Millisecond
	return cfg
}

func TestController_CompletesMission(t *testing.T) {
	defer goleak.VerifyNone(t)

	drones := []models.DroneState{{DroneID: "d1", BatteryRemainingWh: 50}}
	fleet := simFleet(drones)

	cov := coverage.DefaultConfig()
	cov.CellSizeM = 4
	cfg := fastConfig()
	r := NewRunner(cfg, Deps{
		Drones:    drones,
		Telemetry: fleet,
		Commander: fleet,
		Planner:   coverage.New(cov),
	})
	_, err := r.Prepare(context.Background(), []models.Task{{ID: "t", Target: models.Point{X: 5}}})
	require.NoError(t, err)

	var ticks atomic.Int32
	advance := ObserverFunc(func(_ context.Context, report metrics.TickReport) error {
		ticks.Add(1)
		fleet.Advance(0.1)
		return nil
	})
	failing := ObserverFunc(func(context.Context, metrics.TickReport) error {
		return errors.New("sink unavailable")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, NewController(r, cfg, failing, advance).Run(ctx))
	assert.True(t, r.Done())
	assert.Greater(t, ticks.Load(), int32(1))
	assert.Equal(t, 1, r.Tasks().Completed())
}

func TestController_MaxTicks(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := fastConfig()
	cfg.MaxTicks = 3
	r := newTestRunner(t, cfg, newFakeTelemetry(gridDrones()), newFakeCommander())

	var seen []int
	obs := ObserverFunc(func(_ context.Context, report metrics.TickReport) error {
		seen = append(seen, report.Tick)
		return nil
	})

	require.NoError(t, NewController(r, cfg, obs).Run(context.Background()))
	assert.Equal(t, []int{1, 2, 3}, seen)
	assert.False(t, r.Done())
}

func TestController_StopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := fastConfig()
	r := newTestRunner(t, cfg, newFakeTelemetry(gridDrones()), newFakeCommander())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- NewController(r, cfg).Run(ctx)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("controller did not stop")
	}
}

func TestController_StepSecondsOverridesInterval(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := fastConfig()
	cfg.MaxTicks = 1
	cfg.StepSeconds = 0.5
	fleet := simFleet(gridDrones())
	r := newTestRunner(t, cfg, fleet, fleet)

	ctrl := NewController(r, cfg)
	assert.Equal(t, 0.5, ctrl.dt)
	require.NoError(t, ctrl.Run(context.Background()))

	cfg.StepSeconds = 0
	assert.Equal(t, 0.001, NewController(r, cfg).dt)
}

func TestController_NotPrepared(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := NewRunner(fastConfig(), Deps{Drones: gridDrones()})
	err := NewController(r, fastConfig()).Run(context.Background())
	assert.ErrorIs(t, err, ErrNotPrepared)
}
