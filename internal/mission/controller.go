package mission

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/uav-mission-core/pkg/metrics"
)

// Controller 周期驱动 Runner，直到任务完成或 ctx 取消
type Controller struct {
	logger    *logrus.Logger
	runner    *Runner
	observers []Observer
	interval  time.Duration
	dt        float64
	maxTicks  int
}

// NewController 构造控制器
func NewController(runner *Runner, cfg Config, observers ...Observer) *Controller {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultConfig().TickInterval
	}

	dt := cfg.StepSeconds
	if dt <= 0 {
		dt = cfg.TickInterval.Seconds()
	}

	return &Controller{
		logger:    runner.logger,
		runner:    runner,
		observers: observers,
		interval:  cfg.TickInterval,
		dt:        dt,
		maxTicks:  cfg.MaxTicks,
	}
}

// Run 启动控制循环
//
// 单周期错误与观察者错误只记录日志，不中断循环；任务完成时返回 nil。
func (c *Controller) Run(ctx context.Context) error {
	c.logger.Infof("Starting mission controller (interval: %s)", c.interval)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for n := 1; ; n++ {
		report, err := c.runner.Tick(ctx, c.dt)
		if errors.Is(err, ErrNotPrepared) {
			return err
		}
		if err != nil {
			c.logger.Errorf("Tick failed: %v", err)
		}
		if report.Tick > 0 {
			c.publish(ctx, report)
		}

		if report.Done {
			c.logger.Infof("Mission %s completed after %d ticks", report.MissionID, report.Tick)
			return nil
		}
		if c.maxTicks > 0 && n >= c.maxTicks {
			c.logger.Warnf("Mission %s stopped after reaching max ticks (%d)", report.MissionID, c.maxTicks)
			return nil
		}

		select {
		case <-ctx.Done():
			c.logger.Info("Mission controller stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Controller) publish(ctx context.Context, report metrics.TickReport) {
	for _, o := range c.observers {
		if err := o.Observe(ctx, report); err != nil {
			c.logger.Errorf("Observer failed on tick %d: %v", report.Tick, err)
		}
	}
}
